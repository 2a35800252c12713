// Package postgres is the default attachstore backend: attachment content
// lives as a row in the same relational database as memories (§4.B).
package postgres

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agentmemory/memory-service/internal/config"
	"github.com/agentmemory/memory-service/internal/dataencryption"
	"github.com/agentmemory/memory-service/internal/model"
	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	registryattachstore.Register(registryattachstore.Plugin{
		Name:   "postgres",
		Loader: load,
	})
}

func load(ctx context.Context, _ registrystore.MemoryStore) (registryattachstore.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("attachstore/postgres: missing config in context")
	}
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("attachstore/postgres: %w", err)
	}
	enc := dataencryption.FromContext(ctx)
	if cfg.EncryptionAttachmentsDisabled {
		enc = nil
	}
	return &Store{db: db, enc: enc}, nil
}

// Store applies the same optional encrypt-then-base64 convention as
// internal/plugin/store/postgres for Memory.Content, reusing the same
// dataencryption.Service instance so both content columns are readable
// under whichever provider ("plain", "dek", "vault", "awskms") the
// deployment configured.
type Store struct {
	db  *gorm.DB
	enc *dataencryption.Service
}

const previewLength = 200

func (s *Store) encrypt(plain string) (string, error) {
	if s.enc == nil {
		return plain, nil
	}
	ciphertext, err := s.enc.Encrypt([]byte(plain))
	if err != nil {
		return "", fmt.Errorf("attachstore/postgres: encrypt content: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) decrypt(stored string) (string, error) {
	if s.enc == nil {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("attachstore/postgres: decode content: %w", err)
	}
	plain, err := s.enc.Decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("attachstore/postgres: decrypt content: %w", err)
	}
	return string(plain), nil
}

func (s *Store) Create(ctx context.Context, id *uuid.UUID, content string, maxSize int64) (*registryattachstore.Attachment, error) {
	if int64(len(content)) > maxSize {
		return nil, &registrystore.PayloadTooLargeError{Limit: maxSize, Size: int64(len(content))}
	}
	stored, err := s.encrypt(content)
	if err != nil {
		return nil, err
	}
	rec := model.Attachment{Content: stored}
	if id != nil {
		rec.ID = *id
	} else {
		rec.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, &registrystore.ConflictError{Message: fmt.Sprintf("attachment %s already exists", rec.ID), Code: "attachment_exists"}
		}
		return nil, fmt.Errorf("attachstore/postgres: create: %w", err)
	}
	rec.Content = content
	return toAttachment(rec), nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*registryattachstore.Attachment, error) {
	var rec model.Attachment
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &registrystore.NotFoundError{Resource: "attachment", ID: id.String()}
		}
		return nil, fmt.Errorf("attachstore/postgres: get: %w", err)
	}
	content, err := s.decrypt(rec.Content)
	if err != nil {
		return nil, err
	}
	rec.Content = content
	return toAttachment(rec), nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, content string, maxSize int64) (*registryattachstore.Attachment, error) {
	if int64(len(content)) > maxSize {
		return nil, &registrystore.PayloadTooLargeError{Limit: maxSize, Size: int64(len(content))}
	}
	stored, err := s.encrypt(content)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&model.Attachment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"content": stored, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, fmt.Errorf("attachstore/postgres: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "attachment", ID: id.String()}
	}
	return s.Get(ctx, id)
}

// Delete is idempotent: deleting an already-deleted or nonexistent
// attachment is not an error (§4.B).
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Delete(&model.Attachment{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("attachstore/postgres: delete: %w", err)
	}
	return nil
}

func (s *Store) Filter(ctx context.Context, filter registrystore.AttachmentFilter) (*registrystore.AttachmentPage, error) {
	if err := registrystore.ValidatePagination(filter.Page, filter.Size, 100); err != nil {
		return nil, err
	}
	if err := registrystore.ValidateSort(filter.SortColumn, []string{"created_at", "updated_at", "size"}, filter.SortDirection); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(&model.Attachment{})
	// Same tradeoff as internal/plugin/store/postgres.FilterMemories:
	// content-text search and size-based sort only run at the SQL layer
	// when the column holds plaintext; with encryption configured the
	// ciphertext can't be pattern-matched or length-compared in
	// Postgres, so both degrade to an in-process pass below.
	if filter.SearchQuery != "" && s.enc == nil {
		q = q.Where("content ILIKE ? OR id::text ILIKE ?", "%"+filter.SearchQuery+"%", "%"+filter.SearchQuery+"%")
	}
	if filter.FromDate != nil {
		q = q.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		q = q.Where("created_at <= ?", *filter.ToDate)
	}

	sortCol := "created_at"
	switch filter.SortColumn {
	case "updated_at":
		sortCol = "updated_at"
	case "size":
		if s.enc == nil {
			sortCol = "length(content)"
		}
	}
	dir := "desc"
	if strings.EqualFold(filter.SortDirection, "asc") {
		dir = "asc"
	}

	page := filter.Page
	size := filter.Size

	if s.enc == nil {
		var total int64
		if err := q.Count(&total).Error; err != nil {
			return nil, fmt.Errorf("attachstore/postgres: count: %w", err)
		}
		var recs []model.Attachment
		if err := q.Order(fmt.Sprintf("%s %s", sortCol, dir)).
			Offset((page - 1) * size).Limit(size).
			Find(&recs).Error; err != nil {
			return nil, fmt.Errorf("attachstore/postgres: list: %w", err)
		}
		data := make([]registrystore.AttachmentPreview, len(recs))
		for i, r := range recs {
			data[i] = preview(r)
		}
		return &registrystore.AttachmentPage{Data: data, Page: page, Size: size, TotalCount: total}, nil
	}

	var all []model.Attachment
	if err := q.Order(fmt.Sprintf("%s %s", sortCol, dir)).Find(&all).Error; err != nil {
		return nil, fmt.Errorf("attachstore/postgres: list: %w", err)
	}
	previews := make([]registrystore.AttachmentPreview, 0, len(all))
	for _, r := range all {
		content, err := s.decrypt(r.Content)
		if err != nil {
			return nil, err
		}
		r.Content = content
		if filter.SearchQuery != "" {
			q := strings.ToLower(filter.SearchQuery)
			matchesContent := strings.Contains(strings.ToLower(content), q)
			matchesID := strings.Contains(strings.ToLower(r.ID.String()), q)
			if !matchesContent && !matchesID {
				continue
			}
		}
		previews = append(previews, preview(r))
	}
	if filter.SortColumn == "size" {
		sortBySize(previews, dir == "asc")
	}
	total := int64(len(previews))
	start := (page - 1) * size
	if start > len(previews) {
		start = len(previews)
	}
	end := start + size
	if end > len(previews) {
		end = len(previews)
	}
	return &registrystore.AttachmentPage{Data: previews[start:end], Page: page, Size: size, TotalCount: total}, nil
}

func sortBySize(data []registrystore.AttachmentPreview, asc bool) {
	sort.Slice(data, func(i, j int) bool {
		if asc {
			return data[i].FullLength < data[j].FullLength
		}
		return data[i].FullLength > data[j].FullLength
	})
}

func preview(r model.Attachment) registrystore.AttachmentPreview {
	runes := []rune(r.Content)
	p := r.Content
	if len(runes) > previewLength {
		p = string(runes[:previewLength])
	}
	return registrystore.AttachmentPreview{
		ID:         r.ID,
		Preview:    p,
		FullLength: len(runes),
		CreatedAt:  r.CreatedAt.Unix(),
		UpdatedAt:  r.UpdatedAt.Unix(),
	}
}

func toAttachment(r model.Attachment) *registryattachstore.Attachment {
	return &registryattachstore.Attachment{
		ID:        r.ID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
