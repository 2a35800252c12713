// Package s3 is an attachstore backend for deployments that want the
// relational database to stay small: attachment bytes go to an S3 object
// keyed by UUID, while a thin row (id, size, timestamps) stays in
// Postgres to support list/filter/search without scanning the bucket.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agentmemory/memory-service/internal/config"
	registryattachstore "github.com/agentmemory/memory-service/internal/registry/attachstore"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	registryattachstore.Register(registryattachstore.Plugin{
		Name:   "s3",
		Loader: load,
	})
}

func load(ctx context.Context, _ registrystore.MemoryStore) (registryattachstore.Store, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("attachstore/s3: S3_BUCKET is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("attachstore/s3: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("attachstore/s3: %w", err)
	}
	if err := db.AutoMigrate(&indexRecord{}); err != nil {
		return nil, fmt.Errorf("attachstore/s3: auto-migrate attachment_index: %w", err)
	}
	return &Store{
		client: client,
		db:     db,
		bucket: cfg.S3Bucket,
		prefix: strings.Trim(strings.TrimSpace(cfg.S3Prefix), "/"),
	}, nil
}

type Store struct {
	client *s3.Client
	db     *gorm.DB
	bucket string
	prefix string
}

// indexRecord is the Postgres-side shadow row used for listing/filtering
// without round-tripping to S3 for every page.
type indexRecord struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	FullLength int       `gorm:"column:full_length;not null"`
	Preview    string    `gorm:"column:preview;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;default:now()"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null;default:now()"`
}

func (indexRecord) TableName() string { return "attachment_index" }

const previewLength = 200

func (s *Store) key(id uuid.UUID) string {
	if s.prefix != "" {
		return s.prefix + "/" + id.String()
	}
	return id.String()
}

func preview(content string) (string, int) {
	runes := []rune(content)
	if len(runes) > previewLength {
		return string(runes[:previewLength]), len(runes)
	}
	return content, len(runes)
}

func (s *Store) Create(ctx context.Context, id *uuid.UUID, content string, maxSize int64) (*registryattachstore.Attachment, error) {
	if int64(len(content)) > maxSize {
		return nil, &registrystore.PayloadTooLargeError{Limit: maxSize, Size: int64(len(content))}
	}
	attID := uuid.New()
	if id != nil {
		attID = *id
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           aws.String(s.key(attID)),
		Body:          bytes.NewReader([]byte(content)),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	}, func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
	}); err != nil {
		return nil, fmt.Errorf("attachstore/s3: put object: %w", err)
	}

	p, full := preview(content)
	rec := indexRecord{ID: attID, Preview: p, FullLength: full}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("attachstore/s3: index insert: %w", err)
	}
	return &registryattachstore.Attachment{ID: attID, Content: content, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*registryattachstore.Attachment, error) {
	var rec indexRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &registrystore.NotFoundError{Resource: "attachment", ID: id.String()}
		}
		return nil, fmt.Errorf("attachstore/s3: get: %w", err)
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: aws.String(s.key(id))})
	if err != nil {
		return nil, fmt.Errorf("attachstore/s3: get object: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("attachstore/s3: read object: %w", err)
	}
	return &registryattachstore.Attachment{ID: id, Content: string(body), CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}, nil
}

func (s *Store) Update(ctx context.Context, id uuid.UUID, content string, maxSize int64) (*registryattachstore.Attachment, error) {
	if int64(len(content)) > maxSize {
		return nil, &registrystore.PayloadTooLargeError{Limit: maxSize, Size: int64(len(content))}
	}
	var rec indexRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &registrystore.NotFoundError{Resource: "attachment", ID: id.String()}
		}
		return nil, fmt.Errorf("attachstore/s3: get: %w", err)
	}
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           aws.String(s.key(id)),
		Body:          bytes.NewReader([]byte(content)),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("text/plain; charset=utf-8"),
	}, func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, v4.SwapComputePayloadSHA256ForUnsignedPayloadMiddleware)
	}); err != nil {
		return nil, fmt.Errorf("attachstore/s3: put object: %w", err)
	}
	p, full := preview(content)
	if err := s.db.WithContext(ctx).Model(&indexRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{"preview": p, "full_length": full, "updated_at": time.Now()}).Error; err != nil {
		return nil, fmt.Errorf("attachstore/s3: index update: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete is idempotent: both the object delete and the index row delete
// tolerate an already-missing attachment.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: aws.String(s.key(id))}); err != nil {
		return fmt.Errorf("attachstore/s3: delete object: %w", err)
	}
	if err := s.db.WithContext(ctx).Delete(&indexRecord{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("attachstore/s3: index delete: %w", err)
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

	q := s.db.WithContext(ctx).Model(&indexRecord{})
	if filter.SearchQuery != "" {
		q = q.Where("preview ILIKE ? OR id::text ILIKE ?", "%"+filter.SearchQuery+"%", "%"+filter.SearchQuery+"%")
	}
	if filter.FromDate != nil {
		q = q.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		q = q.Where("created_at <= ?", *filter.ToDate)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("attachstore/s3: count: %w", err)
	}

	sortCol := "created_at"
	switch filter.SortColumn {
	case "updated_at":
		sortCol = "updated_at"
	case "size":
		sortCol = "full_length"
	}
	dir := "desc"
	if strings.EqualFold(filter.SortDirection, "asc") {
		dir = "asc"
	}

	page := filter.Page
	size := filter.Size

	var recs []indexRecord
	if err := q.Order(fmt.Sprintf("%s %s", sortCol, dir)).
		Offset((page - 1) * size).Limit(size).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("attachstore/s3: list: %w", err)
	}

	data := make([]registrystore.AttachmentPreview, len(recs))
	for i, r := range recs {
		data[i] = registrystore.AttachmentPreview{
			ID:         r.ID,
			Preview:    r.Preview,
			FullLength: r.FullLength,
			CreatedAt:  r.CreatedAt.Unix(),
			UpdatedAt:  r.UpdatedAt.Unix(),
		}
	}
	return &registrystore.AttachmentPage{Data: data, Page: page, Size: size, TotalCount: total}, nil
}
