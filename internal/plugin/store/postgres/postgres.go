package postgres

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentmemory/memory-service/internal/config"
	"github.com/agentmemory/memory-service/internal/dataencryption"
	"github.com/agentmemory/memory-service/internal/model"
	registrymigrate "github.com/agentmemory/memory-service/internal/registry/migrate"
	registrystore "github.com/agentmemory/memory-service/internal/registry/store"
	"github.com/agentmemory/memory-service/internal/security"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "postgres",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

func load(ctx context.Context) (registrystore.MemoryStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("postgres: missing config in context")
	}
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
	if security.DBPoolMaxConnections != nil {
		security.DBPoolMaxConnections.Set(float64(cfg.DBMaxOpenConns))
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if security.DBPoolOpenConnections != nil {
					security.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()

	enc := dataencryption.FromContext(ctx)
	if cfg.EncryptionDBDisabled {
		enc = nil
	}
	return &Store{db: db, cfg: cfg, enc: enc}, nil
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.DatastoreType != "" && cfg.DatastoreType != "postgres" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := gorm.Open(postgres.Open(cfg.DBURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("migration: failed to connect: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if _, err := sqlDB.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migration: failed to execute schema: %w", err)
	}
	log.Info("Postgres schema migration complete")
	return nil
}

// Store implements registrystore.MemoryStore using GORM + PostgreSQL.
// Memory.Content is passed through the optional dataencryption.Service so
// the "dek"/"vault"/"awskms" providers encrypt it at rest (§7);
// internal/plugin/attachstore/postgres applies the same Service to
// Attachment.Content on its own.
type Store struct {
	db  *gorm.DB
	cfg *config.Config
	enc *dataencryption.Service
}

func (s *Store) encryptContent(plain string) (string, error) {
	if s.enc == nil {
		return plain, nil
	}
	ciphertext, err := s.enc.Encrypt([]byte(plain))
	if err != nil {
		return "", fmt.Errorf("postgres: encrypt content: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Store) decryptContent(stored string) (string, error) {
	if s.enc == nil {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("postgres: decode content: %w", err)
	}
	plain, err := s.enc.Decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("postgres: decrypt content: %w", err)
	}
	return string(plain), nil
}

// --- Users & Apps -------------------------------------------------------

func (s *Store) GetOrCreateUserAndApp(ctx context.Context, userID string, appName string) (*model.User, *model.App, error) {
	user, app, err := s.resolveUserAndApp(ctx, userID, appName)
	if err != nil {
		return nil, nil, err
	}
	if !app.IsActive {
		return user, app, &registrystore.ForbiddenError{Message: fmt.Sprintf("app %q is paused", appName)}
	}
	return user, app, nil
}

// ResolveUserAndApp is the retrieval-path counterpart of
// GetOrCreateUserAndApp: it performs the identical get-or-create but never
// rejects a paused app.
func (s *Store) ResolveUserAndApp(ctx context.Context, userID string, appName string) (*model.User, *model.App, error) {
	return s.resolveUserAndApp(ctx, userID, appName)
}

func (s *Store) resolveUserAndApp(ctx context.Context, userID string, appName string) (*model.User, *model.App, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Where(model.User{UserID: userID}).
		FirstOrCreate(&user, model.User{ID: uuid.New(), UserID: userID}).Error
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: get or create user: %w", err)
	}

	var app model.App
	err = s.db.WithContext(ctx).
		Where(model.App{OwnerUserID: user.ID, Name: appName}).
		Attrs(model.App{ID: uuid.New(), IsActive: true}).
		FirstOrCreate(&app).Error
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: get or create app: %w", err)
	}
	return &user, &app, nil
}

func (s *Store) GetApp(ctx context.Context, appID uuid.UUID) (*model.App, error) {
	var app model.App
	if err := s.db.WithContext(ctx).First(&app, "id = ?", appID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "app", ID: appID.String()}
		}
		return nil, fmt.Errorf("postgres: get app: %w", err)
	}
	return &app, nil
}

func (s *Store) SetAppActive(ctx context.Context, appID uuid.UUID, active bool) error {
	res := s.db.WithContext(ctx).Model(&model.App{}).Where("id = ?", appID).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("postgres: set app active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "app", ID: appID.String()}
	}
	return nil
}

// --- Memories ------------------------------------------------------------

func (s *Store) InsertMemory(ctx context.Context, m *model.Memory, categories []string) error {
	encrypted, err := s.encryptContent(m.Content)
	if err != nil {
		return err
	}
	plain := m.Content
	m.Content = encrypted
	if m.State == "" {
		m.State = model.MemoryStateActive
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		m.Content = plain
		return fmt.Errorf("postgres: insert memory: %w", err)
	}
	m.Content = plain
	if len(categories) > 0 {
		if err := s.assignCategories(ctx, m.ID, categories); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) assignCategories(ctx context.Context, memoryID uuid.UUID, names []string) error {
	cats, err := s.EnsureCategories(ctx, names)
	if err != nil {
		return err
	}
	if len(cats) == 0 {
		return nil
	}
	rows := make([]model.MemoryCategory, len(cats))
	for i, c := range cats {
		rows[i] = model.MemoryCategory{MemoryID: memoryID, CategoryID: c.ID}
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (s *Store) UpdateMemoryContent(ctx context.Context, memoryID uuid.UUID, content string, metadata map[string]interface{}, categories []string) (*model.Memory, error) {
	encrypted, err := s.encryptContent(content)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"content":    encrypted,
		"updated_at": time.Now(),
	}
	if metadata != nil {
		updates["metadata"] = metadata
	}
	res := s.db.WithContext(ctx).Model(&model.Memory{}).Where("id = ?", memoryID).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("postgres: update memory content: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, &registrystore.NotFoundError{Resource: "memory", ID: memoryID.String()}
	}
	if categories != nil {
		if err := s.db.WithContext(ctx).Where("memory_id = ?", memoryID).Delete(&model.MemoryCategory{}).Error; err != nil {
			return nil, fmt.Errorf("postgres: clear categories: %w", err)
		}
		if err := s.assignCategories(ctx, memoryID, categories); err != nil {
			return nil, err
		}
	}
	var m model.Memory
	if err := s.db.WithContext(ctx).First(&m, "id = ?", memoryID).Error; err != nil {
		return nil, fmt.Errorf("postgres: reload memory: %w", err)
	}
	m.Content, err = s.decryptContent(m.Content)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ReactivateMemory(ctx context.Context, m *model.Memory, categories []string) error {
	encrypted, err := s.encryptContent(m.Content)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&model.Memory{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
		"content":    encrypted,
		"state":      model.MemoryStateActive,
		"metadata":   m.Metadata,
		"updated_at": time.Now(),
		"deleted_at": nil,
	})
	if res.Error != nil {
		return fmt.Errorf("postgres: reactivate memory: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "memory", ID: m.ID.String()}
	}
	if categories != nil {
		if err := s.db.WithContext(ctx).Where("memory_id = ?", m.ID).Delete(&model.MemoryCategory{}).Error; err != nil {
			return fmt.Errorf("postgres: clear categories: %w", err)
		}
		if err := s.assignCategories(ctx, m.ID, categories); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SoftDeleteMemory(ctx context.Context, memoryID uuid.UUID, changedBy string) error {
	return s.SetMemoryState(ctx, memoryID, model.MemoryStateDeleted, changedBy)
}

func (s *Store) SetMemoryState(ctx context.Context, memoryID uuid.UUID, state model.MemoryState, changedBy string) error {
	var current model.Memory
	if err := s.db.WithContext(ctx).Select("state").First(&current, "id = ?", memoryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &registrystore.NotFoundError{Resource: "memory", ID: memoryID.String()}
		}
		return fmt.Errorf("postgres: load memory state: %w", err)
	}
	updates := map[string]interface{}{"state": state, "updated_at": time.Now()}
	if state == model.MemoryStateDeleted {
		updates["deleted_at"] = time.Now()
	}
	if err := s.db.WithContext(ctx).Model(&model.Memory{}).Where("id = ?", memoryID).Updates(updates).Error; err != nil {
		return fmt.Errorf("postgres: set memory state: %w", err)
	}
	oldState := current.State
	return s.RecordHistory(ctx, memoryID, &oldState, state, changedBy)
}

func (s *Store) RecordHistory(ctx context.Context, memoryID uuid.UUID, oldState *model.MemoryState, newState model.MemoryState, changedBy string) error {
	h := model.MemoryStatusHistory{
		ID:        uuid.New(),
		MemoryID:  memoryID,
		OldState:  oldState,
		NewState:  newState,
		ChangedBy: changedBy,
	}
	return s.db.WithContext(ctx).Create(&h).Error
}

func (s *Store) RecordAccessLog(ctx context.Context, memoryID uuid.UUID, appID uuid.UUID, accessType model.AccessType, metadata map[string]interface{}) error {
	l := model.MemoryAccessLog{
		ID:         uuid.New(),
		MemoryID:   memoryID,
		AppID:      appID,
		AccessType: accessType,
		Metadata:   metadata,
	}
	return s.db.WithContext(ctx).Create(&l).Error
}

func (s *Store) ListAccessLogs(ctx context.Context, userID string, filter registrystore.AccessLogFilter) (*registrystore.AccessLogPage, error) {
	q := s.db.WithContext(ctx).Model(&model.MemoryAccessLog{}).
		Joins("JOIN memories ON memories.id = memory_access_logs.memory_id").
		Joins("JOIN users ON users.id = memories.user_id").
		Where("users.user_id = ?", userID)
	if filter.MemoryID != nil {
		q = q.Where("memory_access_logs.memory_id = ?", *filter.MemoryID)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.Size
	if size < 1 {
		size = 20
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("postgres: count access logs: %w", err)
	}
	var rows []model.MemoryAccessLog
	if err := q.Order("memory_access_logs.created_at desc").
		Offset((page - 1) * size).Limit(size).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("postgres: list access logs: %w", err)
	}
	return &registrystore.AccessLogPage{Data: rows, Page: page, Size: size, TotalCount: total}, nil
}

func (s *Store) memoryExtras(ctx context.Context, memories []model.Memory) ([]registrystore.MemoryWithExtras, error) {
	out := make([]registrystore.MemoryWithExtras, len(memories))
	for i, m := range memories {
		content, err := s.decryptContent(m.Content)
		if err != nil {
			return nil, err
		}
		m.Content = content

		var app model.App
		appName := ""
		if err := s.db.WithContext(ctx).Select("name").First(&app, "id = ?", m.AppID).Error; err == nil {
			appName = app.Name
		}

		var cats []model.Category
		_ = s.db.WithContext(ctx).
			Joins("JOIN memory_categories mc ON mc.category_id = categories.id").
			Where("mc.memory_id = ?", m.ID).
			Find(&cats).Error

		out[i] = registrystore.MemoryWithExtras{
			Memory:     m,
			AppName:    appName,
			Categories: model.SortedCategoryNames(cats),
		}
	}
	return out, nil
}

func (s *Store) GetMemory(ctx context.Context, userID string, memoryID uuid.UUID) (*registrystore.MemoryWithExtras, error) {
	var m model.Memory
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = memories.user_id").
		Where("memories.id = ? AND users.user_id = ?", memoryID, userID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "memory", ID: memoryID.String()}
		}
		return nil, fmt.Errorf("postgres: get memory: %w", err)
	}
	extras, err := s.memoryExtras(ctx, []model.Memory{m})
	if err != nil {
		return nil, err
	}
	return &extras[0], nil
}

func (s *Store) GetMemoriesByIDs(ctx context.Context, userID string, ids []uuid.UUID) ([]model.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []model.Memory
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = memories.user_id").
		Where("users.user_id = ? AND memories.id IN ?", userID, ids).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: get memories by ids: %w", err)
	}
	for i := range rows {
		content, err := s.decryptContent(rows[i].Content)
		if err != nil {
			return nil, err
		}
		rows[i].Content = content
	}
	return rows, nil
}

func (s *Store) ListActiveMemoryIDs(ctx context.Context, userID string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&model.Memory{}).
		Joins("JOIN users ON users.id = memories.user_id").
		Where("users.user_id = ? AND memories.state = ?", userID, model.MemoryStateActive).
		Pluck("memories.id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: list active memory ids: %w", err)
	}
	return ids, nil
}

func (s *Store) FilterMemories(ctx context.Context, userID string, filter registrystore.MemoryFilter) (*registrystore.MemoryPage, error) {
	if err := registrystore.ValidatePagination(filter.Page, filter.Size, 0); err != nil {
		return nil, err
	}
	if err := registrystore.ValidateSort(filter.SortColumn, []string{"created_at", "updated_at"}, filter.SortDirection); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(&model.Memory{}).
		Joins("JOIN users ON users.id = memories.user_id").
		Where("users.user_id = ?", userID)

	if !filter.ShowArchived {
		q = q.Where("memories.state IN ?", []model.MemoryState{model.MemoryStateActive, model.MemoryStatePaused})
	}
	if len(filter.AppIDs) > 0 {
		q = q.Where("memories.app_id IN ?", filter.AppIDs)
	}
	if len(filter.CategoryIDs) > 0 {
		q = q.Where("memories.id IN (SELECT memory_id FROM memory_categories WHERE category_id IN ?)", filter.CategoryIDs)
	}
	if filter.FromDate != nil {
		q = q.Where("memories.created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		q = q.Where("memories.created_at <= ?", *filter.ToDate)
	}
	// Content search against plaintext only works when storage isn't
	// encrypted; with encryption enabled the ciphertext is filtered
	// after decrypt below instead of at the SQL layer.
	if filter.SearchQuery != "" && s.enc == nil {
		q = q.Where("memories.content ILIKE ?", "%"+filter.SearchQuery+"%")
	}

	sortCol := "memories.created_at"
	if filter.SortColumn == "updated_at" {
		sortCol = "memories.updated_at"
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
			return nil, fmt.Errorf("postgres: count memories: %w", err)
		}
		var rows []model.Memory
		if err := q.Order(fmt.Sprintf("%s %s", sortCol, dir)).
			Offset((page - 1) * size).Limit(size).
			Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("postgres: filter memories: %w", err)
		}
		extras, err := s.memoryExtras(ctx, rows)
		if err != nil {
			return nil, err
		}
		return &registrystore.MemoryPage{Data: extras, Page: page, Size: size, TotalCount: total}, nil
	}

	// Encrypted content path: fetch all matching rows, decrypt, filter
	// by search query in-process, then paginate.
	var all []model.Memory
	if err := q.Order(fmt.Sprintf("%s %s", sortCol, dir)).Find(&all).Error; err != nil {
		return nil, fmt.Errorf("postgres: filter memories: %w", err)
	}
	extras, err := s.memoryExtras(ctx, all)
	if err != nil {
		return nil, err
	}
	if filter.SearchQuery != "" {
		q := strings.ToLower(filter.SearchQuery)
		filtered := extras[:0]
		for _, e := range extras {
			if strings.Contains(strings.ToLower(e.Content), q) {
				filtered = append(filtered, e)
			}
		}
		extras = filtered
	}
	total := int64(len(extras))
	start := (page - 1) * size
	if start > len(extras) {
		start = len(extras)
	}
	end := start + size
	if end > len(extras) {
		end = len(extras)
	}
	return &registrystore.MemoryPage{Data: extras[start:end], Page: page, Size: size, TotalCount: total}, nil
}

// RelatedMemories orders candidates by category-overlap count, then
// recency, at the fixed page size of 5 (§4.G).
func (s *Store) RelatedMemories(ctx context.Context, userID string, q registrystore.RelatedMemoriesQuery) ([]registrystore.MemoryWithExtras, error) {
	const pageSize = 5
	page := q.Page
	if page < 1 {
		page = 1
	}

	var catIDs []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&model.MemoryCategory{}).
		Where("memory_id = ?", q.MemoryID).Pluck("category_id", &catIDs).Error; err != nil {
		return nil, fmt.Errorf("postgres: load memory categories: %w", err)
	}
	if len(catIDs) == 0 {
		return nil, nil
	}

	var rows []model.Memory
	err := s.db.WithContext(ctx).
		Joins("JOIN users ON users.id = memories.user_id").
		Joins("JOIN memory_categories mc ON mc.memory_id = memories.id").
		Where("users.user_id = ? AND memories.state = ? AND memories.id != ? AND mc.category_id IN ?",
			userID, model.MemoryStateActive, q.MemoryID, catIDs).
		Group("memories.id").
		Order("COUNT(mc.category_id) DESC, memories.created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: related memories: %w", err)
	}
	return s.memoryExtras(ctx, rows)
}

func (s *Store) bulkUpdateState(ctx context.Context, userID string, ids []uuid.UUID, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool, newState model.MemoryState, changedBy string) (int64, error) {
	if !all && len(ids) == 0 && len(categoryIDs) == 0 && appID == nil {
		return 0, &registrystore.ValidationError{Field: "ids", Message: "at least one of ids, category_ids, app_id, or all=true is required"}
	}
	q := s.db.WithContext(ctx).Model(&model.Memory{}).
		Joins("JOIN users ON users.id = memories.user_id").
		Where("users.user_id = ? AND memories.state != ?", userID, model.MemoryStateDeleted)
	if !all {
		if len(ids) > 0 {
			q = q.Where("memories.id IN ?", ids)
		}
		if len(categoryIDs) > 0 {
			q = q.Where("memories.id IN (SELECT memory_id FROM memory_categories WHERE category_id IN ?)", categoryIDs)
		}
		if appID != nil {
			q = q.Where("memories.app_id = ?", *appID)
		}
	}

	var affectedIDs []uuid.UUID
	if err := q.Pluck("memories.id", &affectedIDs).Error; err != nil {
		return 0, fmt.Errorf("postgres: scope bulk update: %w", err)
	}
	if len(affectedIDs) == 0 {
		return 0, nil
	}

	updates := map[string]interface{}{"state": newState, "updated_at": time.Now()}
	if newState == model.MemoryStateDeleted {
		updates["deleted_at"] = time.Now()
	}
	res := s.db.WithContext(ctx).Model(&model.Memory{}).Where("id IN ?", affectedIDs).Updates(updates)
	if res.Error != nil {
		return 0, fmt.Errorf("postgres: bulk update state: %w", res.Error)
	}
	for _, id := range affectedIDs {
		if err := s.RecordHistory(ctx, id, nil, newState, changedBy); err != nil {
			return 0, err
		}
	}
	return res.RowsAffected, nil
}

func (s *Store) PauseMemories(ctx context.Context, userID string, ids []uuid.UUID, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error) {
	return s.bulkUpdateState(ctx, userID, ids, categoryIDs, appID, all, model.MemoryStatePaused, "system")
}

func (s *Store) UnpauseMemories(ctx context.Context, userID string, ids []uuid.UUID, categoryIDs []uuid.UUID, appID *uuid.UUID, all bool) (int64, error) {
	return s.bulkUpdateState(ctx, userID, ids, categoryIDs, appID, all, model.MemoryStateActive, "system")
}

func (s *Store) ArchiveMemories(ctx context.Context, userID string, ids []uuid.UUID) (int64, error) {
	return s.bulkUpdateState(ctx, userID, ids, nil, nil, false, model.MemoryStateArchived, "system")
}

// --- Categories ------------------------------------------------------------

func (s *Store) EnsureCategories(ctx context.Context, names []string) ([]model.Category, error) {
	out := make([]model.Category, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var cat model.Category
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
			Where(model.Category{Name: name}).
			FirstOrCreate(&cat, model.Category{ID: uuid.New(), Name: name}).Error
		if err != nil {
			return nil, fmt.Errorf("postgres: ensure category %q: %w", name, err)
		}
		out = append(out, cat)
	}
	return out, nil
}

// --- Access-control rules ----------------------------------------------

func (s *Store) ListRulesForApp(ctx context.Context, appID uuid.UUID) ([]model.AccessControlRule, error) {
	var rules []model.AccessControlRule
	err := s.db.WithContext(ctx).
		Where("subject_type = ? AND subject_id = ?", "app", appID).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("postgres: list rules for app: %w", err)
	}
	return rules, nil
}

// --- Config persistence --------------------------------------------------

type configRow struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (configRow) TableName() string { return "config_kv" }

func (s *Store) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var row configRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("postgres: get config value: %w", err)
	}
	return row.Value, true, nil
}

func (s *Store) SetConfigValue(ctx context.Context, key string, value string) error {
	row := configRow{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
}

// --- Tasks -----------------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, taskType string, taskBody map[string]interface{}) error {
	t := model.Task{ID: uuid.New(), TaskType: taskType, TaskBody: taskBody}
	return s.db.WithContext(ctx).Create(&t).Error
}

func (s *Store) ClaimReadyTasks(ctx context.Context, limit int) ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("retry_at <= ?", time.Now()).
			Order("retry_at ASC").Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&tasks).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, len(tasks))
		for i, t := range tasks {
			ids[i] = t.ID
		}
		// Push retry_at forward so a crashed worker doesn't wedge the
		// task forever; FailTask/DeleteTask supersede this on completion.
		return tx.Model(&model.Task{}).Where("id IN ?", ids).
			Update("retry_at", time.Now().Add(5*time.Minute)).Error
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: claim ready tasks: %w", err)
	}
	return tasks, nil
}

func (s *Store) DeleteTask(ctx context.Context, taskID uuid.UUID) error {
	return s.db.WithContext(ctx).Delete(&model.Task{}, "id = ?", taskID).Error
}

func (s *Store) FailTask(ctx context.Context, taskID uuid.UUID, errMsg string, retryDelay time.Duration) error {
	return s.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", taskID).Updates(map[string]interface{}{
		"last_error":  errMsg,
		"retry_at":    time.Now().Add(retryDelay),
		"retry_count": gorm.Expr("retry_count + 1"),
	}).Error
}

// --- Transactions ------------------------------------------------------

func (s *Store) WithinTransaction(ctx context.Context, fn func(tx registrystore.MemoryStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := &Store{db: tx, cfg: s.cfg, enc: s.enc}
		return fn(txStore)
	})
}

var _ registrystore.MemoryStore = (*Store)(nil)
