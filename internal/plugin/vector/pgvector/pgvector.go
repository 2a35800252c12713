package pgvector

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/agentmemory/memory-service/internal/config"
	registrymigrate "github.com/agentmemory/memory-service/internal/registry/migrate"
	registryvector "github.com/agentmemory/memory-service/internal/registry/vector"
	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

//go:embed db/pgvector-schema.sql
var pgvectorSchemaSQL string

// pgvectorMigrator implements migrate.Migrator for the pgvector schema.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.VectorMigrateAtStart || cfg.VectorType != "pgvector" || cfg.DBURL == "" || (cfg.DatastoreType != "" && cfg.DatastoreType != "postgres") {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return db.Exec(pgvectorSchemaSQL).Error
}

func init() {
	registryvector.Register(registryvector.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registryvector.VectorStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector: missing config in context")
	}
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector: %w", err)
	}
	return &PgvectorStore{db: db}, nil
}

func openDB(dbURL string) (*gorm.DB, error) {
	return openGormDB(dbURL)
}

// PgvectorStore implements VectorStore using the pgvector extension, with
// the full upsert payload mirrored into a jsonb column so Search can
// apply §4.D's eq/in/gte/lte predicates without a second round trip.
type PgvectorStore struct {
	db *gorm.DB
}

func (s *PgvectorStore) IsEnabled() bool { return true }
func (s *PgvectorStore) Name() string    { return "pgvector" }

func (s *PgvectorStore) Upsert(ctx context.Context, points []registryvector.UpsertPoint) error {
	for _, p := range points {
		vec := pgvec.NewVector(p.Embedding)
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("pgvector: marshal payload: %w", err)
		}
		userID, _ := p.Payload["user_id"].(string)
		if err := s.db.WithContext(ctx).Exec(`
			INSERT INTO memory_embeddings (memory_id, user_id, embedding, payload)
			VALUES (?, ?, ?::vector, ?::jsonb)
			ON CONFLICT (memory_id)
			DO UPDATE SET user_id = EXCLUDED.user_id, embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`,
			p.ID, userID, vec, string(payloadJSON),
		).Error; err != nil {
			return fmt.Errorf("pgvector: upsert: %w", err)
		}
	}
	return nil
}

func (s *PgvectorStore) Search(ctx context.Context, embedding []float32, userID string, filters []registryvector.Filter, limit int) ([]registryvector.SearchHit, error) {
	vec := pgvec.NewVector(embedding)
	where, args, err := filtersToWhere(filters)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT memory_id, payload, 1 - (embedding <=> ?::vector) AS score
		FROM memory_embeddings
		WHERE user_id = ?` + where + `
		ORDER BY embedding <=> ?::vector
		LIMIT ?`
	allArgs := append([]interface{}{vec, userID}, args...)
	allArgs = append(allArgs, vec, limit)

	rows, err := s.db.WithContext(ctx).Raw(query, allArgs...).Rows()
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	var hits []registryvector.SearchHit
	for rows.Next() {
		var id uuid.UUID
		var payloadJSON string
		var score float64
		if err := rows.Scan(&id, &payloadJSON, &score); err != nil {
			log.Error("pgvector scan error", "err", err)
			continue
		}
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			log.Error("pgvector payload decode error", "err", err)
			continue
		}
		hits = append(hits, registryvector.SearchHit{ID: id, Score: score, Payload: payload})
	}
	return hits, nil
}

func filtersToWhere(filters []registryvector.Filter) (string, []interface{}, error) {
	var clauses []string
	var args []interface{}
	for _, f := range filters {
		switch f.Op {
		case registryvector.FilterEq:
			clauses = append(clauses, "payload->>? = ?")
			args = append(args, f.Key, fmt.Sprintf("%v", f.Value))
		case registryvector.FilterIn:
			vals := make([]string, len(f.Values))
			for i, v := range f.Values {
				vals[i] = fmt.Sprintf("%v", v)
			}
			clauses = append(clauses, "payload->>? = ANY(?)")
			args = append(args, f.Key, vals)
		case registryvector.FilterGte:
			ts, err := filterTimestamp(f.Value)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, "(payload->>?)::timestamptz >= ?")
			args = append(args, f.Key, ts)
		case registryvector.FilterLte:
			ts, err := filterTimestamp(f.Value)
			if err != nil {
				return "", nil, err
			}
			clauses = append(clauses, "(payload->>?)::timestamptz <= ?")
			args = append(args, f.Key, ts)
		default:
			return "", nil, fmt.Errorf("pgvector: unsupported filter op %q", f.Op)
		}
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " AND " + strings.Join(clauses, " AND "), args, nil
}

func filterTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("pgvector: invalid timestamp filter value %q: %w", t, err)
		}
		return parsed, nil
	case int64:
		return time.Unix(t, 0).UTC(), nil
	case float64:
		return time.Unix(int64(t), 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("pgvector: unsupported range filter value type %T", v)
	}
}

func (s *PgvectorStore) Get(ctx context.Context, id uuid.UUID) (map[string]interface{}, error) {
	var payloadJSON string
	if err := s.db.WithContext(ctx).Raw(
		"SELECT payload FROM memory_embeddings WHERE memory_id = ?", id,
	).Scan(&payloadJSON).Error; err != nil {
		return nil, fmt.Errorf("pgvector: get: %w", err)
	}
	if payloadJSON == "" {
		return nil, fmt.Errorf("pgvector: point not found: %s", id)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, fmt.Errorf("pgvector: decode payload: %w", err)
	}
	return payload, nil
}

func (s *PgvectorStore) Delete(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Exec(
		"DELETE FROM memory_embeddings WHERE memory_id = ?", id,
	).Error
}
