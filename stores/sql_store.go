package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/permission"
)

// SQLDefinitionStore persists definitions in SQL (squealx). Works against
// sqlite and postgres; timestamps are written by the application so no
// driver-specific defaults are needed.
type SQLDefinitionStore struct {
	db *squealx.DB
}

func NewSQLDefinitionStore(db *squealx.DB) *SQLDefinitionStore {
	return &SQLDefinitionStore{db: db}
}

func (s *SQLDefinitionStore) Save(ctx context.Context, name string, cfg *permission.Config) (*Definition, error) {
	payload, checksum, err := encodeConfig(cfg)
	if err != nil {
		return nil, err
	}

	rev, err := s.lastRevision(ctx, name)
	if err != nil {
		return nil, err
	}
	rev++
	now := time.Now()

	q := `INSERT INTO definitions(name, revision, payload, checksum, updated_at)
	      VALUES(:name, :revision, :payload, :checksum, :updated_at)
	      ON CONFLICT(name) DO UPDATE SET revision=excluded.revision, payload=excluded.payload, checksum=excluded.checksum, updated_at=excluded.updated_at`
	args := map[string]any{
		"name":       name,
		"revision":   rev,
		"payload":    string(payload),
		"checksum":   checksum,
		"updated_at": now,
	}
	if _, err := s.db.NamedExecContext(ctx, q, args); err != nil {
		return nil, err
	}

	// append-only snapshot of every saved revision
	hq := `INSERT INTO definition_history(name, revision, payload, checksum, created_at) VALUES(:name, :revision, :payload, :checksum, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, hq, map[string]any{
		"name":       name,
		"revision":   rev,
		"payload":    string(payload),
		"checksum":   checksum,
		"created_at": now,
	}); err != nil {
		return nil, err
	}

	stored, err := decodeConfig(payload)
	if err != nil {
		return nil, err
	}
	return &Definition{Name: name, Config: stored, Revision: rev, Checksum: checksum, UpdatedAt: now}, nil
}

// lastRevision reads the highest recorded revision from the history, so a
// name whose current document was deleted keeps counting where it left off.
func (s *SQLDefinitionStore) lastRevision(ctx context.Context, name string) (int, error) {
	q := `SELECT COALESCE(MAX(revision), 0) FROM definition_history WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return 0, err
	}
	defer r.Close()
	rev := 0
	if r.Next() {
		if err := r.Scan(&rev); err != nil {
			return 0, err
		}
	}
	return rev, nil
}

func (s *SQLDefinitionStore) Get(ctx context.Context, name string) (*Definition, error) {
	q := `SELECT revision, payload, checksum, updated_at FROM definitions WHERE name = :name`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, ErrNotFound
	}
	var (
		rev               int
		payload, checksum string
		updatedRaw        any
	)
	if err := r.Scan(&rev, &payload, &checksum, &updatedRaw); err != nil {
		return nil, err
	}
	cfg, err := decodeConfig([]byte(payload))
	if err != nil {
		return nil, err
	}
	return &Definition{
		Name:      name,
		Config:    cfg,
		Revision:  rev,
		Checksum:  checksum,
		UpdatedAt: scanTime(updatedRaw),
	}, nil
}

func (s *SQLDefinitionStore) List(ctx context.Context) ([]string, error) {
	q := `SELECT name FROM definitions ORDER BY name ASC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	names := make([]string, 0)
	for r.Next() {
		var name string
		if err := r.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func (s *SQLDefinitionStore) Delete(ctx context.Context, name string) error {
	q := `DELETE FROM definitions WHERE name = :name`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"name": name})
	return err
}

func (s *SQLDefinitionStore) History(ctx context.Context, name string, limit int) ([]*Definition, error) {
	// newest revisions first so the limit keeps the recent ones
	q := `SELECT revision, payload, checksum, created_at FROM definition_history WHERE name = :name ORDER BY revision DESC LIMIT :limit`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"name": name, "limit": historyLimit(limit)})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*Definition, 0)
	for r.Next() {
		var (
			rev               int
			payload, checksum string
			createdRaw        any
		)
		if err := r.Scan(&rev, &payload, &checksum, &createdRaw); err != nil {
			return nil, err
		}
		cfg, err := decodeConfig([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, &Definition{
			Name:      name,
			Config:    cfg,
			Revision:  rev,
			Checksum:  checksum,
			UpdatedAt: scanTime(createdRaw),
		})
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
