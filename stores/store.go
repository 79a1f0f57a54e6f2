package stores

import (
	"context"
	"errors"
	"time"

	"github.com/oarkflow/permission"
)

// ErrNotFound is returned when a store holds no document under the name.
var ErrNotFound = errors.New("definition not found")

// Definition is one named, versioned config document. Revision counts up
// from 1 on every Save and keeps counting across Delete; Checksum is the
// sha256 of the canonical JSON payload, so two stores holding the same
// document agree on it.
type Definition struct {
	Name      string             `json:"name"`
	Config    *permission.Config `json:"config"`
	Revision  int                `json:"revision"`
	Checksum  string             `json:"checksum"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// defaultHistoryLimit caps History when the caller passes no limit.
const defaultHistoryLimit = 100

// DefinitionStore persists named config documents with per-name history.
// Save replaces the current document and appends it to the history; Delete
// removes only the current document, history stays append-only. History
// returns the newest limit revisions in ascending order, defaulting to
// defaultHistoryLimit when limit is zero or negative. The engine never
// talks to a store: the CLI push/pull commands and the Reloader do.
type DefinitionStore interface {
	Save(ctx context.Context, name string, cfg *permission.Config) (*Definition, error)
	Get(ctx context.Context, name string) (*Definition, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) error
	History(ctx context.Context, name string, limit int) ([]*Definition, error)
}

func historyLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return limit
}
