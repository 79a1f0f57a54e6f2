package permission

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/oarkflow/permission/logger"
)

// Option configures an Engine during New.
type Option func(*Engine) error

// WithLogger installs a structured logger. The default is the null logger,
// so the library stays silent unless asked otherwise.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) error {
		if l == nil {
			return fmt.Errorf("nil logger")
		}
		e.log = l
		return nil
	}
}

// WithTraceIDFunc replaces the correlation ID generator used on lifecycle
// log lines.
func WithTraceIDFunc(f logger.TraceIDFunc) Option {
	return func(e *Engine) error {
		if f == nil {
			return fmt.Errorf("nil trace id func")
		}
		e.traceIDFn = f
		return nil
	}
}

// WithDecisionCache enables a ristretto cache over IsAllowed outcomes with
// the given TTL. The cache is cleared on every successful Configure, so
// enabling it never changes results, only recomputation frequency.
func WithDecisionCache(numCounters, maxCost, bufferItems int64, ttl time.Duration) Option {
	return func(e *Engine) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("decision cache: %w", err)
		}
		e.cache = cache
		e.cacheTTL = ttl
		return nil
	}
}

func defaultTraceID() string { return uuid.NewString() }
