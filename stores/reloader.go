package stores

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/oarkflow/permission"
	"github.com/oarkflow/permission/utils"
)

// ReloadSubscriber receives the freshly built engine after a definition
// changed in the store.
type ReloadSubscriber interface {
	OnReload(ctx context.Context, def *Definition, engine *permission.Engine) error
}

type ReloadSubscriberFunc func(ctx context.Context, def *Definition, engine *permission.Engine) error

func (f ReloadSubscriberFunc) OnReload(ctx context.Context, def *Definition, engine *permission.Engine) error {
	return f(ctx, def, engine)
}

// Reloader watches a definition store and rebuilds engines when documents
// change. Each rebuild constructs a complete engine from the stored config
// and publishes it whole, so readers switch between fully built engines and
// never see a half-applied document. Change detection is by checksum.
type Reloader struct {
	store        DefinitionStore
	pollInterval time.Duration
	engineOpts   []permission.Option
	notifyCh     chan string
	stopCh       chan struct{}
	subscribers  map[string][]ReloadSubscriber
	engines      map[string]*permission.Engine
	checksums    map[string]string
	mu           sync.RWMutex
	started      bool
	wg           sync.WaitGroup
}

type ReloaderOption func(*Reloader)

func WithPollInterval(interval time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// WithEngineOptions forwards options to every engine the reloader builds.
func WithEngineOptions(opts ...permission.Option) ReloaderOption {
	return func(r *Reloader) {
		r.engineOpts = append(r.engineOpts, opts...)
	}
}

func NewReloader(store DefinitionStore, opts ...ReloaderOption) (*Reloader, error) {
	if store == nil {
		return nil, fmt.Errorf("definition store is required")
	}
	r := &Reloader{
		store:        store,
		pollInterval: 30 * time.Second,
		notifyCh:     make(chan string, 1024),
		stopCh:       make(chan struct{}),
		subscribers:  make(map[string][]ReloadSubscriber),
		engines:      make(map[string]*permission.Engine),
		checksums:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Reloader) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case name := <-r.notifyCh:
				if name == "" {
					continue
				}
				if err := r.reload(ctx, name); err != nil {
					log.Printf("definition reload failed for %s: %v", name, err)
				}
			case <-ticker.C:
				r.pollAll(ctx)
			}
		}
	}()
}

func (r *Reloader) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = false
	r.mu.Unlock()

	close(r.stopCh)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Notify queues a reload for one definition without waiting for the next
// poll tick. Drops the request when the queue is full.
func (r *Reloader) Notify(name string) {
	if name == "" {
		return
	}
	select {
	case r.notifyCh <- name:
	default:
	}
}

// Subscribe registers for rebuilds of definitions matching the pattern.
// Patterns support '*' wildcards; an empty pattern subscribes to every
// definition.
func (r *Reloader) Subscribe(pattern string, sub ReloadSubscriber) {
	if sub == nil {
		return
	}
	if pattern == "" {
		pattern = "*"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers[pattern] = append(r.subscribers[pattern], sub)
}

// Engine returns the engine most recently built for the definition.
func (r *Reloader) Engine(name string) (*permission.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

func (r *Reloader) pollAll(ctx context.Context) {
	names, err := r.store.List(ctx)
	if err != nil {
		log.Printf("definition list failed: %v", err)
		return
	}
	for _, name := range names {
		if err := r.reload(ctx, name); err != nil {
			log.Printf("definition reload failed for %s: %v", name, err)
		}
	}
}

func (r *Reloader) reload(ctx context.Context, name string) error {
	def, err := r.store.Get(ctx, name)
	if err != nil {
		return err
	}

	r.mu.RLock()
	unchanged := r.checksums[name] == def.Checksum
	r.mu.RUnlock()
	if unchanged {
		return nil
	}

	engine, err := permission.NewEngineFromConfig(def.Config, r.engineOpts...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.engines[name] = engine
	r.checksums[name] = def.Checksum
	r.mu.Unlock()

	for _, sub := range r.collectSubscribers(name) {
		if err := sub.OnReload(ctx, def, engine); err != nil {
			log.Printf("reload subscriber error for %s: %v", name, err)
		}
	}
	return nil
}

func (r *Reloader) collectSubscribers(name string) []ReloadSubscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()
	patterns := make([]string, 0, len(r.subscribers))
	for pattern := range r.subscribers {
		patterns = append(patterns, pattern)
	}
	sort.Strings(patterns)
	subs := make([]ReloadSubscriber, 0, 4)
	for _, pattern := range patterns {
		if utils.MatchName(name, pattern) {
			subs = append(subs, r.subscribers[pattern]...)
		}
	}
	return subs
}
