package vmstore

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/vmstore/docstore"
)

// clearConcurrency bounds the collections cleared in parallel by ClearAll.
const clearConcurrency = 8

// Registry is the set of collection names bound over one Conn. It is shared
// by every Store on that Conn and used by ClearAll.
type Registry struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Add records name. It reports whether name was new.
func (r *Registry) Add(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return false
	}
	r.names[name] = struct{}{}
	return true
}

// Names returns the recorded names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.names))
	for n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of recorded names.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

// normalizeIndex turns keys without a direction into ascending keys, so a
// bare field name and an explicit {field: 1} index are the same request.
func normalizeIndex(spec docstore.IndexSpec) docstore.IndexSpec {
	keys := make([]docstore.IndexKey, len(spec.Keys))
	for i, k := range spec.Keys {
		if k.Order == 0 {
			k.Order = docstore.Ascending
		}
		keys[i] = k
	}
	spec.Keys = keys
	return spec
}

// ensureIndexes requests every index once. Failures are logged and dropped:
// provisioning is advisory and never blocks reads or writes.
func ensureIndexes(ctx context.Context, coll docstore.Collection, specs []docstore.IndexSpec, logger *Logger) int {
	created := 0
	for _, spec := range specs {
		spec = normalizeIndex(spec)
		name, err := coll.CreateIndex(ctx, spec)
		if name == "" {
			name = spec.Name()
		}
		logger.LogIndex(ctx, coll.Name(), name, err)
		if err == nil {
			created++
		}
	}
	return created
}

// provision runs ensureIndexes in the background of sess, bounded by the
// configured index timeout and the throttle's background slots.
func (c *Conn) provision(sess *session, coll docstore.Collection, specs []docstore.IndexSpec) {
	if len(specs) == 0 {
		return
	}

	c.mu.RLock()
	if c.sess != sess {
		c.mu.RUnlock()
		return
	}
	sess.bg.Add(1)
	c.mu.RUnlock()

	go func() {
		defer sess.bg.Done()

		ctx, cancel := context.WithTimeout(sess.ctx, c.cfg.IndexTimeout())
		defer cancel()

		if err := c.opts.throttle.AcquireBackground(ctx); err != nil {
			c.opts.logger.LogIndex(ctx, coll.Name(), "", err)
			return
		}
		defer c.opts.throttle.ReleaseBackground()

		ensureIndexes(ctx, coll, specs, c.opts.logger)
	}()
}

// clear deletes every document of one collection.
func (c *Conn) clear(ctx context.Context, coll docstore.Collection) error {
	release, err := c.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	_, err = coll.DeleteMany(ctx, docstore.Filter{})
	return err
}

// ClearAll deletes every document in every collection in the registry,
// concurrently. It returns the first error.
func (c *Conn) ClearAll(ctx context.Context) error {
	client, err := c.Client()
	if err != nil {
		return err
	}

	names := c.registry.Names()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(clearConcurrency)
	for _, name := range names {
		coll := client.Collection(name)
		g.Go(func() error {
			return c.clear(gctx, coll)
		})
	}

	err = g.Wait()
	c.opts.logger.LogClear(ctx, len(names), err)
	return err
}
