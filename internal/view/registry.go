package view

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"spendwise/internal/baas"
	"spendwise/internal/cache"
	applog "spendwise/internal/log"
	"spendwise/internal/placeholder"
)

const (
	maxWorkspaces = 1000
	openTimeout   = 15 * time.Second
)

// Registry holds one Workspace per signed-in user. Idle workspaces are
// evicted after the TTL and their realtime subscriptions released.
type Registry struct {
	client baas.Client
	opts   WorkspaceOptions
	open   singleflight.Group
	cache  *cache.LRUCache[*Workspace]
	log    *applog.Logger
}

// NewRegistry creates a registry whose workspaces expire after ttl of
// inactivity.
func NewRegistry(client baas.Client, ttl time.Duration, opts WorkspaceOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.DefaultConfig())
	}
	if opts.Samples == nil {
		opts.Samples = placeholder.New()
	}
	r := &Registry{
		client: client,
		opts:   opts,
		log:    opts.Logger.WithComponent(applog.ComponentView),
	}
	r.cache = cache.NewLRUCache[*Workspace](maxWorkspaces, ttl).OnEvict(r.evicted)
	return r
}

func (r *Registry) evicted(userID string, w *Workspace) {
	if err := w.Close(); err != nil {
		r.log.Warn("Closing workspace failed", applog.FieldUserID, userID, applog.FieldError, err)
	}
	r.opts.Metrics.WorkspaceClosed()
	r.log.Debug("Workspace closed", applog.FieldUserID, userID)
}

// Register hands the workspace cache to the cleanup manager so idle
// workspaces are swept even when nobody asks for them.
func (r *Registry) Register(m *cache.Manager) {
	m.Register(r.cache)
}

// Get returns the user's workspace, opening it on first use. ctx must carry
// the user's access token. Concurrent first requests share one open.
func (r *Registry) Get(ctx context.Context, userID string) *Workspace {
	if w, ok := r.cache.Get(userID); ok {
		r.cache.Touch(userID)
		return w
	}

	v, _, _ := r.open.Do(userID, func() (any, error) {
		if w, ok := r.cache.Get(userID); ok {
			return w, nil
		}
		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), openTimeout)
		defer cancel()

		w := newWorkspace(r.client, userID, r.opts)
		w.open(octx, r.opts.Seed)
		r.cache.Set(userID, w)
		r.opts.Metrics.WorkspaceOpened()
		r.log.DebugContext(ctx, "Workspace opened", applog.FieldUserID, userID)
		return w, nil
	})
	return v.(*Workspace)
}

// Peek returns the workspace without opening one.
func (r *Registry) Peek(userID string) (*Workspace, bool) {
	return r.cache.Get(userID)
}

// Close drops the user's workspace, typically on sign-out.
func (r *Registry) Close(userID string) {
	r.cache.Delete(userID)
}

// CloseAll releases every workspace on shutdown.
func (r *Registry) CloseAll() {
	r.cache.Purge()
}

// Len reports how many workspaces are held.
func (r *Registry) Len() int {
	return r.cache.Size()
}
