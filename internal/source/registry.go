// Package source manages the registry of configured library sources:
// the Subsonic server, Jellyfin servers and local folder trees. The
// registry persists across restarts and resolves the fetcher set handed
// to each sync run.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/store"
)

// Factory builds a fetcher for one configured source.
type Factory func(domain.SourceRef) (domain.Fetcher, error)

// JellyfinFactory builds a fetcher for one Jellyfin server.
type JellyfinFactory func(domain.JellyfinServer) (domain.JellyfinFetcher, error)

// Registry is the persisted set of configured sources. Mutations take
// effect on the next sync run; local folder changes additionally
// invalidate the merged song cache immediately.
type Registry struct {
	store     *store.Store
	logger    *slog.Logger
	factory   Factory
	jfFactory JellyfinFactory

	mu      sync.Mutex
	sources []domain.SourceRef
	servers []domain.JellyfinServer
	dirty   map[string]bool // Local source id -> fs change since last scan

	watcher *fsnotify.Watcher
	watched map[string]string // Path -> source id
}

func NewRegistry(st *store.Store, factory Factory, jfFactory JellyfinFactory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:     st,
		logger:    logger,
		factory:   factory,
		jfFactory: jfFactory,
		dirty:     make(map[string]bool),
		watched:   make(map[string]string),
	}
	if sources, err := store.Load[[]domain.SourceRef](st, store.KeySources); err == nil {
		r.sources = sources
	}
	if servers, err := store.Load[[]domain.JellyfinServer](st, store.KeyJellyfinServers); err == nil {
		r.servers = servers
	}
	return r
}

// Snapshot returns copies of the configured sources and servers.
func (r *Registry) Snapshot() ([]domain.SourceRef, []domain.JellyfinServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sources := make([]domain.SourceRef, len(r.sources))
	copy(sources, r.sources)
	servers := make([]domain.JellyfinServer, len(r.servers))
	copy(servers, r.servers)
	return sources, servers
}

// AddSource registers a remote source. The caller supplies the id; for
// a Subsonic server that is its configured server id.
func (r *Registry) AddSource(ref domain.SourceRef) error {
	if ref.ID == "" {
		return errors.New("source id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if s.ID == ref.ID {
			return fmt.Errorf("source %q already registered", ref.ID)
		}
	}
	if ref.AddedAt == 0 {
		ref.AddedAt = time.Now().UnixMilli()
	}
	r.sources = append(r.sources, ref)
	return r.persistSources()
}

// AddLocalFolder registers a local folder tree as a source and drops
// the merged song cache so the next read does not serve a view that
// silently excludes it.
func (r *Registry) AddLocalFolder(path, name string) (domain.SourceRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.SourceRef{}, err
	}
	if !info.IsDir() {
		return domain.SourceRef{}, fmt.Errorf("%s is not a directory", path)
	}

	ref := domain.SourceRef{
		Kind:     domain.SourceLocal,
		ID:       uuid.NewString(),
		Name:     name,
		TreePath: path,
		AddedAt:  time.Now().UnixMilli(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if s.Kind == domain.SourceLocal && s.TreePath == path {
			return domain.SourceRef{}, fmt.Errorf("folder %s already registered", path)
		}
	}
	r.sources = append(r.sources, ref)
	if err := r.persistSources(); err != nil {
		return domain.SourceRef{}, err
	}

	r.store.Invalidate(store.KeySongsAll, store.KeySearchIndex)
	r.watchLocked(path, ref.ID)
	r.logger.Info("local folder added", "id", ref.ID, "path", path)
	return ref, nil
}

// RemoveLocalFolder unregisters a local folder source.
func (r *Registry) RemoveLocalFolder(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, s := range r.sources {
		if s.ID == id && s.Kind == domain.SourceLocal {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", domain.ErrSourceNotFound, id)
	}

	removed := r.sources[idx]
	r.sources = append(r.sources[:idx], r.sources[idx+1:]...)
	if err := r.persistSources(); err != nil {
		return err
	}

	r.store.Invalidate(store.KeySongsAll, store.KeySearchIndex)
	delete(r.dirty, id)
	if r.watcher != nil {
		r.watcher.Remove(removed.TreePath)
		delete(r.watched, removed.TreePath)
	}
	r.logger.Info("local folder removed", "id", id, "path", removed.TreePath)
	return nil
}

// AddJellyfinServer registers a Jellyfin server.
func (r *Registry) AddJellyfinServer(server domain.JellyfinServer) error {
	if server.ID == "" {
		return errors.New("server id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.servers {
		if s.ID == server.ID {
			return fmt.Errorf("jellyfin server %q already registered", server.ID)
		}
	}
	r.servers = append(r.servers, server)
	return r.persistServers()
}

// RemoveJellyfinServer unregisters a Jellyfin server and drops the
// cached Jellyfin registry and merged song view that still carry its
// entries.
func (r *Registry) RemoveJellyfinServer(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.servers {
		if s.ID == id {
			r.servers = append(r.servers[:i], r.servers[i+1:]...)
			if err := r.persistServers(); err != nil {
				return err
			}
			r.store.Invalidate(store.KeyJellyfinLibrary, store.KeySongsAll, store.KeySearchIndex)
			r.logger.Info("jellyfin server removed", "id", id)
			return nil
		}
	}
	return fmt.Errorf("%w: %q", domain.ErrSourceNotFound, id)
}

// Fetchers resolves the current registry into live fetchers. A source
// whose factory fails is skipped for this run, not removed.
func (r *Registry) Fetchers() ([]domain.Fetcher, []domain.JellyfinFetcher) {
	sources, servers := r.Snapshot()

	var fetchers []domain.Fetcher
	if r.factory != nil {
		for _, ref := range sources {
			f, err := r.factory(ref)
			if err != nil {
				r.logger.Warn("source unavailable", "id", ref.ID, "kind", string(ref.Kind), "error", err)
				continue
			}
			fetchers = append(fetchers, f)
		}
	}

	var jellyfin []domain.JellyfinFetcher
	if r.jfFactory != nil {
		for _, server := range servers {
			jf, err := r.jfFactory(server)
			if err != nil {
				r.logger.Warn("jellyfin server unavailable", "id", server.ID, "error", err)
				continue
			}
			jellyfin = append(jellyfin, jf)
		}
	}
	return fetchers, jellyfin
}

// MarkScanned records a completed scan for a local source and clears
// its dirty flag.
func (r *Registry) MarkScanned(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dirty, id)
	for i := range r.sources {
		if r.sources[i].ID == id {
			r.sources[i].LastScanned = time.Now().UnixMilli()
			r.persistSources()
			return
		}
	}
}

// Dirty reports whether a local source saw filesystem changes since its
// last scan. Delta sync uses this as the local change signature input.
func (r *Registry) Dirty(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty[id]
}

// Watch starts the filesystem watcher over all registered local folders
// and blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.watcher = watcher
	for _, s := range r.sources {
		if s.Kind == domain.SourceLocal {
			r.watchLocked(s.TreePath, s.ID)
		}
	}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.watcher = nil
		r.mu.Unlock()
		watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			r.markDirty(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("folder watch error", "error", err)
		}
	}
}

func (r *Registry) watchLocked(path, id string) {
	if r.watcher == nil {
		return
	}
	if err := r.watcher.Add(path); err != nil {
		r.logger.Warn("folder watch failed", "path", path, "error", err)
		return
	}
	r.watched[path] = id
}

func (r *Registry) markDirty(eventPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, id := range r.watched {
		if eventPath == path || hasPathPrefix(eventPath, path) {
			if !r.dirty[id] {
				r.dirty[id] = true
				r.logger.Debug("local folder changed", "id", id, "path", eventPath)
			}
		}
	}
}

func hasPathPrefix(p, dir string) bool {
	return len(p) > len(dir) && p[:len(dir)] == dir && p[len(dir)] == os.PathSeparator
}

// Callers hold the lock.
func (r *Registry) persistSources() error {
	return r.store.Put(store.KeySources, r.sources)
}

func (r *Registry) persistServers() error {
	return r.store.Put(store.KeyJellyfinServers, r.servers)
}
