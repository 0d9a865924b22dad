package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/kestrelworks/clipvault/internal/clipboard"
	"github.com/kestrelworks/clipvault/internal/storage"
)

// ErrBadIndex means an entry position is out of range.
var ErrBadIndex = errors.New("history position out of range")

// App owns the in-memory ordered history sequence and drives the storage
// coordinator. The store only serializes and deserializes entries; every
// mutation of the sequence happens here and is made durable by writing the
// whole sequence back.
type App struct {
	config  *Config
	store   *storage.Store
	log     *slog.Logger
	entries []*clipboard.Entry
}

// New creates the application: loads config, builds the store, and loads
// the persisted history into memory.
func New(logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := LoadConfig()
	if err != nil {
		logger.Warn("failed to load config, using defaults", "error", err)
		config = DefaultConfig()
	}
	return NewWithConfig(config, logger)
}

// NewWithConfig creates the application against an explicit configuration.
func NewWithConfig(config *Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.New(storage.Config{
		Root:                  config.CacheDir,
		HistorySize:           config.HistorySize,
		CacheFileSizeLimitMiB: config.CacheFileSizeLimitMiB,
	}, logger)
	if err != nil {
		return nil, err
	}

	entries, err := store.Read(context.Background())
	if err != nil {
		// A corrupt index should not brick the app: start empty, the
		// next write replaces it.
		logger.Error("failed to load history, starting empty", "error", err)
		entries = nil
	}

	return &App{
		config:  config,
		store:   store,
		log:     logger,
		entries: entries,
	}, nil
}

// Config returns the active configuration.
func (a *App) Config() *Config {
	return a.config
}

// Store returns the storage coordinator.
func (a *App) Store() *storage.Store {
	return a.store
}

// History returns the current ordered sequence, oldest first.
func (a *App) History() []*clipboard.Entry {
	return a.entries
}

// Reload re-reads the persisted history, replacing the in-memory sequence.
// Used when a watcher reports that another process rewrote the index.
func (a *App) Reload(ctx context.Context) error {
	entries, err := a.store.Read(ctx)
	if err != nil {
		return err
	}
	a.entries = entries
	return nil
}

// Append adds an entry at the most-recent end. A duplicate of an existing
// entry moves that entry to the end instead, keeping its favorite flag.
// The sequence is pruned and persisted.
func (a *App) Append(ctx context.Context, e *clipboard.Entry) error {
	for i, existing := range a.entries {
		if existing.Equal(e) {
			a.entries = append(append(a.entries[:i:i], a.entries[i+1:]...), existing)
			return a.persist(ctx)
		}
	}
	a.entries = storage.Prune(append(a.entries, e), a.config.HistorySize)
	return a.persist(ctx)
}

// Remove deletes the entry at the given position. Its blob is deleted too,
// unless another entry still shares the same content hash.
func (a *App) Remove(ctx context.Context, i int) error {
	if i < 0 || i >= len(a.entries) {
		return ErrBadIndex
	}
	removed := a.entries[i]
	a.entries = append(a.entries[:i:i], a.entries[i+1:]...)

	if !removed.IsText() && !a.hashReferenced(removed.ContentHash()) {
		a.store.DeleteBlob(ctx, removed)
	}
	return a.persist(ctx)
}

// ToggleFavorite flips the favorite flag of the entry at the given
// position and persists the change.
func (a *App) ToggleFavorite(ctx context.Context, i int) error {
	if i < 0 || i >= len(a.entries) {
		return ErrBadIndex
	}
	a.entries[i].SetFavorite(!a.entries[i].IsFavorite())
	return a.persist(ctx)
}

// Clear empties the history and wipes the on-disk index and blobs.
func (a *App) Clear(ctx context.Context) error {
	a.entries = nil
	return a.store.Clear(ctx)
}

// hashReferenced reports whether any live entry still uses the given
// content hash.
func (a *App) hashReferenced(hash string) bool {
	for _, e := range a.entries {
		if !e.IsText() && e.ContentHash() == hash {
			return true
		}
	}
	return false
}

func (a *App) persist(ctx context.Context) error {
	return a.store.Write(ctx, a.entries)
}
