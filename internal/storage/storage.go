package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kestrelworks/clipvault/internal/clipboard"
)

const (
	// IndexFileName is the history index document inside the cache root.
	IndexFileName = "registry.txt"

	// BackupSuffix is appended to the index path when an oversized index
	// is rotated aside. The backup is never read back.
	BackupSuffix = "~"

	// FilePermissions for the index and blob files
	FilePermissions = 0600

	// DirPermissions for the cache root
	DirPermissions = 0700
)

var (
	ErrNoRoot         = errors.New("no cache root configured")
	ErrBadLimit       = errors.New("history and size limits must be positive")
	ErrIndexCorrupt   = errors.New("history index is not valid JSON")
	ErrBlobUnreadable = errors.New("blob file for history entry is unreadable")
	ErrBadBlobRef     = errors.New("history record references an invalid blob name")
)

// Config holds the storage layout and limits. It is passed explicitly at
// construction so tests can point the store at a throwaway directory.
type Config struct {
	// Root is the cache directory holding the index and the blob files.
	Root string

	// HistorySize is the maximum number of non-favorite entries kept by
	// pruning. Favorites never count against it.
	HistorySize int

	// CacheFileSizeLimitMiB is the index size threshold, in MiB, above
	// which the index is rotated to the backup path and history resets.
	CacheFileSizeLimitMiB int
}

// Store coordinates the on-disk history: one JSON index document plus one
// content-addressed blob file per distinct binary payload.
//
// The store assumes at most one logical writer at a time; the index is
// additionally guarded by an advisory lock file so a second process fails
// fast instead of interleaving writes. Reads are not fenced against
// concurrent blob writes: content-addressed names make duplicate blob
// writes harmless races.
type Store struct {
	cfg Config
	log *slog.Logger
}

// New creates a Store for the given layout. The logger receives every
// operational failure, including the ones swallowed by design
// (best-effort blob deletes). A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Root == "" {
		return nil, ErrNoRoot
	}
	if cfg.HistorySize <= 0 || cfg.CacheFileSizeLimitMiB <= 0 {
		return nil, ErrBadLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Root = filepath.Clean(cfg.Root)
	return &Store{cfg: cfg, log: logger}, nil
}

// Root returns the cache directory the store operates on.
func (s *Store) Root() string {
	return s.cfg.Root
}

// IndexPath returns the full path of the history index document.
func (s *Store) IndexPath() string {
	return filepath.Join(s.cfg.Root, IndexFileName)
}

// BackupPath returns the rotation target for an oversized index.
func (s *Store) BackupPath() string {
	return s.IndexPath() + BackupSuffix
}

// BlobPath returns the content-addressed file path for the entry's payload.
func (s *Store) BlobPath(e *clipboard.Entry) string {
	return filepath.Join(s.cfg.Root, e.ContentHash())
}

// ensureRoot creates the cache directory if it does not exist yet.
func (s *Store) ensureRoot() error {
	return os.MkdirAll(s.cfg.Root, DirPermissions)
}

// Write persists the full ordered history. Text entries are stored inline
// in the index; binary entries are written to content-addressed blob files
// first (skipped when a blob with the same hash already exists), then the
// index document is replaced atomically via temp file and rename.
func (s *Store) Write(ctx context.Context, entries []*clipboard.Entry) error {
	if err := s.ensureRoot(); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}

	lock, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer lock.release()

	records := make([]clipboard.Record, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsText() {
			if err := s.WriteBlob(ctx, e); err != nil {
				return err
			}
		}
		records = append(records, e.ToRecord())
	}

	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode history index: %w", err)
	}

	// Write to a temp file in the same directory, then rename over the
	// index so readers only ever observe a complete document.
	tempPath := s.IndexPath() + ".tmp"
	if err := os.WriteFile(tempPath, data, FilePermissions); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tempPath, s.IndexPath()); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// WriteAsync submits a Write without waiting for durability. Failures are
// reported on the store's logger only; callers that need a completion
// signal use Write directly.
func (s *Store) WriteAsync(entries []*clipboard.Entry) {
	go func() {
		if err := s.Write(context.Background(), entries); err != nil {
			s.log.Error("async history write failed", "error", err)
		}
	}()
}

// Read loads the history from disk, resolves blob payloads, applies the
// pruning policy and returns the ordered result.
//
// A missing index is an empty history, not an error, and creates no file.
// An index at or above the configured size limit is rotated to the backup
// path (replacing any previous backup) and an empty history is returned;
// nothing is salvaged from the oversized document. Parse failures and blob
// read failures abort the whole load with an error, which is also logged.
// Pruning only shapes the returned slice; it neither deletes blobs nor
// rewrites the index, the caller's next Write makes it durable.
func (s *Store) Read(ctx context.Context) ([]*clipboard.Entry, error) {
	info, err := os.Stat(s.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		s.log.Error("stat history index", "path", s.IndexPath(), "error", err)
		return nil, fmt.Errorf("stat index: %w", err)
	}

	if info.Size() >= int64(s.cfg.CacheFileSizeLimitMiB)*1024*1024 {
		s.log.Warn("history index over size limit, rotating to backup",
			"size", info.Size(), "limit_mib", s.cfg.CacheFileSizeLimitMiB)
		if err := os.Rename(s.IndexPath(), s.BackupPath()); err != nil {
			s.log.Error("rotate oversized index", "error", err)
			return nil, fmt.Errorf("rotate oversized index: %w", err)
		}
		return nil, nil
	}

	data, err := os.ReadFile(s.IndexPath())
	if err != nil {
		s.log.Error("read history index", "path", s.IndexPath(), "error", err)
		return nil, fmt.Errorf("read index: %w", err)
	}

	var records []clipboard.Record
	if err := json.Unmarshal(data, &records); err != nil {
		s.log.Error("parse history index", "path", s.IndexPath(), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}

	entries := make([]*clipboard.Entry, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := s.resolveRecord(rec)
		if err != nil {
			// One unreadable blob aborts the whole batch.
			s.log.Error("resolve history record", "mimetype", rec.MimeType, "error", err)
			return nil, err
		}
		entries = append(entries, e)
	}

	return Prune(entries, s.cfg.HistorySize), nil
}

// resolveRecord turns one index record back into an entry, loading the
// referenced blob for binary records.
func (s *Store) resolveRecord(rec clipboard.Record) (*clipboard.Entry, error) {
	if clipboard.IsTextMime(rec.MimeType) {
		return clipboard.FromRecord(rec)
	}

	// The reference is a bare content hash; anything that could escape
	// the cache root is rejected outright.
	if rec.Contents == "" || strings.ContainsAny(rec.Contents, `/\`) || strings.Contains(rec.Contents, "..") {
		return nil, fmt.Errorf("%w: %q", ErrBadBlobRef, rec.Contents)
	}

	data, err := os.ReadFile(filepath.Join(s.cfg.Root, rec.Contents))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBlobUnreadable, rec.Contents, err)
	}
	e := clipboard.NewBinary(rec.MimeType, data)
	e.SetFavorite(rec.Favorite)
	return e, nil
}

// Prune drops the oldest non-favorite entries until at most limit
// non-favorites remain. Favorites are kept unconditionally and never count
// against the limit. Relative order is preserved.
func Prune(entries []*clipboard.Entry, limit int) []*clipboard.Entry {
	nonFavorites := 0
	for _, e := range entries {
		if !e.IsFavorite() {
			nonFavorites++
		}
	}
	drop := nonFavorites - limit
	if drop <= 0 {
		return entries
	}

	kept := make([]*clipboard.Entry, 0, len(entries)-drop)
	for _, e := range entries {
		if drop > 0 && !e.IsFavorite() {
			drop--
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// BlobExists reports whether the entry's content-addressed blob file is
// already on disk.
func (s *Store) BlobExists(e *clipboard.Entry) bool {
	_, err := os.Stat(s.BlobPath(e))
	return err == nil
}

// WriteBlob stores the entry's payload under its content hash. Writing is
// idempotent: if a blob with the same hash already exists the payload is
// identical by construction and nothing happens, which also gives
// de-duplication across entries sharing bytes.
func (s *Store) WriteBlob(ctx context.Context, e *clipboard.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.BlobExists(e) {
		return nil
	}
	if err := s.ensureRoot(); err != nil {
		return fmt.Errorf("create cache root: %w", err)
	}

	// Same temp-and-rename dance as the index: a concurrent reader must
	// never observe a half-written blob.
	blobPath := s.BlobPath(e)
	tempPath := blobPath + ".tmp"
	if err := os.WriteFile(tempPath, e.Data(), FilePermissions); err != nil {
		return fmt.Errorf("write blob %s: %w", e.ContentHash(), err)
	}
	if err := os.Rename(tempPath, blobPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("commit blob %s: %w", e.ContentHash(), err)
	}
	return nil
}

// EntryImagePath makes sure the entry's blob exists on disk (writing it if
// missing) and returns its path for the presentation layer to render.
func (s *Store) EntryImagePath(ctx context.Context, e *clipboard.Entry) (string, error) {
	if err := s.WriteBlob(ctx, e); err != nil {
		return "", err
	}
	return s.BlobPath(e), nil
}

// DeleteBlob removes the entry's blob file. Deletion is best-effort: a
// failure is logged and swallowed so the caller's higher-level delete
// still succeeds, at the cost of tolerating a dangling index reference.
// Callers must not delete a blob while another live entry shares its hash.
func (s *Store) DeleteBlob(ctx context.Context, e *clipboard.Entry) {
	if ctx.Err() != nil {
		return
	}
	if err := os.Remove(s.BlobPath(e)); err != nil && !os.IsNotExist(err) {
		s.log.Warn("delete blob failed", "hash", e.ContentHash(), "error", err)
	}
}

// Clear wipes the history: every blob referenced by the current index, the
// index itself and any backup. Blob removals are best-effort; the first
// index/backup removal failure is returned after attempting the rest.
func (s *Store) Clear(ctx context.Context) error {
	if data, err := os.ReadFile(s.IndexPath()); err == nil {
		var records []clipboard.Record
		if json.Unmarshal(data, &records) == nil {
			for _, rec := range records {
				if clipboard.IsTextMime(rec.MimeType) || rec.Contents == "" {
					continue
				}
				if err := os.Remove(filepath.Join(s.cfg.Root, filepath.Base(rec.Contents))); err != nil && !os.IsNotExist(err) {
					s.log.Warn("clear: delete blob failed", "ref", rec.Contents, "error", err)
				}
			}
		}
	}

	var firstErr error
	for _, path := range []string{s.IndexPath(), s.BackupPath()} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Error("clear: remove failed", "path", path, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
