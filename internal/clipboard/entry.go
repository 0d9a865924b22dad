package clipboard

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMimeType is assumed for stored records that carry no mimetype.
	// Older history files were written before the field existed.
	DefaultMimeType = "text/plain"

	// TextPrefix marks mimetypes whose payload is stored inline in the index.
	TextPrefix = "text/"

	// ImagePrefix marks mimetypes rendered as images. Any non-text mimetype
	// takes the same raw-bytes, content-addressed storage path.
	ImagePrefix = "image/"
)

// ErrDecode is returned when a history record cannot be turned back into
// an entry.
var ErrDecode = errors.New("malformed history record")

// Entry is one clipboard history item. The payload bytes are immutable
// after construction; only the favorite flag may change.
type Entry struct {
	mimeType string
	data     []byte
	favorite bool
}

// NewText creates a text entry from a string value.
func NewText(value string) *Entry {
	return &Entry{mimeType: DefaultMimeType, data: []byte(value)}
}

// NewBinary creates an entry holding raw bytes under the given mimetype.
// An empty mimetype defaults to text/plain.
func NewBinary(mimeType string, data []byte) *Entry {
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return &Entry{mimeType: mimeType, data: data}
}

// MimeType returns the entry's mimetype.
func (e *Entry) MimeType() string {
	return e.mimeType
}

// Data returns the raw payload bytes. Callers must not modify them.
func (e *Entry) Data() []byte {
	return e.data
}

// Size returns the payload size in bytes.
func (e *Entry) Size() int64 {
	return int64(len(e.data))
}

// IsText returns true for text/* entries, whose payload lives inline in
// the history index.
func (e *Entry) IsText() bool {
	return strings.HasPrefix(e.mimeType, TextPrefix)
}

// IsImage returns true for image/* entries.
func (e *Entry) IsImage() bool {
	return strings.HasPrefix(e.mimeType, ImagePrefix)
}

// IsFavorite returns true if the entry is pinned against pruning.
func (e *Entry) IsFavorite() bool {
	return e.favorite
}

// SetFavorite pins or unpins the entry.
func (e *Entry) SetFavorite(favorite bool) {
	e.favorite = favorite
}

// ContentHash returns the SHA-256 of the payload as lowercase hex.
// It names the entry's blob file and keys equality for binary entries.
func (e *Entry) ContentHash() string {
	sum := sha256.Sum256(e.data)
	return hex.EncodeToString(sum[:])
}

// StringValue returns the display form of the entry: the decoded text for
// text entries, or a synthetic "[Image <hash>]" marker for everything else.
// It does not round-trip to the original bytes for binary entries.
func (e *Entry) StringValue() string {
	if e.IsText() {
		return string(e.data)
	}
	return "[Image " + e.ContentHash() + "]"
}

// Equal reports whether two entries hold the same content. Equality is
// defined on StringValue, which for binary entries reduces to content-hash
// equality regardless of the exact mimetype wrapping.
func (e *Entry) Equal(other *Entry) bool {
	if other == nil {
		return false
	}
	return e.StringValue() == other.StringValue()
}

// EncodeHex returns the payload as a string suitable for embedding: the
// literal text for text entries, lowercase hex of the raw bytes otherwise.
func (e *Entry) EncodeHex() string {
	if e.IsText() {
		return e.StringValue()
	}
	return hex.EncodeToString(e.data)
}

// Preview returns the display string truncated to at most n runes, with an
// ellipsis when shortened. Newlines are flattened for one-line rendering.
func (e *Entry) Preview(n int) string {
	s := strings.Join(strings.Fields(e.StringValue()), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}

// Record is the on-disk shape of one history entry. The record carries no
// explicit inline-vs-reference tag; consumers re-derive the kind from the
// mimetype prefix. For text entries Contents is the literal text, for
// binary entries it is the blob filename (the content hash).
type Record struct {
	Favorite bool   `json:"favorite"`
	MimeType string `json:"mimetype"`
	Contents string `json:"contents"`
}

// IsTextMime reports whether a record mimetype stores its contents inline.
// A missing mimetype means an old text-only record.
func IsTextMime(mimeType string) bool {
	return mimeType == "" || strings.HasPrefix(mimeType, TextPrefix)
}

// ToRecord converts the entry to its index record. Binary entries record
// their content hash; the coordinator is responsible for making sure the
// matching blob file exists.
func (e *Entry) ToRecord() Record {
	rec := Record{Favorite: e.favorite, MimeType: e.mimeType}
	if e.IsText() {
		rec.Contents = e.StringValue()
	} else {
		rec.Contents = e.ContentHash()
	}
	return rec
}

// FromRecord reconstructs a text entry from its index record. Binary
// records reference a blob file and must be resolved by the storage
// coordinator, which owns blob I/O; passing one here is a decode error.
func FromRecord(rec Record) (*Entry, error) {
	if !IsTextMime(rec.MimeType) {
		return nil, fmt.Errorf("record %q requires blob resolution: %w", rec.MimeType, ErrDecode)
	}
	mimeType := rec.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	return &Entry{
		mimeType: mimeType,
		data:     []byte(rec.Contents),
		favorite: rec.Favorite,
	}, nil
}
