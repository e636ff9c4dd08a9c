// Package history stores each user's solved questions, newest first.
//
// A [Store] keeps one ordered list of [Entry] values per key. Keys come from
// [Key], which maps a user ID (or none, for guests) to the storage key.
// [MemoryStore] lives in this package; Redis and PostgreSQL backends live in
// the redisstore and postgres subpackages.
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidKey is returned for an empty storage key.
var ErrInvalidKey = errors.New("history: empty key")

// SourceType says what the question was asked about.
type SourceType string

const (
	SourceText     SourceType = "text"
	SourceImage    SourceType = "image"
	SourceDocument SourceType = "document"
	SourceVideo    SourceType = "video"
)

// Entry is one solved question.
type Entry struct {
	ID         string     `json:"id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Timestamp  time.Time  `json:"timestamp"`
	SourceType SourceType `json:"sourceType"`
	Mode       string     `json:"mode,omitempty"`
}

// Store persists history lists. Implementations must be safe for concurrent
// use.
type Store interface {
	// List returns the entries for key, newest first. A key with no history
	// yields an empty slice.
	List(ctx context.Context, key string) ([]Entry, error)

	// Add prepends e to the list for key.
	Add(ctx context.Context, key string, e Entry) error

	// Clear removes every entry for key.
	Clear(ctx context.Context, key string) error
}

const keyPrefix = "mathSolverHistory_"

// Key returns the storage key for userID; an empty ID is the guest.
func Key(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return keyPrefix + "guest"
	}
	return keyPrefix + userID
}

// SourceTypeFor classifies an attachment by MIME type: PDFs are documents,
// any other file is an image, and no file at all is text.
func SourceTypeFor(mimeType string, hasFile bool) SourceType {
	switch {
	case !hasFile:
		return SourceText
	case strings.Contains(strings.ToLower(mimeType), "pdf"):
		return SourceDocument
	default:
		return SourceImage
	}
}

// Title picks the question label shown in the history list.
func Title(prompt, fileName string, hasFile bool) string {
	switch {
	case strings.TrimSpace(prompt) != "":
		return prompt
	case hasFile:
		return "Analyzed " + fileName
	default:
		return "Untitled Question"
	}
}

// NewEntry builds an entry with a fresh ID and the current time.
func NewEntry(question, answer string, source SourceType, mode string) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Question:   question,
		Answer:     answer,
		Timestamp:  time.Now().UTC(),
		SourceType: source,
		Mode:       mode,
	}
}

// Prepend returns a new slice with e first, trimmed to limit entries when
// limit is positive.
func Prepend(list []Entry, e Entry, limit int) []Entry {
	out := make([]Entry, 0, len(list)+1)
	out = append(out, e)
	out = append(out, list...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
