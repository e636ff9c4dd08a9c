package history_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/tutorlive/internal/history"
	"github.com/MrWong99/tutorlive/internal/history/historytest"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	historytest.Run(t, func(*testing.T) history.Store { return history.NewMemoryStore(0) })
}

func TestMemoryStore_Limit(t *testing.T) {
	t.Parallel()
	historytest.RunLimit(t, func(*testing.T) history.Store { return history.NewMemoryStore(2) })
}

func TestKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		user, want string
	}{
		{"", "mathSolverHistory_guest"},
		{"  ", "mathSolverHistory_guest"},
		{"u-42", "mathSolverHistory_u-42"},
	}
	for _, tt := range tests {
		if got := history.Key(tt.user); got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.user, got, tt.want)
		}
	}
}

func TestSourceTypeFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mime    string
		hasFile bool
		want    history.SourceType
	}{
		{"", false, history.SourceText},
		{"application/pdf", true, history.SourceDocument},
		{"application/x-PDF", true, history.SourceDocument},
		{"image/png", true, history.SourceImage},
		{"text/plain", true, history.SourceImage},
	}
	for _, tt := range tests {
		if got := history.SourceTypeFor(tt.mime, tt.hasFile); got != tt.want {
			t.Errorf("SourceTypeFor(%q, %v) = %q, want %q", tt.mime, tt.hasFile, got, tt.want)
		}
	}
}

func TestTitle(t *testing.T) {
	t.Parallel()
	if got := history.Title("Solve x", "hw.png", true); got != "Solve x" {
		t.Errorf("Title with prompt = %q", got)
	}
	if got := history.Title(" ", "hw.png", true); got != "Analyzed hw.png" {
		t.Errorf("Title with file = %q", got)
	}
	if got := history.Title("", "", false); got != "Untitled Question" {
		t.Errorf("Title with nothing = %q", got)
	}
}

func TestNewEntry(t *testing.T) {
	t.Parallel()
	before := time.Now().Add(-time.Second)
	e := history.NewEntry("q", "a", history.SourceImage, "fast")
	if _, err := uuid.Parse(e.ID); err != nil {
		t.Errorf("ID %q is not a UUID: %v", e.ID, err)
	}
	if e.Timestamp.Before(before) || e.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp = %v", e.Timestamp)
	}
	if e.Question != "q" || e.Answer != "a" || e.SourceType != history.SourceImage || e.Mode != "fast" {
		t.Errorf("entry = %+v", e)
	}
	if other := history.NewEntry("q", "a", history.SourceImage, ""); other.ID == e.ID {
		t.Error("IDs must be unique")
	}
}

func TestPrepend_DoesNotAlias(t *testing.T) {
	t.Parallel()
	list := make([]history.Entry, 1, 4)
	list[0] = history.Entry{ID: "old"}
	out := history.Prepend(list, history.Entry{ID: "new"}, 0)
	if list[0].ID != "old" {
		t.Error("input slice was modified")
	}
	if len(out) != 2 || out[0].ID != "new" {
		t.Errorf("out = %+v", out)
	}
}
