// Package historytest holds behaviour tests shared by every history.Store
// backend.
package historytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/tutorlive/internal/history"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) history.Store

func entry(id string, at time.Time) history.Entry {
	return history.Entry{
		ID:         id,
		Question:   "Solve " + id,
		Answer:     "$x = " + id + "$",
		Timestamp:  at,
		SourceType: history.SourceText,
		Mode:       "standard",
	}
}

// Run exercises the [history.Store] contract against stores from newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 15, 9, 26, 535000000, time.UTC)

	t.Run("EmptyList", func(t *testing.T) {
		s := newStore(t)
		got, err := s.List(ctx, history.Key("nobody"))
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if got == nil || len(got) != 0 {
			t.Errorf("List = %#v, want empty non-nil slice", got)
		}
	})

	t.Run("AddPrepends", func(t *testing.T) {
		s := newStore(t)
		key := history.Key("alice")
		for i := range 3 {
			e := entry(fmt.Sprint(i), base.Add(time.Duration(i)*time.Minute))
			if err := s.Add(ctx, key, e); err != nil {
				t.Fatalf("Add %d: %v", i, err)
			}
		}
		got, err := s.List(ctx, key)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		for i, want := range []string{"2", "1", "0"} {
			if got[i].ID != want {
				t.Errorf("entry %d = %q, want %q (newest first)", i, got[i].ID, want)
			}
		}
	})

	t.Run("PreservesFields", func(t *testing.T) {
		s := newStore(t)
		key := history.Key("bob")
		want := history.Entry{
			ID:         "7f1c",
			Question:   "Analyzed worksheet.pdf",
			Answer:     "$$\\int_0^1 x\\,dx = \\frac12$$",
			Timestamp:  base,
			SourceType: history.SourceDocument,
			Mode:       "search",
		}
		if err := s.Add(ctx, key, want); err != nil {
			t.Fatalf("Add: %v", err)
		}
		got, err := s.List(ctx, key)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
		g := got[0]
		if g.ID != want.ID || g.Question != want.Question || g.Answer != want.Answer ||
			g.SourceType != want.SourceType || g.Mode != want.Mode || !g.Timestamp.Equal(want.Timestamp) {
			t.Errorf("entry = %+v, want %+v", g, want)
		}
	})

	t.Run("KeysAreIsolated", func(t *testing.T) {
		s := newStore(t)
		if err := s.Add(ctx, history.Key("a"), entry("a1", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		if err := s.Add(ctx, history.Key(""), entry("g1", base)); err != nil {
			t.Fatalf("Add: %v", err)
		}
		got, _ := s.List(ctx, history.Key("b"))
		if len(got) != 0 {
			t.Errorf("key b sees %d entries", len(got))
		}
		got, _ = s.List(ctx, history.Key(""))
		if len(got) != 1 || got[0].ID != "g1" {
			t.Errorf("guest list = %+v", got)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		s := newStore(t)
		key := history.Key("carol")
		other := history.Key("dave")
		_ = s.Add(ctx, key, entry("1", base))
		_ = s.Add(ctx, key, entry("2", base))
		_ = s.Add(ctx, other, entry("3", base))

		if err := s.Clear(ctx, key); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		got, err := s.List(ctx, key)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("after Clear len = %d, want 0", len(got))
		}
		if got, _ := s.List(ctx, other); len(got) != 1 {
			t.Errorf("Clear touched another key: %d entries", len(got))
		}
		if err := s.Clear(ctx, history.Key("never-used")); err != nil {
			t.Errorf("Clear of unknown key: %v", err)
		}
	})

	t.Run("EmptyKey", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.List(ctx, ""); !errors.Is(err, history.ErrInvalidKey) {
			t.Errorf("List err = %v", err)
		}
		if err := s.Add(ctx, "", entry("x", base)); !errors.Is(err, history.ErrInvalidKey) {
			t.Errorf("Add err = %v", err)
		}
		if err := s.Clear(ctx, ""); !errors.Is(err, history.ErrInvalidKey) {
			t.Errorf("Clear err = %v", err)
		}
	})

	t.Run("ConcurrentAdds", func(t *testing.T) {
		s := newStore(t)
		key := history.Key("eve")
		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Add(ctx, key, entry(fmt.Sprint(i), base)); err != nil {
					t.Errorf("Add %d: %v", i, err)
				}
			}()
		}
		wg.Wait()
		got, err := s.List(ctx, key)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 10 {
			t.Errorf("len = %d, want 10", len(got))
		}
	})
}

// RunLimit checks that a store built with a cap of 2 drops the oldest
// entries.
func RunLimit(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()
	s := newStore(t)
	key := history.Key("frank")
	for i := range 4 {
		if err := s.Add(ctx, key, entry(fmt.Sprint(i), time.Now())); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	got, err := s.List(ctx, key)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "2" {
		t.Errorf("entries = %+v, want the two newest", got)
	}
}
