package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/tutorlive/internal/gateway"
	"github.com/MrWong99/tutorlive/internal/history/redisstore"
)

func readyz(t *testing.T, h *Handler, ctx context.Context) (int, result) {
	t.Helper()
	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "broken", Check: func(context.Context) error { return errors.New("down") }})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	t.Parallel()
	h := New(
		Checker{Name: "history", Check: func(context.Context) error { return nil }},
		Checker{Name: "gemini", Check: func(context.Context) error { return nil }},
	)

	code, body := readyz(t, h, context.Background())
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" || body.Checks["history"] != "ok" || body.Checks["gemini"] != "ok" {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz_CheckerFails(t *testing.T) {
	t.Parallel()
	h := New(
		Checker{Name: "history", Check: func(context.Context) error { return errors.New("connection refused") }},
		Checker{Name: "gemini", Check: func(context.Context) error { return nil }},
	)

	code, body := readyz(t, h, context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if body.Checks["history"] != "fail: connection refused" {
		t.Errorf("history check = %q", body.Checks["history"])
	}
	if body.Checks["gemini"] != "ok" {
		t.Errorf("gemini check = %q", body.Checks["gemini"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()
	code, body := readyz(t, New(), context.Background())
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d %+v", code, body)
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if code, _ := readyz(t, h, ctx); code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
}

func TestCredential(t *testing.T) {
	t.Parallel()
	missing := Credential("gemini", func() (string, error) { return "", gateway.ErrMissingCredential })
	present := Credential("gemini", func() (string, error) { return "secret-key", nil })

	code, body := readyz(t, New(missing), context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("missing key: status = %d", code)
	}
	if body.Checks["gemini"] != "fail: "+gateway.ErrMissingCredential.Error() {
		t.Errorf("missing key: check = %q", body.Checks["gemini"])
	}

	code, body = readyz(t, New(present), context.Background())
	if code != http.StatusOK {
		t.Errorf("present key: status = %d", code)
	}
	if body.Checks["gemini"] != "ok" {
		t.Errorf("present key: check = %q", body.Checks["gemini"])
	}
}

func TestPing_RedisStore(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	h := New(Ping("history", redisstore.New(client)))

	if code, _ := readyz(t, h, context.Background()); code != http.StatusOK {
		t.Errorf("status with redis up = %d, want 200", code)
	}

	mr.Close()
	code, body := readyz(t, h, context.Background())
	if code != http.StatusServiceUnavailable {
		t.Errorf("status with redis down = %d, want 503", code)
	}
	if body.Checks["history"] == "ok" {
		t.Error("history check passed with redis down")
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(Checker{Name: "test", Check: func(context.Context) error { return nil }}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
	req := httptest.NewRequest("POST", "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /healthz: status = %d, want 405", rec.Code)
	}
}
