package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) report {
	t.Helper()
	var body report
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	h := New()

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if body := decodeReport(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	healthy := func(_ context.Context) error { return nil }

	t.Run("AllChecksPass", func(t *testing.T) {
		h := New(
			Checker{Name: "history", Check: healthy},
			Checker{Name: "profiles", Check: healthy},
		)

		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		body := decodeReport(t, rec)
		if body.Status != "ok" {
			t.Errorf("status = %q, want ok", body.Status)
		}
		for _, name := range []string{"history", "profiles"} {
			if body.Checks[name] != "ok" {
				t.Errorf("%s check = %q, want ok", name, body.Checks[name])
			}
		}
	})

	t.Run("OneCheckFails", func(t *testing.T) {
		h := New(
			Checker{Name: "history", Check: func(_ context.Context) error {
				return errors.New("database is locked")
			}},
			Checker{Name: "profiles", Check: healthy},
		)

		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		body := decodeReport(t, rec)
		if body.Status != "fail" {
			t.Errorf("status = %q, want fail", body.Status)
		}
		if body.Checks["history"] != "fail: database is locked" {
			t.Errorf("history check = %q", body.Checks["history"])
		}
		if body.Checks["profiles"] != "ok" {
			t.Errorf("profiles check = %q, want the healthy store unaffected", body.Checks["profiles"])
		}
	})

	t.Run("EveryCheckFails", func(t *testing.T) {
		h := New(
			Checker{Name: "history", Check: func(_ context.Context) error {
				return errors.New("disk full")
			}},
			Checker{Name: "profiles", Check: func(_ context.Context) error {
				return errors.New("connection refused")
			}},
		)

		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		body := decodeReport(t, rec)
		if body.Checks["history"] != "fail: disk full" {
			t.Errorf("history check = %q", body.Checks["history"])
		}
		if body.Checks["profiles"] != "fail: connection refused" {
			t.Errorf("profiles check = %q", body.Checks["profiles"])
		}
	})

	t.Run("NoCheckersIsReady", func(t *testing.T) {
		h := New()

		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
	})

	t.Run("CancelledRequestFailsSlowCheck", func(t *testing.T) {
		h := New(
			Checker{Name: "history", Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}},
		)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
	})
}

func TestRegister(t *testing.T) {
	h := New(Checker{Name: "history", Check: func(_ context.Context) error { return nil }})

	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}
