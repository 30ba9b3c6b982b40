package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
)

// syncBuffer guards the log sink; fiber may log from another goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) lines(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, raw := range bytes.Split(bytes.TrimSpace(b.buf.Bytes()), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(raw, &entry); err != nil {
			t.Fatalf("log line %s does not decode: %v", raw, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestRequestLoggerLevels(t *testing.T) {
	t.Parallel()

	sink := &syncBuffer{}
	logger := zerolog.New(sink)

	app := fiber.New()
	app.Use(RequestLogger(logger))
	app.Get("/ok", func(c fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c fiber.Ctx) error { return Fail(c, fiber.StatusNotFound, "nope") })
	app.Get("/boom", func(c fiber.Ctx) error { return Fail(c, fiber.StatusInternalServerError, "boom") })

	for _, path := range []string{"/ok", "/missing", "/boom"} {
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		if _, err := app.Test(req); err != nil {
			t.Fatalf("Test(%s) error: %v", path, err)
		}
	}

	entries := sink.lines(t)
	if len(entries) != 3 {
		t.Fatalf("logged %d entries, want 3", len(entries))
	}

	wantLevels := map[string]string{"/ok": "info", "/missing": "warn", "/boom": "error"}
	for _, entry := range entries {
		path, _ := entry["path"].(string)
		if entry["level"] != wantLevels[path] {
			t.Errorf("%s logged at %v, want %v", path, entry["level"], wantLevels[path])
		}
		if _, ok := entry["status"]; !ok {
			t.Errorf("%s entry has no status field: %v", path, entry)
		}
		if _, ok := entry["latency"]; !ok {
			t.Errorf("%s entry has no latency field: %v", path, entry)
		}
	}
}

func TestRequestLoggerPassesError(t *testing.T) {
	t.Parallel()

	logger := zerolog.New(io.Discard)
	app := fiber.New()
	app.Use(RequestLogger(logger))

	sentinel := errors.New("handler failed")
	app.Get("/err", func(c fiber.Ctx) error { return sentinel })

	req, _ := http.NewRequest(http.MethodGet, "/err", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test() error: %v", err)
	}
	// Fiber's default error handler turns unhandled errors into 500s; the
	// middleware must not swallow them.
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestFailBody(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/", func(c fiber.Ctx) error { return Fail(c, fiber.StatusForbidden, "request signature is invalid") })

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Test() error: %v", err)
	}
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	var body ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("body %s does not decode: %v", raw, err)
	}
	if body.Error != "request signature is invalid" {
		t.Errorf("error = %q", body.Error)
	}
}
