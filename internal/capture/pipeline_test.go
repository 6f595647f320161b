package capture

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sadopc/apicap/internal/config"
	"github.com/sadopc/apicap/internal/store"
)

func newTestPipeline(t *testing.T, mutate func(*config.Config)) *Pipeline {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Shutdown() })
	return p
}

func apiExchange(method, rawURL string) *Exchange {
	ex := NewExchange(method, rawURL)
	ex.ID = "test"
	ex.Status = 200
	ex.RespHeaders = http.Header{"Content-Type": []string{"application/json"}}
	ex.RespBody = []byte(`{"ok":true}`)
	ex.Start = time.Now()
	ex.Duration = 42 * time.Millisecond
	ex.ClientAddr = "127.0.0.1"
	return ex
}

func rowCount(t *testing.T, p *Pipeline) int64 {
	t.Helper()
	n, err := p.st.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestOnExchange_StoresCandidate(t *testing.T) {
	p := newTestPipeline(t, nil)

	p.OnExchange(context.Background(), apiExchange("GET", "https://api.example.com/users?page=1"))

	if n := rowCount(t, p); n != 1 {
		t.Fatalf("row count = %d, want 1", n)
	}

	records, err := p.ListRecent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	r := records[0]
	if r.Method != "GET" || r.Host != "api.example.com" || r.Path != "/users" {
		t.Errorf("stored record = %+v", r)
	}
	if r.ResponseStatus != 200 {
		t.Errorf("response status = %d", r.ResponseStatus)
	}
	if r.QueryParams != `{"page":"1"}` {
		t.Errorf("query params = %q", r.QueryParams)
	}
}

func TestOnExchange_StaticNeverStored(t *testing.T) {
	p := newTestPipeline(t, nil)
	ctx := context.Background()

	// Static by extension, content type, and path pattern.
	p.OnExchange(ctx, apiExchange("GET", "https://example.com/app.js"))

	ex := apiExchange("GET", "https://example.com/theme")
	ex.RespHeaders.Set("Content-Type", "text/css")
	p.OnExchange(ctx, ex)

	p.OnExchange(ctx, apiExchange("GET", "https://example.com/assets/data"))

	if n := rowCount(t, p); n != 0 {
		t.Errorf("static exchanges stored: row count = %d, want 0", n)
	}
}

func TestOnExchange_HTMLAlwaysCandidate(t *testing.T) {
	p := newTestPipeline(t, nil)

	ex := apiExchange("GET", "https://example.com/static/page.js")
	ex.RespHeaders.Set("Content-Type", "text/html")
	p.OnExchange(context.Background(), ex)

	if n := rowCount(t, p); n != 1 {
		t.Errorf("HTML exchange should be captured, row count = %d", n)
	}
}

func TestOnExchange_ExactDuplicateDropped(t *testing.T) {
	p := newTestPipeline(t, nil)
	ctx := context.Background()

	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users?page=1"))
	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users?page=1"))

	if n := rowCount(t, p); n != 1 {
		t.Errorf("row count = %d, want 1 after exact duplicate", n)
	}
}

func TestOnExchange_FuzzyDuplicateDropped(t *testing.T) {
	p := newTestPipeline(t, nil)
	ctx := context.Background()

	// Different URLs (different hashes) but identical signatures after the
	// _t cache buster is excluded.
	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users?page=1"))
	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users?page=1&_t=1700000000"))

	if n := rowCount(t, p); n != 1 {
		t.Errorf("row count = %d, want 1 after fuzzy duplicate", n)
	}
}

func TestOnExchange_FuzzyDisabled(t *testing.T) {
	p := newTestPipeline(t, func(cfg *config.Config) {
		cfg.FuzzyDedupEnabled = false
	})
	ctx := context.Background()

	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users?page=1"))
	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users?page=1&_t=1700000000"))

	if n := rowCount(t, p); n != 2 {
		t.Errorf("row count = %d, want 2 with fuzzy dedup disabled", n)
	}
}

func TestOnExchange_WindowExcludesOldRecords(t *testing.T) {
	p := newTestPipeline(t, nil)
	ctx := context.Background()

	// Seed an otherwise-identical record captured 700s ago, outside the
	// 600s window.
	old := &store.Record{
		Hash:        "seed-old",
		Timestamp:   float64(time.Now().Add(-700 * time.Second).Unix()),
		Method:      "GET",
		URL:         "https://api.example.com/users?page=1",
		Host:        "api.example.com",
		Path:        "/users",
		QueryParams: `{"page":"1"}`,
	}
	if _, err := p.st.InsertIfAbsent(ctx, old); err != nil {
		t.Fatal(err)
	}

	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users?page=1"))

	if n := rowCount(t, p); n != 2 {
		t.Errorf("row count = %d, want 2: record outside window must not suppress capture", n)
	}
}

func TestOnExchange_WindowIncludesRecentRecords(t *testing.T) {
	p := newTestPipeline(t, nil)
	ctx := context.Background()

	recent := &store.Record{
		Hash:        "seed-recent",
		Timestamp:   float64(time.Now().Add(-30 * time.Second).Unix()),
		Method:      "GET",
		URL:         "https://api.example.com/users?page=1",
		Host:        "api.example.com",
		Path:        "/users",
		QueryParams: `{"page":"1"}`,
	}
	if _, err := p.st.InsertIfAbsent(ctx, recent); err != nil {
		t.Fatal(err)
	}

	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users?page=1&_t=1700000000"))

	if n := rowCount(t, p); n != 1 {
		t.Errorf("row count = %d, want 1: recent similar record must suppress capture", n)
	}
}

func TestOnExchange_FilterExpression(t *testing.T) {
	p := newTestPipeline(t, func(cfg *config.Config) {
		cfg.FilterExpr = `host === "api.example.com"`
	})
	ctx := context.Background()

	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users"))
	p.OnExchange(ctx, apiExchange("GET", "https://other.example.com/users"))

	if n := rowCount(t, p); n != 1 {
		t.Errorf("row count = %d, want 1: filter should reject the other host", n)
	}
}

func TestNew_MalformedFilterIsPassThrough(t *testing.T) {
	p := newTestPipeline(t, func(cfg *config.Config) {
		cfg.FilterExpr = `host ===` // does not compile
	})

	if p.pred != nil {
		t.Error("malformed filter should disable the stage")
	}

	p.OnExchange(context.Background(), apiExchange("GET", "https://api.example.com/users"))
	if n := rowCount(t, p); n != 1 {
		t.Errorf("row count = %d, want 1: malformed filter must pass traffic through", n)
	}
}

func TestReconfigure_SwapsStore(t *testing.T) {
	dir := t.TempDir()
	p := newTestPipeline(t, func(cfg *config.Config) {
		cfg.DBPath = dir + "/first.db"
	})
	ctx := context.Background()

	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users"))
	if n := rowCount(t, p); n != 1 {
		t.Fatalf("row count = %d, want 1", n)
	}

	cfg := config.Default()
	cfg.DBPath = dir + "/second.db"
	if err := p.Reconfigure(cfg); err != nil {
		t.Fatal(err)
	}

	// New store is empty; the same exchange is no longer a duplicate.
	if n := rowCount(t, p); n != 0 {
		t.Fatalf("row count after reconfigure = %d, want 0", n)
	}
	p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users"))
	if n := rowCount(t, p); n != 1 {
		t.Errorf("row count = %d, want 1 in the new store", n)
	}
}

func TestShutdown_DropsFurtherExchanges(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Shutdown(); err != nil {
		t.Fatal(err)
	}
	// Second shutdown is a no-op, and exchanges after shutdown do not panic.
	if err := p.Shutdown(); err != nil {
		t.Fatal(err)
	}
	p.OnExchange(context.Background(), apiExchange("GET", "https://api.example.com/users"))

	if _, err := p.ListRecent(context.Background(), 1); err == nil {
		t.Error("ListRecent should fail after shutdown")
	}
}

func TestOnExchange_Concurrent(t *testing.T) {
	p := newTestPipeline(t, nil)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 10; j++ {
				p.OnExchange(ctx, apiExchange("GET", "https://api.example.com/users?page=1"))
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	// All 80 invocations carry the same hash; exactly one row survives.
	if n := rowCount(t, p); n != 1 {
		t.Errorf("row count = %d, want 1 under concurrency", n)
	}
}
