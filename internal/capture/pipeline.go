package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sadopc/apicap/internal/config"
	"github.com/sadopc/apicap/internal/filter"
	"github.com/sadopc/apicap/internal/similarity"
	"github.com/sadopc/apicap/internal/store"
)

// fuzzyScanLimit bounds the recency scan of the fuzzy duplicate detector.
const fuzzyScanLimit = 200

// Pipeline sequences classifier, filter, exact dedup and fuzzy dedup for
// each completed exchange and persists the survivors. It is safe to invoke
// concurrently; the store serializes writes and Reconfigure synchronizes
// against in-flight exchanges before swapping handles.
type Pipeline struct {
	log *slog.Logger
	now func() time.Time

	mu   sync.RWMutex
	cfg  config.Config
	st   *store.Store
	pred *filter.Predicate
	cls  *Classifier
}

// New opens the store at cfg.DBPath and builds a ready pipeline. A
// malformed filter expression is logged and the filter stage disabled; it
// is not an error.
func New(cfg config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening capture store: %w", err)
	}

	p := &Pipeline{
		log: logger,
		now: time.Now,
		cfg: cfg,
		st:  st,
		cls: NewClassifier(cfg.StaticExtensions, cfg.StaticContentTypes, cfg.StaticPathPatterns),
	}
	p.pred = p.compileFilter(cfg.FilterExpr)
	return p, nil
}

// Reconfigure replaces the configuration wholesale: the store connection is
// reopened and the filter recompiled. It blocks until in-flight exchanges
// have drained, so no exchange ever sees a half-closed store.
func (p *Pipeline) Reconfigure(cfg config.Config) error {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("reopening capture store: %w", err)
	}

	pred := p.compileFilter(cfg.FilterExpr)
	cls := NewClassifier(cfg.StaticExtensions, cfg.StaticContentTypes, cfg.StaticPathPatterns)

	p.mu.Lock()
	old := p.st
	p.cfg = cfg
	p.st = st
	p.pred = pred
	p.cls = cls
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			p.log.Warn("closing previous store", "error", err)
		}
	}
	return nil
}

// Shutdown closes the store. Further exchanges are dropped.
func (p *Pipeline) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.st == nil {
		return nil
	}
	err := p.st.Close()
	p.st = nil
	return err
}

// OnExchange runs one completed exchange through the pipeline. It never
// returns an error: capture is advisory, and nothing here may interrupt the
// hosting proxy's own request/response delivery.
func (p *Pipeline) OnExchange(ctx context.Context, ex *Exchange) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.st == nil {
		return
	}

	if p.cls.IsStatic(ex) {
		return
	}

	if p.pred != nil && !p.pred.Matches(exchangeAttrs(ex)) {
		p.log.Debug("filtered by expression",
			"exchange", ex.ID, "method", ex.Method, "url", ex.URL)
		return
	}

	hash := ContentHash(ex)

	if p.cfg.DedupEnabled {
		opCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
		dup, err := p.st.HasHash(opCtx, hash)
		cancel()
		if err != nil {
			// Duplicate status unknown; drop rather than stall or pollute.
			p.log.Error("exact duplicate check failed",
				"exchange", ex.ID, "method", ex.Method, "url", ex.URL, "error", err)
			return
		}
		if dup {
			return
		}
	}

	if p.isSimilarDuplicate(ctx, ex) {
		p.log.Debug("similar duplicate dropped",
			"exchange", ex.ID, "method", ex.Method, "url", ex.URL)
		return
	}

	rec := p.buildRecord(ex, hash)
	opCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	inserted, err := p.st.InsertIfAbsent(opCtx, rec)
	cancel()
	if err != nil {
		p.log.Error("storing capture failed",
			"exchange", ex.ID, "method", ex.Method, "url", ex.URL, "error", err)
		return
	}
	if inserted {
		p.log.Info("captured", "exchange", ex.ID, "method", ex.Method, "url", ex.URL)
	}
}

// isSimilarDuplicate checks the exchange's signature against recent records
// for the same host. Called with the read lock held.
func (p *Pipeline) isSimilarDuplicate(ctx context.Context, ex *Exchange) bool {
	if !p.cfg.DedupEnabled || !p.cfg.FuzzyDedupEnabled || p.st == nil {
		return false
	}

	now := ex.Start
	if now.IsZero() {
		now = p.now()
	}
	since := float64(now.Unix()) - float64(p.cfg.SimilarityWindowSeconds)
	sig := ComposeSignature(ex)
	threshold := p.cfg.Threshold()

	opCtx, cancel := context.WithTimeout(ctx, p.cfg.StoreTimeout)
	rows, err := p.st.RecentByHost(opCtx, ex.Host, since, fuzzyScanLimit)
	cancel()
	if err != nil {
		p.log.Error("similarity lookup failed",
			"exchange", ex.ID, "method", ex.Method, "url", ex.URL, "error", err)
		return false
	}

	for _, row := range rows {
		other := SignatureFromStored(row.Host, row.Path, row.QueryParams)
		if score := signatureSimilarity(sig, other); score >= threshold {
			p.log.Info("similar duplicate",
				"exchange", ex.ID, "method", ex.Method, "url", ex.URL,
				"score", score, "threshold", threshold)
			return true
		}
	}
	return false
}

// signatureSimilarity scores two signatures. Differing paths score 0 by
// definition; otherwise host and query similarity combine 0.3/0.7 — query
// differences dominate since host and path already had to match to get
// here.
func signatureSimilarity(a, b Signature) float64 {
	if a.Path != b.Path {
		return 0.0
	}
	hostSim := similarity.Ratio(a.Host, b.Host)
	querySim := similarity.Ratio(a.QueryJSON, b.QueryJSON)
	return 0.3*hostSim + 0.7*querySim
}

func (p *Pipeline) buildRecord(ex *Exchange, hash string) *store.Record {
	start := ex.Start
	if start.IsZero() {
		start = p.now()
	}
	return &store.Record{
		Hash:            hash,
		Timestamp:       float64(start.UnixNano()) / float64(time.Second),
		Method:          ex.Method,
		URL:             ex.URL,
		Host:            ex.Host,
		Path:            ex.Path,
		QueryParams:     sortedJSON(firstValues(ex.Query)),
		Headers:         headersJSON(ex.Headers),
		RequestBody:     string(ex.RequestBody),
		ResponseStatus:  ex.Status,
		ResponseHeaders: headersJSON(ex.RespHeaders),
		ResponseBody:    string(ex.RespBody),
		ResponseTime:    ex.Duration.Seconds(),
		ClientAddr:      ex.ClientAddr,
	}
}

// ListRecent exposes the consumer-facing read of the newest records.
func (p *Pipeline) ListRecent(ctx context.Context, limit int) ([]store.Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.st == nil {
		return nil, fmt.Errorf("store is closed")
	}
	return p.st.ListRecent(ctx, limit)
}

// Watermark exposes the store's change watermark for cheap polling.
func (p *Pipeline) Watermark(ctx context.Context) (int64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.st == nil {
		return 0, fmt.Errorf("store is closed")
	}
	return p.st.Watermark(ctx)
}

func (p *Pipeline) compileFilter(expr string) *filter.Predicate {
	if expr == "" {
		return nil
	}
	pred, err := filter.Compile(expr)
	if err != nil {
		p.log.Error("filter expression disabled", "expr", expr, "error", err)
		return nil
	}
	p.log.Info("filter expression active", "expr", expr)
	return pred
}

// exchangeAttrs is the attribute view a filter expression sees.
func exchangeAttrs(ex *Exchange) map[string]any {
	return map[string]any{
		"method":      ex.Method,
		"url":         ex.URL,
		"host":        ex.Host,
		"path":        ex.Path,
		"query":       firstValues(ex.Query),
		"status":      ex.Status,
		"contentType": ex.ContentType(),
		"clientAddr":  ex.ClientAddr,
	}
}

// headersJSON serializes headers as a flat JSON object; multi-valued
// headers join with ", ". Failure yields "" rather than aborting capture.
func headersJSON(h http.Header) string {
	if h == nil {
		return "{}"
	}
	m := make(map[string]string, len(h))
	for k, vs := range h {
		m[k] = joinValues(vs)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func joinValues(vs []string) string {
	switch len(vs) {
	case 0:
		return ""
	case 1:
		return vs[0]
	}
	out := vs[0]
	for _, v := range vs[1:] {
		out += ", " + v
	}
	return out
}
