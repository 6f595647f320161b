// Package webapi exposes the consumer-facing read interface over captured
// records: the newest N rows on demand, and a websocket that pushes new
// rows whenever the store's watermark advances. The dashboard process that
// renders this data lives elsewhere; this package stops at the interface
// boundary.
package webapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/sadopc/apicap/internal/store"
)

// RecordSource is the read surface the capture pipeline provides.
type RecordSource interface {
	ListRecent(ctx context.Context, limit int) ([]store.Record, error)
	Watermark(ctx context.Context) (int64, error)
}

// Server serves the read API.
type Server struct {
	src  RecordSource
	log  *slog.Logger
	poll time.Duration
}

// NewServer creates a read-API server over the given source.
func NewServer(src RecordSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		src:  src,
		log:  logger,
		poll: time.Second,
	}
}

// Handler returns the HTTP handler for the read API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/captured", s.handleList)
	mux.HandleFunc("GET /api/captured/watch", s.handleWatch)
	return mux
}

// RecordView is the wire representation of one captured record.
type RecordView struct {
	ID           int64   `json:"id"`
	Method       string  `json:"method"`
	URL          string  `json:"url"`
	Host         string  `json:"host"`
	Path         string  `json:"path"`
	Status       int     `json:"status"`
	Timestamp    float64 `json:"timestamp"`
	ResponseTime float64 `json:"response_time"`
	CapturedAt   string  `json:"captured_at"`
}

type listResponse struct {
	Data  []RecordView `json:"data"`
	Count int          `json:"count"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.src.ListRecent(r.Context(), limit)
	if err != nil {
		s.log.Error("listing captures", "error", err)
		http.Error(w, "store unavailable", http.StatusInternalServerError)
		return
	}

	views := make([]RecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, toView(rec))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listResponse{Data: views, Count: len(views)})
}

// watchEvent is one websocket push: the records that appeared since the
// previous event, oldest first.
type watchEvent struct {
	Watermark int64        `json:"watermark"`
	Records   []RecordView `json:"records"`
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	last, err := s.src.Watermark(ctx)
	if err != nil {
		s.log.Error("reading watermark", "error", err)
		conn.Close(websocket.StatusInternalError, "store unavailable")
		return
	}

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}

		wm, err := s.src.Watermark(ctx)
		if err != nil {
			s.log.Error("reading watermark", "error", err)
			continue
		}
		if wm <= last {
			continue
		}

		fresh, err := s.newRecords(ctx, last)
		if err != nil {
			s.log.Error("fetching new captures", "error", err)
			continue
		}
		last = wm

		if len(fresh) == 0 {
			continue
		}
		if err := wsjson.Write(ctx, conn, watchEvent{Watermark: wm, Records: fresh}); err != nil {
			return
		}
	}
}

// newRecords returns records with id greater than last, oldest first.
func (s *Server) newRecords(ctx context.Context, last int64) ([]RecordView, error) {
	records, err := s.src.ListRecent(ctx, 50)
	if err != nil {
		return nil, err
	}
	var fresh []RecordView
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].ID > last {
			fresh = append(fresh, toView(records[i]))
		}
	}
	return fresh, nil
}

func toView(r store.Record) RecordView {
	return RecordView{
		ID:           r.ID,
		Method:       r.Method,
		URL:          r.URL,
		Host:         r.Host,
		Path:         r.Path,
		Status:       r.ResponseStatus,
		Timestamp:    r.Timestamp,
		ResponseTime: r.ResponseTime,
		CapturedAt:   r.CapturedAt.UTC().Format(time.RFC3339),
	}
}
