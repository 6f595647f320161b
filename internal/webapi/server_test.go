package webapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/sadopc/apicap/internal/store"
)

func seededStore(t *testing.T, n int) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	for i := 0; i < n; i++ {
		_, err := s.InsertIfAbsent(context.Background(), &store.Record{
			Hash:           "hash-" + string(rune('a'+i)),
			Timestamp:      float64(1000 + i),
			Method:         "GET",
			URL:            "https://api.example.com/users",
			Host:           "api.example.com",
			Path:           "/users",
			ResponseStatus: 200,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestHandleList(t *testing.T) {
	st := seededStore(t, 3)
	srv := httptest.NewServer(NewServer(st, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/captured?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 2 || len(body.Data) != 2 {
		t.Fatalf("count = %d, data = %d, want 2", body.Count, len(body.Data))
	}
	// Newest first.
	if body.Data[0].Timestamp <= body.Data[1].Timestamp {
		t.Error("expected newest record first")
	}
	if body.Data[0].Method != "GET" || body.Data[0].Status != 200 {
		t.Errorf("record view = %+v", body.Data[0])
	}
}

func TestHandleList_InvalidLimit(t *testing.T) {
	st := seededStore(t, 1)
	srv := httptest.NewServer(NewServer(st, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/captured?limit=bogus")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleWatch_PushesNewRecords(t *testing.T) {
	st := seededStore(t, 1)
	s := NewServer(st, nil)
	s.poll = 10 * time.Millisecond

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(srv.URL, "http://", "ws://", 1) + "/api/captured/watch"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	// Give the handler a poll cycle to establish its baseline watermark,
	// then insert a new record.
	time.Sleep(50 * time.Millisecond)
	_, err = st.InsertIfAbsent(ctx, &store.Record{
		Hash:           "fresh",
		Timestamp:      9999,
		Method:         "POST",
		URL:            "https://api.example.com/orders",
		Host:           "api.example.com",
		Path:           "/orders",
		ResponseStatus: 201,
	})
	if err != nil {
		t.Fatal(err)
	}

	var ev watchEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatal(err)
	}
	if len(ev.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(ev.Records))
	}
	if ev.Records[0].Path != "/orders" {
		t.Errorf("pushed record path = %q", ev.Records[0].Path)
	}
	if ev.Watermark != 2 {
		t.Errorf("watermark = %d, want 2", ev.Watermark)
	}
}
