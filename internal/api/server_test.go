package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/FaceRelay/internal/annotate"
	"github.com/bryanchriswhite/FaceRelay/internal/journal"
	"github.com/bryanchriswhite/FaceRelay/internal/metrics"
	"github.com/bryanchriswhite/FaceRelay/internal/overlay"
	"github.com/bryanchriswhite/FaceRelay/internal/session"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSharer struct {
	mu      sync.Mutex
	state   session.State
	err     error
	started int
}

func (f *fakeSharer) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.started++
	f.state = session.StateListening
	return nil
}

func (f *fakeSharer) Stop() {
	f.mu.Lock()
	f.state = session.StateIdle
	f.mu.Unlock()
}

func (f *fakeSharer) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{Direction: session.DirectionCapture, State: f.state}
}

type fakeMonitor struct {
	mu    sync.Mutex
	peer  string
	state session.State
	err   error
}

func (f *fakeMonitor) Start(ctx context.Context, peer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.peer = peer
	f.state = session.StateStreaming
	return nil
}

func (f *fakeMonitor) Stop() {
	f.mu.Lock()
	f.state = session.StateIdle
	f.mu.Unlock()
}

func (f *fakeMonitor) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{Direction: session.DirectionReceive, State: f.state, Peer: f.peer}
}

type fakeHistory struct {
	entries []journal.Entry
	limit   int
}

func (f *fakeHistory) Recent(limit int) ([]journal.Entry, error) {
	f.limit = limit
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

func (f *fakeHistory) LabelCounts() ([]annotate.LabelCount, error) {
	counts := map[string]int{}
	for _, e := range f.entries {
		counts[e.Label]++
	}
	out := []annotate.LabelCount{}
	for label, n := range counts {
		out = append(out, annotate.LabelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func result(label string) annotate.Result {
	return annotate.Result{
		Box:       annotate.Box{X: 1, Y: 2, Width: 10, Height: 10},
		Label:     label,
		Timestamp: time.Now(),
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAnnotationsAndReset(t *testing.T) {
	store := annotate.NewStore()
	store.Append(result("happy"), result("sad"), result("happy"))
	h := NewServer(Deps{Store: store}).Handler()

	rec := do(t, h, "GET", "/api/annotations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []annotate.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != 3 || got[0].Label != "happy" || got[1].Label != "sad" {
		t.Errorf("unexpected results %+v", got)
	}

	rec = do(t, h, "GET", "/api/annotations/labels", "")
	var labels []annotate.LabelCount
	if err := json.Unmarshal(rec.Body.Bytes(), &labels); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(labels) != 2 || labels[0] != (annotate.LabelCount{Label: "happy", Count: 2}) {
		t.Errorf("unexpected labels %+v", labels)
	}

	if rec := do(t, h, "GET", "/api/annotations/reset", ""); rec.Code == http.StatusOK || store.Len() != 3 {
		t.Errorf("GET reset must not clear: status = %d, len = %d", rec.Code, store.Len())
	}

	rec = do(t, h, "POST", "/api/annotations/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"cleared":3`) {
		t.Errorf("unexpected reset body %s", rec.Body.String())
	}
	if store.Len() != 0 {
		t.Errorf("store not cleared, len = %d", store.Len())
	}
}

func TestHistory(t *testing.T) {
	hist := &fakeHistory{entries: []journal.Entry{
		{ID: 2, Result: result("sad")},
		{ID: 1, Result: result("happy")},
	}}
	h := NewServer(Deps{Store: annotate.NewStore(), History: hist}).Handler()

	rec := do(t, h, "GET", "/api/annotations/history?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []journal.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != 2 || got[0].Label != "sad" {
		t.Errorf("unexpected entries %+v", got)
	}

	do(t, h, "GET", "/api/annotations/history", "")
	if hist.limit != defaultHistoryLimit {
		t.Errorf("default limit = %d", hist.limit)
	}

	if rec := do(t, h, "GET", "/api/annotations/history?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", rec.Code)
	}

	rec = do(t, h, "GET", "/api/annotations/history/labels", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("labels status = %d", rec.Code)
	}
	var counts []annotate.LabelCount
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(counts) != 2 || counts[0].Label != "happy" || counts[0].Count != 1 {
		t.Errorf("unexpected label counts %+v", counts)
	}
}

func TestHistoryDisabled(t *testing.T) {
	h := NewServer(Deps{}).Handler()
	if rec := do(t, h, "GET", "/api/annotations/history", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, "GET", "/api/annotations/history/labels", ""); rec.Code != http.StatusNotFound {
		t.Errorf("labels: status = %d, want 404", rec.Code)
	}
	if rec := do(t, h, "GET", "/api/annotations", ""); rec.Code != http.StatusNotFound {
		t.Errorf("annotations without a store: status = %d, want 404", rec.Code)
	}
}

func TestSessionControl(t *testing.T) {
	sh := &fakeSharer{state: session.StateIdle}
	mon := &fakeMonitor{state: session.StateIdle}
	h := NewServer(Deps{Sharer: sh, Monitor: mon}).Handler()

	if rec := do(t, h, "POST", "/api/sharer/start", ""); rec.Code != http.StatusOK {
		t.Fatalf("sharer start status = %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/monitor/start", `{"peer":"127.0.0.1:5000"}`); rec.Code != http.StatusOK {
		t.Fatalf("monitor start status = %d", rec.Code)
	}

	rec := do(t, h, "GET", "/api/sessions", "")
	var resp sessionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.Sharer == nil || resp.Sharer.State != session.StateListening {
		t.Errorf("unexpected sharer status %+v", resp.Sharer)
	}
	if resp.Monitor == nil || resp.Monitor.Peer != "127.0.0.1:5000" {
		t.Errorf("unexpected monitor status %+v", resp.Monitor)
	}

	do(t, h, "POST", "/api/sharer/stop", "")
	do(t, h, "POST", "/api/monitor/stop", "")
	if sh.Status().State != session.StateIdle || mon.Status().State != session.StateIdle {
		t.Error("stop did not reach the sessions")
	}
}

func TestMonitorStartValidation(t *testing.T) {
	mon := &fakeMonitor{}
	h := NewServer(Deps{Monitor: mon}).Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing peer", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, "POST", "/api/monitor/start", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	mon.err = errors.New("connection refused")
	rec := do(t, h, "POST", "/api/monitor/start", `{"peer":"127.0.0.1:1"}`)
	if rec.Code != http.StatusBadGateway || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Errorf("dial failure: status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestSharerStartFailure(t *testing.T) {
	h := NewServer(Deps{Sharer: &fakeSharer{err: errors.New("no camera")}}).Handler()
	rec := do(t, h, "POST", "/api/sharer/start", "")
	if rec.Code != http.StatusInternalServerError || !strings.Contains(rec.Body.String(), "no camera") {
		t.Errorf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestHealthAndCORS(t *testing.T) {
	h := NewServer(Deps{}).Handler()

	rec := do(t, h, "GET", "/api/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("health: status = %d body = %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	if rec := do(t, h, "OPTIONS", "/api/sessions", ""); rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec := do(t, h, "GET", "/", ""); !strings.Contains(rec.Body.String(), "FaceRelay") {
		t.Error("index page not served")
	}
	if rec := do(t, h, "GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", rec.Code)
	}
}

func TestRequestMetrics(t *testing.T) {
	m := metrics.New()
	h := NewServer(Deps{Metrics: m}).Handler()

	do(t, h, "GET", "/api/health", "")
	do(t, h, "GET", "/api/health", "")
	do(t, h, "GET", "/nope", "")

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/health", "200")); got != 2 {
		t.Errorf("health requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "other", "404")); got != 1 {
		t.Errorf("unmatched requests = %v, want 1", got)
	}

	rec := do(t, h, "GET", "/metrics", "")
	if !strings.Contains(rec.Body.String(), "facerelay_http_requests_total") {
		t.Error("metrics endpoint does not expose request counter")
	}
}

func TestAnnotationStream(t *testing.T) {
	store := annotate.NewStore()
	srv := httptest.NewServer(NewServer(Deps{Store: store}).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/annotations/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// The handler subscribes after the upgrade completes; keep appending
	// until the first result arrives.
	go func() {
		for i := 0; i < 50; i++ {
			store.Append(result("neutral"))
			time.Sleep(10 * time.Millisecond)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got annotate.Result
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Label != "neutral" || got.Box.Width != 10 {
		t.Errorf("unexpected result %+v", got)
	}
}

func TestOverlayRoutes(t *testing.T) {
	ov := overlay.NewManager()
	ov.AddWidget(overlay.NewStatsWidget("stats", func() []string { return []string{"x"} }))
	h := NewServer(Deps{Overlay: ov}).Handler()

	rec := do(t, h, "GET", "/api/overlay", "")
	var state overlayResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !state.Enabled || len(state.Widgets) != 1 || state.Widgets[0]["id"] != "stats" {
		t.Errorf("unexpected overlay state %+v", state)
	}

	rec = do(t, h, "PUT", "/api/overlay/stats", `{"x": 40, "enabled": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d body = %s", rec.Code, rec.Body.String())
	}
	w, _ := ov.GetWidget("stats")
	if w.IsEnabled() || w.Config()["x"] != 40 {
		t.Errorf("widget not updated: %v", w.Config())
	}

	if rec := do(t, h, "PUT", "/api/overlay/nope", `{}`); rec.Code != http.StatusNotFound {
		t.Errorf("unknown widget status = %d", rec.Code)
	}

	if rec := do(t, h, "PUT", "/api/overlay", `{"enabled": false}`); rec.Code != http.StatusOK {
		t.Errorf("toggle status = %d", rec.Code)
	}
	if ov.IsEnabled() {
		t.Error("overlay still enabled")
	}
	if rec := do(t, h, "PUT", "/api/overlay", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing enabled status = %d", rec.Code)
	}
}
