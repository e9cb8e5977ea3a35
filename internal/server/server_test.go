package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"kis-quote-gateway/internal/kis"
	"kis-quote-gateway/internal/quote"
	"kis-quote-gateway/internal/store"
	"kis-quote-gateway/internal/types"
)

type fakeQuotes struct {
	overviewErr error
	seriesErr   error

	lastRange  string
	lastFrom   string
	lastTo     string
	lastBypass bool
}

func (f *fakeQuotes) Overview(ctx context.Context, code string) (types.Overview, error) {
	if f.overviewErr != nil {
		return types.Overview{}, f.overviewErr
	}
	return types.Overview{Code: code, LastPrice: 71500}, nil
}

func (f *fakeQuotes) Series(ctx context.Context, client, code, rng, from, to string, bypass bool) (types.Series, error) {
	f.lastRange, f.lastFrom, f.lastTo, f.lastBypass = rng, from, to, bypass
	if f.seriesErr != nil {
		return types.Series{}, f.seriesErr
	}
	return types.Series{Code: code, Range: rng}, nil
}

type fakeStreamer struct {
	ticks   []types.Tick
	stopped chan struct{}
}

func (f *fakeStreamer) Stream(ctx context.Context, code string, out chan<- types.Tick) error {
	for _, tick := range f.ticks {
		select {
		case out <- tick:
		case <-ctx.Done():
			close(f.stopped)
			return nil
		}
	}
	<-ctx.Done()
	close(f.stopped)
	return nil
}

func serverConfig() *store.Config {
	cfg := &store.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8000
	cfg.Server.CORSOrigins = "*"
	return cfg
}

func newTestServer(q *fakeQuotes, st *fakeStreamer) *httptest.Server {
	if st == nil {
		st = &fakeStreamer{stopped: make(chan struct{})}
	}
	return httptest.NewServer(New(serverConfig(), q, st).Handler())
}

func TestOverviewEndpoint(t *testing.T) {
	srv := newTestServer(&fakeQuotes{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stocks/005930/overview")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var ov types.Overview
	if err := json.NewDecoder(resp.Body).Decode(&ov); err != nil {
		t.Fatal(err)
	}
	if ov.Code != "005930" || ov.LastPrice != 71500 {
		t.Errorf("unexpected body: %+v", ov)
	}
}

func TestOverviewRejectsBadCode(t *testing.T) {
	srv := newTestServer(&fakeQuotes{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stocks/93;DROP/overview")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestOverviewUpstreamErrorMapping(t *testing.T) {
	q := &fakeQuotes{overviewErr: &kis.APIError{Status: 500, Code: "EGW00201", Message: "capacity exceeded"}}
	srv := newTestServer(q, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stocks/005930/overview")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.StatusCode != 500 || body.Code != "EGW00201" || body.Message != "capacity exceeded" {
		t.Errorf("unexpected error body: %+v", body)
	}
}

func TestSeriesEndpointForwardsQuery(t *testing.T) {
	q := &fakeQuotes{}
	srv := newTestServer(q, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stocks/005930/series?range=1w&from=20240301&to=20240308&fresh=1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if q.lastRange != "1w" || q.lastFrom != "20240301" || q.lastTo != "20240308" || !q.lastBypass {
		t.Errorf("query not forwarded: %+v", q)
	}
}

func TestSeriesDefaultsToIntraday(t *testing.T) {
	q := &fakeQuotes{}
	srv := newTestServer(q, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stocks/005930/series")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if q.lastRange != "1d" || q.lastBypass {
		t.Errorf("defaults not applied: range=%q bypass=%v", q.lastRange, q.lastBypass)
	}
}

func TestSeriesValidationErrorMapsTo400(t *testing.T) {
	q := &fakeQuotes{seriesErr: &quote.ValidationError{Message: "unsupported range"}}
	srv := newTestServer(q, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stocks/005930/series?range=1y")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeQuotes{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	srv := newTestServer(&fakeQuotes{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestStreamEndpointDeliversTicksAndStopsOnDisconnect(t *testing.T) {
	st := &fakeStreamer{
		ticks:   []types.Tick{{Code: "005930", Price: 71500}},
		stopped: make(chan struct{}),
	}
	srv := newTestServer(&fakeQuotes{}, st)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stocks/ws/current?code=005930"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	var tick types.Tick
	if err := conn.ReadJSON(&tick); err != nil {
		t.Fatalf("read tick: %v", err)
	}
	if tick.Code != "005930" || tick.Price != 71500 {
		t.Errorf("unexpected tick: %+v", tick)
	}

	conn.Close()
	select {
	case <-st.stopped:
	case <-time.After(5 * time.Second):
		t.Error("stream was not cancelled after client disconnect")
	}
}

func TestStreamEndpointRejectsBadCode(t *testing.T) {
	srv := newTestServer(&fakeQuotes{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stocks/ws/current?code=x")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
