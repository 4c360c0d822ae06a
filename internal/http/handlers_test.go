package http

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"go.uber.org/zap"

	"mapview/internal/maplist"
	"mapview/internal/route"
	"mapview/internal/settings"
	"mapview/internal/tiles"
)

func testPNG(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type testServer struct {
	handler  http.Handler
	handlers *Handlers
	loader   *tiles.Loader
	store    *settings.MemoryStore
}

func newTestServer(t *testing.T, warmup bool) *testServer {
	t.Helper()

	tile := testPNG(t)
	assets := fstest.MapFS{
		"world/map.json":            {Data: []byte(`{"wrap_x":true,"width":100,"height":80}`)},
		"world/baseTiles/0_0.png":   {Data: tile},
		"world/baseTiles/1_0.png":   {Data: tile},
		"world/baseTiles/-1_0.png":  {Data: tile},
		"world/reliefTiles/0_0.png": {Data: tile},
		"flat/baseTiles/0_0.png":    {Data: tile},
	}

	log := zap.NewNop()
	scanner := maplist.New(assets, log)
	if err := scanner.Scan(); err != nil {
		t.Fatal(err)
	}
	loader, err := tiles.New(assets, tiles.Options{MaxTiles: 8, Workers: 2}, log)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(loader.Close)

	store := settings.NewMemoryStore()
	h := New(log, scanner, loader, store, warmup)
	mux := http.NewServeMux()
	h.Register(mux)

	return &testServer{
		handler:  h.RequestLoggingMiddleware(mux),
		handlers: h,
		loader:   loader,
		store:    store,
	}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleTile(t *testing.T) {
	s := newTestServer(t, false)
	s.do(http.MethodPost, "/api/maps/world/select", "")

	tests := []struct {
		name   string
		target string
		status int
	}{
		{"base tile", "/api/tiles/base/0/0", http.StatusOK},
		{"png suffix", "/api/tiles/base/1/0.png", http.StatusOK},
		{"missing tile", "/api/tiles/base/7/7", http.StatusNotFound},
		{"relief disabled", "/api/tiles/relief/0/0", http.StatusNotFound},
		{"bad kind", "/api/tiles/water/0/0", http.StatusBadRequest},
		{"bad coordinate", "/api/tiles/base/x/0", http.StatusBadRequest},
		{"negative coordinate", "/api/tiles/base/-1/0", http.StatusOK},
		{"missing negative tile", "/api/tiles/base/0/-3", http.StatusNotFound},
		{"short path", "/api/tiles/base/0", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, tt.target, "")
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status == http.StatusOK {
				if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
					t.Errorf("Content-Type = %q", ct)
				}
				if _, err := png.Decode(rec.Body); err != nil {
					t.Errorf("response is not a png: %v", err)
				}
			}
		})
	}
}

func TestReliefTilesFollowSettings(t *testing.T) {
	s := newTestServer(t, false)
	s.do(http.MethodPost, "/api/maps/world/select", "")

	rec := s.do(http.MethodPut, "/api/settings", `{"show_relief_images":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT settings status = %d", rec.Code)
	}

	rec = s.do(http.MethodGet, "/api/tiles/relief/0/0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("relief status = %d, want 200", rec.Code)
	}

	rec = s.do(http.MethodGet, "/api/settings", "")
	var got settings.Settings
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !got.ShowReliefImages {
		t.Error("expected relief images to be enabled")
	}
}

func TestSelectMap(t *testing.T) {
	s := newTestServer(t, false)

	if rec := s.do(http.MethodPost, "/api/maps/nowhere/select", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown map status = %d, want 404", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/maps/world/select", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET select status = %d, want 405", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/maps/world/select", ""); rec.Code != http.StatusOK {
		t.Fatalf("select status = %d, want 200", rec.Code)
	}
	if got := s.loader.MapDirectory(); got != "world" {
		t.Errorf("MapDirectory() = %q, want world", got)
	}

	rec := s.do(http.MethodGet, "/api/maps", "")
	var resp mapsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Active != "world" || len(resp.Maps) != 2 {
		t.Errorf("maps response = %+v", resp)
	}
}

func TestSelectMapWarmsUpTiles(t *testing.T) {
	s := newTestServer(t, true)

	s.handlers.SelectMap(&maplist.MapInfo{Name: "world"})
	s.loader.Wait()

	if got := s.loader.Stats().Live; got != 3 {
		t.Errorf("live tiles after warmup = %d, want 2", got)
	}
}

func TestHandleRoute(t *testing.T) {
	s := newTestServer(t, false)

	body := `{"points":[{"x":0,"y":0},{"x":99,"y":0}]}`
	if rec := s.do(http.MethodPost, "/api/route", body); rec.Code != http.StatusConflict {
		t.Errorf("status without active map = %d, want 409", rec.Code)
	}

	s.do(http.MethodPost, "/api/maps/world/select", "")
	rec := s.do(http.MethodPost, "/api/route", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp routeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	want := []route.Point{{X: 0, Y: 0}, {X: -1, Y: 0}}
	if len(resp.Route) != 2 || resp.Route[0] != want[0] || resp.Route[1] != want[1] {
		t.Errorf("route = %v, want %v", resp.Route, want)
	}
}

func TestHandleRouteWithGeometryOverride(t *testing.T) {
	s := newTestServer(t, false)

	body := `{"points":[{"x":0,"y":0},{"x":0,"y":79}],"geometry":{"wrap_y":true,"width":100,"height":80}}`
	rec := s.do(http.MethodPost, "/api/route", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp routeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Route[1] != (route.Point{X: 0, Y: -1}) {
		t.Errorf("second point = %v, want {0 -1}", resp.Route[1])
	}
}

func TestHandleLines(t *testing.T) {
	s := newTestServer(t, false)
	s.do(http.MethodPost, "/api/maps/world/select", "")

	rec := s.do(http.MethodPost, "/api/lines", `{"xs":[0,1],"ys":[0,1]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp linesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Lines) != 3 {
		t.Errorf("got %d lines, want 3", len(resp.Lines))
	}

	if rec := s.do(http.MethodPost, "/api/lines", `{"xs":[0,1],"ys":[0]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("mismatched status = %d, want 400", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/lines", `{"xs":`); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed status = %d, want 400", rec.Code)
	}
}

func TestHandleHealthzAndStats(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("expected a request id header")
	}

	rec = s.do(http.MethodGet, "/api/stats", "")
	if rec.Code != http.StatusOK {
		t.Errorf("stats status = %d", rec.Code)
	}
}
