package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mapview/internal/maplist"
	"mapview/internal/route"
	"mapview/internal/settings"
	"mapview/internal/tiles"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	logger   *zap.Logger
	scanner  *maplist.Scanner
	loader   *tiles.Loader
	settings settings.Store
	warmup   bool
}

func New(logger *zap.Logger, scanner *maplist.Scanner, loader *tiles.Loader, store settings.Store, warmup bool) *Handlers {
	return &Handlers{
		logger:   logger,
		scanner:  scanner,
		loader:   loader,
		settings: store,
		warmup:   warmup,
	}
}

// Register mounts every handler on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/maps", h.HandleMaps)
	mux.HandleFunc("/api/maps/", h.HandleMapRoutes)
	mux.HandleFunc("/api/tiles/", h.HandleTile)
	mux.HandleFunc("/api/route", h.HandleRoute)
	mux.HandleFunc("/api/lines", h.HandleLines)
	mux.HandleFunc("/api/settings", h.HandleSettings)
	mux.HandleFunc("/api/stats", h.HandleStats)
	mux.HandleFunc("/healthz", h.HandleHealthz)
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", h.extractIP(r)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

type mapsResponse struct {
	Active string            `json:"active"`
	Maps   []maplist.MapInfo `json:"maps"`
}

func (h *Handlers) HandleMaps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, mapsResponse{
		Active: h.loader.MapDirectory(),
		Maps:   h.scanner.GetMaps(),
	})
}

// HandleMapRoutes serves POST /api/maps/{name}/select.
func (h *Handlers) HandleMapRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/maps/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	if len(parts) != 2 || parts[1] != "select" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := h.scanner.GetMap(parts[0])
	if info == nil {
		http.Error(w, "Map not found", http.StatusNotFound)
		return
	}

	h.SelectMap(info)
	writeJSON(w, http.StatusOK, info)
}

// SelectMap makes info the active map. With warmup enabled every base tile,
// and every relief tile while relief is shown, is prefetched.
func (h *Handlers) SelectMap(info *maplist.MapInfo) {
	h.loader.SetMapDirectory(info.Name)
	if !h.warmup {
		return
	}

	kinds := []tiles.Kind{tiles.KindBase}
	if prefs, err := h.settings.Load(); err == nil && prefs.ShowReliefImages {
		kinds = append(kinds, tiles.KindRelief)
	}

	queued := 0
	for _, kind := range kinds {
		coords, err := h.scanner.Tiles(info.Name, kind.Dir())
		if err != nil {
			h.logger.Debug("No tiles to warm up", zap.String("map", info.Name), zap.String("kind", kind.String()), zap.Error(err))
			continue
		}
		for _, c := range coords {
			h.loader.Prefetch(kind, c.X, c.Y)
		}
		queued += len(coords)
	}
	h.logger.Info("Starting tile warmup", zap.String("map", info.Name), zap.Int("tiles", queued))
}

// HandleTile serves GET /api/tiles/{base|relief}/{x}/{y}.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/tiles/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	kind, err := tiles.ParseKind(parts[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	x, err := strconv.Atoi(parts[1])
	if err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}
	y, err := strconv.Atoi(strings.TrimSuffix(parts[2], ".png"))
	if err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}

	if kind == tiles.KindRelief {
		prefs, err := h.settings.Load()
		if err != nil {
			h.logger.Warn("Failed to load settings", zap.Error(err))
		}
		if !prefs.ShowReliefImages {
			http.Error(w, "Relief tiles are disabled", http.StatusNotFound)
			return
		}
	}

	img, ok, err := h.loader.Get(r.Context(), kind, x, y)
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			return
		}
		h.logger.Error("Failed to load tile", zap.String("kind", kind.String()), zap.Int("x", x), zap.Int("y", y), zap.Error(err))
		http.Error(w, "Failed to load tile", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Tile not found", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		h.logger.Error("Failed to encode tile", zap.Error(err))
		http.Error(w, "Failed to encode tile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(buf.Bytes())
}

type routeRequest struct {
	Points   []route.Point   `json:"points"`
	Geometry *route.Geometry `json:"geometry,omitempty"`
}

type routeResponse struct {
	Route []route.Point `json:"route"`
}

// HandleRoute translates a route for the active map, or for the geometry
// given in the request.
func (h *Handlers) HandleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req routeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	calc, ok := h.calculator(req.Geometry)
	if !ok {
		http.Error(w, "No map selected", http.StatusConflict)
		return
	}

	translated := calc.TranslatedRoute(req.Points)
	if translated == nil {
		translated = []route.Point{}
	}
	writeJSON(w, http.StatusOK, routeResponse{Route: translated})
}

type linesRequest struct {
	XS       []float64       `json:"xs"`
	YS       []float64       `json:"ys"`
	Geometry *route.Geometry `json:"geometry,omitempty"`
}

type linesResponse struct {
	Lines []route.Polyline `json:"lines"`
}

func (h *Handlers) HandleLines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req linesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	calc, ok := h.calculator(req.Geometry)
	if !ok {
		http.Error(w, "No map selected", http.StatusConflict)
		return
	}

	lines, err := calc.AllNormalizedLines(req.XS, req.YS)
	if err != nil {
		if errors.Is(err, route.ErrInvalidArgument) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to build lines", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, linesResponse{Lines: lines})
}

func (h *Handlers) calculator(override *route.Geometry) (*route.Calculator, bool) {
	if override != nil {
		return route.NewFromGeometry(*override), true
	}
	info := h.scanner.GetMap(h.loader.MapDirectory())
	if info == nil {
		return nil, false
	}
	return route.NewFromGeometry(info.Geometry), true
}

func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s, err := h.settings.Load()
		if err != nil {
			h.logger.Warn("Failed to load settings, using defaults", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, s)
	case http.MethodPut:
		var s settings.Settings
		if err := decodeJSON(w, r, &s); err != nil {
			http.Error(w, "Invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := h.settings.Save(s); err != nil {
			h.logger.Error("Failed to save settings", zap.Error(err))
			http.Error(w, "Failed to save settings", http.StatusInternalServerError)
			return
		}
		h.logger.Info("Settings updated", zap.Bool("show_relief_images", s.ShowReliefImages))
		writeJSON(w, http.StatusOK, s)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.loader.Stats())
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
// but it's fine for a local preview
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
