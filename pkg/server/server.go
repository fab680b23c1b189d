// Package server exposes the overlay over HTTP for debugging: marker
// listings, activation, audits, PNG snapshots, Prometheus metrics and a
// websocket stream of selection events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/1F47E/geo-overlay/pkg/mapview"
	"github.com/1F47E/geo-overlay/pkg/metrics"
	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/overlay"
	"github.com/1F47E/geo-overlay/pkg/snapshot"
)

type Config struct {
	Addr     string
	AllowAll bool
}

type Server struct {
	cfg        Config
	ov         *overlay.Overlay
	view       *mapview.View
	metrics    *metrics.Metrics
	log        zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// localOrigins are the browser origins allowed unless AllowAll is set.
var localOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}

// New creates a server for ov drawn over view.
func New(cfg Config, ov *overlay.Overlay, view *mapview.View, m *metrics.Metrics, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		ov:      ov,
		view:    view,
		metrics: m,
		log:     log.With().Str("component", "server").Logger(),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.router = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	corsOpts := cors.Options{
		AllowedOrigins:   localOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/ws/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		r.Get("/healthz", s.handleHealthz)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
		r.Get("/snapshot.png", s.handleSnapshot)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/markers", s.handleListMarkers)
			r.Put("/markers", s.handleSetLocations)
			r.Get("/markers/visible", s.handleVisible)
			r.Get("/markers/nearest", s.handleNearest)
			r.Get("/markers/{id}/plan", s.handlePlan)
			r.Post("/markers/{id}/activate", s.handleActivate)
			r.Post("/click", s.handleClick)
			r.Get("/popup", s.handlePopup)
			r.Post("/popup/close", s.handleClosePopup)
			r.Get("/viewport", s.handleGetViewport)
			r.Put("/viewport", s.handleSetViewport)
			r.Post("/viewport/pan", s.handlePan)
			r.Get("/audit", s.handleAudit(false))
			r.Post("/audit/fix", s.handleAudit(true))
		})
	})

	return r
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

// Start listens on the configured address until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("debug server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		s.metrics.ObserveHTTPRequest(r.Method, path, ww.Status(), time.Since(start))
		s.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"markers": s.ov.Len(),
	})
}

func (s *Server) handleListMarkers(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"markers": s.ov.Markers()})
}

func (s *Server) handleSetLocations(w http.ResponseWriter, r *http.Request) {
	var recs []models.LocationRecord
	if err := decodeJSONStrict(r, &recs); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.ov.SetLocations(recs))
}

func (s *Server) handleVisible(w http.ResponseWriter, _ *http.Request) {
	ids := s.ov.Visible()
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"visible": ids})
}

func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_location", "lat and lon are required")
		return
	}
	n := 5
	if v := q.Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid_count", "n must be a positive integer")
			return
		}
		n = parsed
	}

	ids := s.ov.Nearest(models.Location{Lat: lat, Lon: lon}, n)
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"nearest": ids})
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.ov.Plan(chi.URLParam(r, "id"))
	if err != nil {
		s.writeOverlayError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ov.Activate(id); err != nil {
		s.writeOverlayError(w, err)
		return
	}
	s.writePopupState(w, http.StatusAccepted)
}

type clickRequest struct {
	ElementID string   `json:"element_id"`
	X         *float64 `json:"x"`
	Y         *float64 `json:"y"`
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req clickRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	elementID := req.ElementID
	if elementID == "" && req.X != nil && req.Y != nil {
		if id, ok := s.ov.HitTest(*req.X, *req.Y); ok {
			elementID = overlay.MarkerElementID(id)
		}
	}

	var handled bool
	if elementID != "" {
		handled = s.ov.Click(elementID)
	} else {
		handled = s.ov.ClickOutside()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"element_id": elementID, "handled": handled})
}

func (s *Server) handlePopup(w http.ResponseWriter, _ *http.Request) {
	s.writePopupState(w, http.StatusOK)
}

func (s *Server) handleClosePopup(w http.ResponseWriter, r *http.Request) {
	var closed bool
	if id := r.URL.Query().Get("id"); id != "" {
		closed = s.ov.Close(id)
	} else {
		closed = s.ov.CloseAll()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"closed": closed})
}

type viewportRequest struct {
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`
	Zoom      float64 `json:"zoom"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
}

func (s *Server) handleGetViewport(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.view.Viewport())
}

func (s *Server) handleSetViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	vp := s.view.Viewport()
	vp.Center = models.Location{Lat: req.CenterLat, Lon: req.CenterLon}
	vp.Zoom = req.Zoom
	if req.Width > 0 && req.Height > 0 {
		vp.Width, vp.Height = req.Width, req.Height
	}
	if !vp.Ready() {
		s.writeError(w, http.StatusUnprocessableEntity, "invalid_viewport", "viewport centre or size out of range")
		return
	}
	s.view.SetViewport(vp)
	s.writeJSON(w, http.StatusOK, s.view.Viewport())
}

type panRequest struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

func (s *Server) handlePan(w http.ResponseWriter, r *http.Request) {
	var req panRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.view.Pan(req.DX, req.DY)
	s.writeJSON(w, http.StatusOK, s.view.Viewport())
}

func (s *Server) handleAudit(fix bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, s.ov.Audit(fix))
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	opts := snapshot.Options{}
	if guides, _ := strconv.ParseBool(r.URL.Query().Get("guides")); guides {
		pad := s.ov.Padding()
		opts.Padding = &pad
	}
	rend, err := snapshot.NewRenderer(s.view.Viewport(), opts)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "viewport_not_ready", err.Error())
		return
	}
	rend.Render(s.ov.Surface())

	w.Header().Set("Content-Type", "image/png")
	if err := rend.EncodePNG(w); err != nil {
		s.log.Warn().Err(err).Msg("snapshot encode failed")
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the upgrade so no event after the handshake is missed.
	events, cancel := s.ov.Events().Subscribe(0)
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug().Err(err).Msg("websocket read")
				}
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.Debug().Err(err).Msg("websocket write")
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// checkOrigin applies the CORS origin policy to websocket handshakes.
// Requests without an Origin header come from non-browser clients.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.cfg.AllowAll {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, pattern := range localOrigins {
		if matchOrigin(pattern, origin) {
			return true
		}
	}
	s.log.Warn().Str("origin", origin).Msg("websocket origin rejected")
	return false
}

// matchOrigin matches origin against a pattern with at most one "*".
func matchOrigin(pattern, origin string) bool {
	prefix, suffix, wild := strings.Cut(pattern, "*")
	if !wild {
		return strings.EqualFold(pattern, origin)
	}
	origin = strings.ToLower(origin)
	return len(origin) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(origin, strings.ToLower(prefix)) &&
		strings.HasSuffix(origin, strings.ToLower(suffix))
}

func (s *Server) writePopupState(w http.ResponseWriter, status int) {
	open, _ := s.ov.Open()
	pending, _ := s.ov.Pending()
	s.writeJSON(w, status, map[string]any{"open": open, "pending": pending})
}

func (s *Server) writeOverlayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, overlay.ErrUnknownMarker):
		s.writeError(w, http.StatusNotFound, "unknown_marker", err.Error())
	case errors.Is(err, overlay.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "overlay_closed", err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	})
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}
