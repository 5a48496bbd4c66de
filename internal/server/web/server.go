// Package web exposes the HTTP surface: the relay websocket endpoint, the
// NIP-11 information document, and the read-only content API.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/nostrhome/hub/internal/model"
	"github.com/nostrhome/hub/internal/relay"
	"github.com/nostrhome/hub/internal/service"
)

// SiteConfig carries branding for the index and config endpoints.
type SiteConfig struct {
	Name     string `json:"site_name"`
	Subtitle string `json:"site_subtitle"`
}

// Server routes HTTP traffic to the relay and the content service.
type Server struct {
	relay   *relay.Relay
	ws      http.Handler
	content service.ContentService
	site    SiteConfig
	log     *zap.Logger
	mux     *http.ServeMux
}

// New constructs the HTTP server with logging and recovery middleware.
func New(r *relay.Relay, ws http.Handler, content service.ContentService, site SiteConfig, log *zap.Logger) *Server {
	s := &Server{relay: r, ws: ws, content: content, site: site, log: log, mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("GET /api/posts", s.handlePosts)
	s.mux.HandleFunc("GET /api/quips", s.handleQuips)
	s.mux.HandleFunc("GET /api/images", s.handleImages)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("POST /api/update-cache", s.handleUpdateCache)
	s.mux.HandleFunc("GET /api/relay/info", s.handleRelayInfo)
	s.mux.HandleFunc("GET /api/relay/stats", s.handleRelayStats)
	return s
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return Recover(s.log)(Logging(s.log)(s.mux))
}

// handleRoot serves three personalities on "/": the relay websocket for
// upgrading clients, the NIP-11 document for nostr+json requests, and a
// small index document for everyone else.
func (s *Server) handleRoot(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		s.ws.ServeHTTP(w, req)
		return
	}
	if strings.Contains(req.Header.Get("Accept"), "application/nostr+json") {
		s.writeJSON(w, http.StatusOK, s.relay.Info())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":     s.site.Name,
		"subtitle": s.site.Subtitle,
	})
}

func pageParam(req *http.Request) int {
	page, err := strconv.Atoi(req.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func (s *Server) handlePosts(w http.ResponseWriter, req *http.Request) {
	s.servePage(w, req, "posts", s.content.Posts)
}

func (s *Server) handleQuips(w http.ResponseWriter, req *http.Request) {
	s.servePage(w, req, "quips", s.content.Quips)
}

func (s *Server) handleImages(w http.ResponseWriter, req *http.Request) {
	s.servePage(w, req, "images", s.content.Images)
}

func (s *Server) servePage(w http.ResponseWriter, req *http.Request,
	kind string, fetch func(ctx context.Context, page int) ([]model.CachedNote, error)) {
	page := pageParam(req)
	notes, err := fetch(req.Context(), page)
	if err != nil {
		s.log.Error("fetch "+kind, zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch " + kind})
		return
	}
	if notes == nil {
		notes = []model.CachedNote{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		kind:   notes,
		"page": page,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, req *http.Request) {
	counts, err := s.content.Stats(req.Context())
	if err != nil {
		s.log.Error("fetch stats", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch statistics"})
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.site)
}

func (s *Server) handleUpdateCache(w http.ResponseWriter, req *http.Request) {
	counts, err := s.content.UpdateCache(req.Context())
	if err != nil {
		s.log.Error("update cache", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{
			"success": false,
			"message": "cache update failed",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"processed": counts,
	})
}

func (s *Server) handleRelayInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.relay.Info())
}

func (s *Server) handleRelayStats(w http.ResponseWriter, req *http.Request) {
	stats, err := s.relay.Stats(req.Context())
	if err != nil {
		s.log.Error("relay stats", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to fetch relay stats"})
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", zap.Error(err))
	}
}
