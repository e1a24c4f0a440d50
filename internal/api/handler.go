package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/seryn/herald/internal/history"
	"github.com/seryn/herald/internal/orchestrator"
	"github.com/seryn/herald/internal/platform"
	"github.com/seryn/herald/internal/template"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers. The archive and webhook
// backend are optional; their routes degrade gracefully when absent.
type Handler struct {
	orch      *orchestrator.Orchestrator
	templates *template.Store
	archive   *history.Store
	webhook   *platform.WebhookBackend
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	orch *orchestrator.Orchestrator,
	templates *template.Store,
	archive *history.Store,
	webhook *platform.WebhookBackend,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		orch:      orch,
		templates: templates,
		archive:   archive,
		webhook:   webhook,
		logger:    logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/platforms", h.listPlatforms)
		r.Get("/templates", h.listTemplates)
		r.Post("/templates", h.createTemplate)

		r.Post("/broadcast", h.sendBroadcast)
		r.Post("/reactions", h.reactAll)
		r.Delete("/messages", h.deleteAll)

		r.Get("/history/broadcasts", h.recentBroadcasts)
		r.Get("/history/messages", h.recentMessages)

		if h.webhook != nil {
			r.Mount("/webhook", h.webhook.Routes())
		}
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "herald"})
}

func (h *Handler) listPlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{
		"available": h.orch.Available(),
		"active":    h.orch.Active(),
	})
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	type tmpl struct {
		Name     string   `json:"name"`
		Content  string   `json:"content"`
		Tags     []string `json:"tags,omitempty"`
		Category string   `json:"category,omitempty"`
	}
	var out []tmpl
	for _, t := range h.templates.List() {
		out = append(out, tmpl{Name: t.Name, Content: t.Content, Tags: t.Tags, Category: t.Category})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string   `json:"name"`
		Content  string   `json:"content"`
		Tags     []string `json:"tags,omitempty"`
		Category string   `json:"category,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Name == "" || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and content are required"})
		return
	}
	h.templates.Put(template.Template{
		Name:     req.Name,
		Content:  req.Content,
		Tags:     req.Tags,
		Category: req.Category,
	})
	writeJSON(w, http.StatusCreated, req)
}

func (h *Handler) sendBroadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Template  string            `json:"template"`
		Platforms []string          `json:"platforms,omitempty"`
		Params    map[string]string `json:"params,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Template == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "template is required"})
		return
	}

	results := h.orch.Broadcast(r.Context(), req.Template, req.Platforms, req.Params)
	if len(results) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "broadcast aborted: unknown template or missing parameter",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) reactAll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"message_id"`
		Reaction  string `json:"reaction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.MessageID == "" || req.Reaction == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message_id and reaction are required"})
		return
	}
	results := h.orch.ReactAll(r.Context(), req.MessageID, req.Reaction)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) deleteAll(w http.ResponseWriter, r *http.Request) {
	// Message ids are composite ("channel/message"), so they travel as a
	// query parameter rather than a path segment.
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	results := h.orch.DeleteAll(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) recentBroadcasts(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history disabled"})
		return
	}
	recs, err := h.archive.RecentBroadcasts(r.Context(), queryLimit(r))
	if err != nil {
		h.logger.Error("list broadcasts failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history query failed"})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) recentMessages(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "history disabled"})
		return
	}
	msgs, err := h.archive.RecentMessages(r.Context(), r.URL.Query().Get("platform"), queryLimit(r))
	if err != nil {
		h.logger.Error("list messages failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history query failed"})
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
