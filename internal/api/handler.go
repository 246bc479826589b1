package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/elea/athenaeum/internal/agent"
	"github.com/elea/athenaeum/internal/dialogue"
	"github.com/elea/athenaeum/internal/world"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	registry  *agent.Registry
	dialogues *dialogue.Manager
	clock     *world.Clock
	floor     *world.World
	heartbeat *world.Heartbeat
	logger    *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(registry *agent.Registry, dialogues *dialogue.Manager, clock *world.Clock, floor *world.World, heartbeat *world.Heartbeat, logger *zap.Logger) *Handler {
	return &Handler{
		registry:  registry,
		dialogues: dialogues,
		clock:     clock,
		floor:     floor,
		heartbeat: heartbeat,
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
		r.Get("/agents", h.listAgents)
		r.Get("/agents/{id}", h.getAgent)
		r.Get("/agents/{id}/memories", h.getMemories)
		r.Get("/agents/{id}/stream", h.getStream)
		r.Post("/agents/{id}/observe", h.observe)
		r.Post("/agents/{id}/chat", h.chatWithAgent)

		r.Get("/dialogues", h.listDialogues)
		r.Post("/dialogues", h.startDialogue)
		r.Get("/dialogues/{id}", h.getDialogue)

		r.Get("/world/status", h.worldStatus)
		r.Post("/heartbeat", h.triggerHeartbeat)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "world": "athenaeum"})
}

type agentView struct {
	Persona *agent.Persona `json:"persona"`
	Scratch agent.Scratch  `json:"scratch"`
	Nodes   int            `json:"nodes"`
}

// viewOf marshals a copy of the scratch so the response does not race a
// live beat.
func viewOf(c *agent.Controller) agentView {
	return agentView{Persona: c.Persona(), Scratch: c.ScratchView(), Nodes: c.Memory().Len()}
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	var out []agentView
	for _, c := range h.registry.List() {
		out = append(out, viewOf(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getAgent(w http.ResponseWriter, r *http.Request) {
	c, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(c))
}

// getMemories returns the agent's most recent memory nodes. ?n= caps the
// count, default 20.
func (h *Handler) getMemories(w http.ResponseWriter, r *http.Request) {
	c, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	n := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("n")); err == nil && v > 0 {
		n = v
	}
	writeJSON(w, http.StatusOK, c.Memory().RecentMemories(n))
}

// getStream returns the capped display ring.
func (h *Handler) getStream(w http.ResponseWriter, r *http.Request) {
	c, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	writeJSON(w, http.StatusOK, c.Stream())
}

type observeRequest struct {
	Description string `json:"description"`
}

func (h *Handler) observe(w http.ResponseWriter, r *http.Request) {
	c, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	var req observeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Description == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "description required"})
		return
	}
	node, err := c.Observe(r.Context(), req.Description)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, node)
}

type chatRequest struct {
	Message string `json:"message"`
}

func (h *Handler) chatWithAgent(w http.ResponseWriter, r *http.Request) {
	c, ok := h.registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "agent not found"})
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message required"})
		return
	}
	reply, err := c.ChatWithUser(r.Context(), req.Message)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (h *Handler) listDialogues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":   h.dialogues.Active(),
		"archived": h.dialogues.Archive(),
	})
}

type startDialogueRequest struct {
	A     string `json:"a"`
	B     string `json:"b"`
	Topic string `json:"topic,omitempty"`
}

func (h *Handler) startDialogue(w http.ResponseWriter, r *http.Request) {
	var req startDialogueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.A == "" || req.B == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "participants a and b required"})
		return
	}
	d, err := h.dialogues.Start(r.Context(), req.A, req.B, req.Topic)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dialogue.ErrParticipantUnknown):
			status = http.StatusNotFound
		case errors.Is(err, dialogue.ErrAlreadyConversing):
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	h.floor.EnterDialogue(d)
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) getDialogue(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dialogues.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "dialogue not found"})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) worldStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"world":       "Athenaeum",
		"world_time":  h.clock.WorldTime(),
		"agent_count": len(h.registry.List()),
		"dialogues":   len(h.dialogues.Active()),
	})
}

func (h *Handler) triggerHeartbeat(w http.ResponseWriter, r *http.Request) {
	fired := h.heartbeat.FireNow()
	writeJSON(w, http.StatusOK, map[string]int{"fired": fired})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
