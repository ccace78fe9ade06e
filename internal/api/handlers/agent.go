package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cloo-solutions/chimera/internal/api"
	"github.com/cloo-solutions/chimera/internal/domain"
)

type AgentRunner interface {
	Run(ctx context.Context, req domain.AgentRequest) <-chan domain.AgentEvent
}

type AgentHandler struct {
	runner AgentRunner
}

func NewAgentHandler(runner AgentRunner) *AgentHandler {
	return &AgentHandler{runner: runner}
}

// Run streams agent events as server-sent events. Each event is one
// "data: <json>" frame; the stream ends after the summary event. A client that
// disconnects cancels the request context, which stops generation.
func (h *AgentHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req domain.AgentRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		api.HandleError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := h.runner.Run(r.Context(), req)
	for ev := range events {
		if err := writeEvent(w, ev); err != nil {
			go drain(events)
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, ev domain.AgentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}

func drain(events <-chan domain.AgentEvent) {
	for range events {
	}
}
