package handlers

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/abrezinsky/eventxp/internal/auth"
	"github.com/abrezinsky/eventxp/internal/models"
	"github.com/abrezinsky/eventxp/internal/services"
)

const (
	defaultQRSize = 256
	minQRSize     = 64
	maxQRSize     = 1024
)

func actor(r *http.Request) models.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}

// ==================== Probes ====================

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			h.Log.Warn("Health check failed", "error", err)
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Store: "unreachable"})
			return
		}
	}
	respondOK(w, HealthResponse{Status: "ok", Store: "ok"})
}

// ==================== Events ====================

func (h *Handlers) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.EventFilter{
		Status:        models.EventStatus(q.Get("status")),
		RequestedBy:   q.Get("requestedBy"),
		Organizer:     q.Get("organizer"),
		Member:        q.Get("member"),
		ParentEventID: q.Get("parentEventId"),
	}
	if v := q.Get("newest"); v != "" {
		newest, err := strconv.ParseBool(v)
		if err != nil {
			h.respondError(w, r, BadRequest("Invalid newest parameter"))
			return
		}
		filter.NewestFirst = newest
	}
	limit, err := parseIntQuery(r, "limit", 0)
	if err != nil || limit < 0 {
		h.respondError(w, r, BadRequest("Invalid limit parameter"))
		return
	}
	filter.Limit = limit

	events, err := h.Lifecycle.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	respondOK(w, EventsResponse{Events: events, Count: len(events)})
}

func (h *Handlers) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Lifecycle.Get(r.Context(), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, ev)
}

func (h *Handlers) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req services.EventInput
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Lifecycle.Create(r.Context(), actor(r), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondCreated(w, out)
}

func (h *Handlers) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req services.EventInput
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Lifecycle.Update(r.Context(), actor(r), eventID(r), req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	out, err := h.Lifecycle.Delete(r.Context(), actor(r), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleTransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	out, err := h.Lifecycle.TransitionStatus(r.Context(), actor(r), eventID(r), req.Status, req.Reason, req.Correct)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

func (h *Handlers) handleCloseEvent(w http.ResponseWriter, r *http.Request) {
	out, err := h.Lifecycle.Close(r.Context(), actor(r), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondOK(w, out)
}

// ==================== QR Codes ====================

// eventLink is the public URL participants open to reach an event
func (h *Handlers) eventLink(r *http.Request, id string) string {
	base := h.publicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return strings.TrimRight(base, "/") + "/events/" + url.PathEscape(id)
}

func (h *Handlers) handleEventQR(w http.ResponseWriter, r *http.Request) {
	size, err := parseIntQuery(r, "size", defaultQRSize)
	if err != nil || size < minQRSize || size > maxQRSize {
		h.respondError(w, r, BadRequest("size must be between 64 and 1024"))
		return
	}

	ev, err := h.Lifecycle.Get(r.Context(), eventID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	png, err := qrcode.Encode(h.eventLink(r, ev.ID), qrcode.Medium, size)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(png)
}
