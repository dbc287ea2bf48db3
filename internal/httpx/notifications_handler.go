package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/pickup-reservations/internal/notify"
)

type NotificationsHandler struct {
	Inbox *notify.Inbox
	Log   zerolog.Logger
}

type markReadReq struct {
	UserID string `json:"user_id"`
}

func (h *NotificationsHandler) Register(r chi.Router) {
	r.Get("/users/{id}/notifications", h.list)
	r.Post("/notifications/{id}/read", h.markRead)
}

func (h *NotificationsHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Inbox.List(ctx, chi.URLParam(r, "id"), limitParam(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// markRead takes the recipient from the body or, failing that, the X-User-Id header.
func (h *NotificationsHandler) markRead(w http.ResponseWriter, r *http.Request) {
	var req markReadReq
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	user := req.UserID
	if user == "" {
		user = r.Header.Get("X-User-Id")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Inbox.MarkRead(ctx, chi.URLParam(r, "id"), user); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
