package video

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/streamtube/streamtube/internal/auth"
	"github.com/streamtube/streamtube/internal/httputil"
)

type subscriptionResponse struct {
	ID           string `json:"id"`
	SubscriberID string `json:"subscriberId"`
	ChannelID    string `json:"channelId"`
}

// Subscribe records a subscriber-to-channel edge. Repeat subscriptions are
// accepted as-is; the edge is create-only.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	channelID := chi.URLParam(r, "channelId")
	if uuid.Validate(channelID) != nil {
		httputil.WriteError(w, http.StatusBadRequest, "a valid channel id is required")
		return
	}
	if channelID == user.ID {
		httputil.WriteError(w, http.StatusBadRequest, "cannot subscribe to yourself")
		return
	}

	var exists bool
	err := h.db.QueryRow(r.Context(),
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, channelID,
	).Scan(&exists)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to look up channel")
		return
	}
	if !exists {
		httputil.WriteError(w, http.StatusNotFound, "channel not found")
		return
	}

	sub := subscriptionResponse{SubscriberID: user.ID, ChannelID: channelID}
	err = h.db.QueryRow(r.Context(),
		`INSERT INTO subscriptions (subscriber_id, channel_id) VALUES ($1, $2) RETURNING id`,
		user.ID, channelID,
	).Scan(&sub.ID)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	httputil.WriteData(w, http.StatusCreated, &sub, "subscribed successfully")
}
