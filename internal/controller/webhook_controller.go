package controller

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cassiomorais/txops/internal/application/webhook"
	"github.com/rs/zerolog/log"
)

// NotificationQueue accepts webhook notifications for asynchronous dispatch.
type NotificationQueue interface {
	Publish(ctx context.Context, key string, v any) (string, error)
}

// WebhookController takes gateway notifications off the request path. The
// worker dispatches them from the queue.
type WebhookController struct {
	queue NotificationQueue
}

func NewWebhookController(queue NotificationQueue) *WebhookController {
	return &WebhookController{queue: queue}
}

// Receive handles POST /api/v1/webhooks
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	var n webhook.Notification
	if err := decodeAndValidate(r, &n); err != nil {
		writeError(w, err)
		return
	}

	key := strconv.FormatInt(n.ListenerEntityID, 10) + ":" + strconv.FormatInt(n.EntityID, 10)
	id, err := h.queue.Publish(r.Context(), key, n)
	if err != nil {
		log.Error().Err(err).
			Int64("space_id", n.SpaceID).
			Int64("entity_id", n.EntityID).
			Msg("Failed to enqueue webhook notification")
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "notification not accepted, retry later", Code: "queue_unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, WebhookAcceptedResponse{MessageID: id})
}
