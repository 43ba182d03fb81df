package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"skymaintain.app/licensing/billing"
	"skymaintain.app/licensing/internal/logger"
)

// BillingEvent receives already-verified provider events from the
// webhook front end. Signature checking happened upstream; this
// endpoint only translates and applies. Lifecycle failures still
// acknowledge the delivery so the provider's redelivery, not a
// webhook error loop, is what retries.
func (s *Server) BillingEvent(w http.ResponseWriter, r *http.Request) {
	const maxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Failed to read event payload")
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "Invalid event JSON")
		return
	}

	ev, err := billing.EventFromStripe(event)
	if err != nil {
		if errors.Is(err, billing.ErrUnhandledEventType) {
			logger.Debug("ignoring billing event", map[string]interface{}{
				"event_type": string(event.Type),
				"event_id":   event.ID,
			})
			writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
			return
		}
		logger.Error("failed to decode billing event", map[string]interface{}{
			"event_type": string(event.Type),
			"event_id":   event.ID,
			"error":      err.Error(),
		})
		writeErrorResponse(w, http.StatusBadRequest, "Malformed event payload")
		return
	}

	_ = s.Events.Dispatch(r.Context(), ev)

	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}
