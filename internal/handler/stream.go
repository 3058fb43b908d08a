package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tartanilla/admin-inbox/internal/inbox"
	"github.com/tartanilla/admin-inbox/internal/middleware"
	"github.com/tartanilla/admin-inbox/pkg/logger"
	"github.com/tartanilla/admin-inbox/pkg/metrics"
)

// StreamHandler forwards inbox events to the browser over SSE.
type StreamHandler struct {
	manager *inbox.Manager
	logger  *logger.Logger
	buffer  int
}

// NewStreamHandler creates the SSE handler. buffer bounds how many
// events a slow client can fall behind before events are dropped.
func NewStreamHandler(manager *inbox.Manager, buffer int, log *logger.Logger) *StreamHandler {
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamHandler{manager: manager, logger: log, buffer: buffer}
}

// Stream handles GET /api/v1/inbox/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	operatorID := middleware.GetOperatorID(ctx)
	ctrl := h.manager.Controller(ctx, operatorID)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	events := make(chan inbox.Event, h.buffer)
	unsubscribe := ctrl.Subscribe(func(ev inbox.Event) {
		select {
		case events <- ev:
		default:
			// A lagging client misses intermediate events; the next
			// conversations-loaded snapshot resynchronizes it.
		}
	})
	defer unsubscribe()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"operator_id": operatorID,
	})

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("SSE client disconnected", zap.String("operator_id", operatorID))
			return

		case ev := <-events:
			if err := sendSSEEvent(w, flusher, string(ev.Kind), ev); err != nil {
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", map[string]any{
				"timestamp": time.Now(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
