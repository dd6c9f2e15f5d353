package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	domainevents "curio-backend/internal/domain/events"
	apperrors "curio-backend/internal/errors"
)

const (
	heartbeatInterval = 15 * time.Second
	// subscriberBuffer absorbs bursts; a client that cannot keep up
	// loses events rather than blocking the bus.
	subscriberBuffer = 64
)

// handleEvents streams bus notifications to the client as SSE frames.
// Each frame's data is the JSON-encoded event payload; comment frames
// keep idle connections alive through proxies.
func (rt *Router) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		rt.fail(w, r, apperrors.Internal(apperrors.CodeInternalError, "response writer does not support streaming").Build())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := make(chan domainevents.Event, subscriberBuffer)
	sub := rt.bus.SubscribeAll(func(e domainevents.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer rt.bus.Unsubscribe(sub)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case e := <-ch:
			data, err := json.Marshal(e)
			if err != nil {
				rt.logger.Warn("event not serializable",
					zap.String("type", e.EventType()),
					zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.EventType(), data)
			flusher.Flush()
		}
	}
}
