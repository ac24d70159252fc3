package ingest

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/brightfile/chunkupload/internal/store"
)

// progressEvent is broadcast to every connected subscriber whenever a
// chunk is recorded or an upload completes.
type progressEvent struct {
	UploadID string  `json:"upload_id"`
	Received int     `json:"received"`
	Total    int64   `json:"total"`
	Complete bool    `json:"complete"`
	Path     string  `json:"path,omitempty"`
	Progress float64 `json:"progress"`
}

// Hub fans out progress events to connected websocket clients. The
// teacher's config carries a reserved, never-implemented "websocket"
// flag (internal/config's ServerConfig.Websocket); this is that feature,
// built for real on top of coder/websocket.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan progressEvent]struct{}
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, subs: make(map[chan progressEvent]struct{})}
}

func (hub *Hub) subscribe() chan progressEvent {
	ch := make(chan progressEvent, 16)

	hub.mu.Lock()
	hub.subs[ch] = struct{}{}
	hub.mu.Unlock()

	return ch
}

func (hub *Hub) unsubscribe(ch chan progressEvent) {
	hub.mu.Lock()
	delete(hub.subs, ch)
	hub.mu.Unlock()

	close(ch)
}

func (hub *Hub) publish(ev progressEvent) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for ch := range hub.subs {
		select {
		case ch <- ev:
		default:
			hub.logger.Warn("dropping progress event for slow subscriber", "upload_id", ev.UploadID)
		}
	}
}

// broadcastProgress is a no-op when the hub is disabled (Server.websocket
// is false in configuration), so the ingest handler never branches on it.
func (h *Handler) broadcastProgress(uploadID string, rec *store.SessionRecord) {
	if h.hub == nil {
		return
	}

	h.hub.publish(progressEvent{
		UploadID: uploadID,
		Received: rec.ReceivedCount(),
		Total:    rec.TotalChunks,
		Complete: rec.Complete,
		Path:     rec.FinalPath,
		Progress: progressPercent(rec),
	})
}

// Progress upgrades the connection to a websocket and streams every
// progress event to the client until it disconnects.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "progress hub disabled", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	ch := h.hub.subscribe()
	defer h.hub.unsubscribe(ch)

	ctx := r.Context()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}

			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}
