package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/mschirtzinger/autosync/internal/autosync/state"
)

// Handler turns store changes into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	return &Handler{
		server: server,
		logger: logger,
	}
}

// Attach subscribes the handler to every committed change in store.
func (h *Handler) Attach(store *state.Store) {
	store.OnChange(h.OnChange)
}

// OnChange dispatches one store change. It runs on the writer's goroutine and
// only queues messages.
func (h *Handler) OnChange(c state.Change) {
	switch {
	case c.Record != nil:
		h.OnRecord(*c.Record)
	case c.Action != nil:
		h.OnAction(*c.Action)
	}
}

// OnRecord broadcasts a record write.
func (h *Handler) OnRecord(rec state.LockRecord) {
	h.send(MessageTypeRecord, rec.UpdatedAt, rec)
}

// OnAction broadcasts an appended action.
func (h *Handler) OnAction(a state.Action) {
	h.send(MessageTypeAction, a.At, a)
}

func (h *Handler) send(typ MessageType, at time.Time, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: at,
		Data:      data,
	})
}
