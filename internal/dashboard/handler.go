package dashboard

import (
	"encoding/json"
	"log"
	"maps"
	"sync"
	"time"

	engine "github.com/squiddy/gitlab-to-sqlite/internal/sync"
)

// SyncCompleteData contains the outcome of one sync invocation
type SyncCompleteData struct {
	RunID     string        `json:"run_id"`
	Resource  string        `json:"resource"`
	Scope     string        `json:"scope"`
	State     string        `json:"state"`
	Count     int           `json:"count"`
	Watermark string        `json:"watermark,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// StatsData contains row counts of the mirrored tables
type StatsData struct {
	Tables map[string]int64 `json:"tables"`
}

// Handler turns sync events into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates an event handler connected to a dashboard server.
// Newly connected clients receive the latest stats.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}

	h := &Handler{
		server: server,
		logger: logger,
		stats:  StatsData{Tables: make(map[string]int64)},
	}
	server.welcome = h.statsMessage
	return h
}

// OnSyncEvent forwards a sync state change or page; use it as
// sync.Options.OnEvent.
func (h *Handler) OnSyncEvent(e engine.Event) {
	h.send(MessageTypeSyncEvent, e)
}

// OnSyncComplete handles the end of a sync invocation
func (h *Handler) OnSyncComplete(res engine.Result, err error) {
	data := SyncCompleteData{
		RunID:    res.RunID,
		Resource: string(res.Resource),
		Scope:    res.Scope.String(),
		State:    string(res.State),
		Count:    res.Count,
		Duration: res.Duration,
	}
	if res.Watermark.Valid {
		data.Watermark = res.Watermark.Time
	}
	if err != nil {
		data.Error = err.Error()
	}

	h.logger.Printf("Sync complete: %s %s %s (%d records)", data.Resource, data.Scope, data.State, data.Count)
	h.send(MessageTypeSyncComplete, data)
}

// UpdateStats replaces the row counts and broadcasts them
func (h *Handler) UpdateStats(tables map[string]int64) {
	h.mu.Lock()
	h.stats.Tables = maps.Clone(tables)
	h.mu.Unlock()

	h.server.Broadcast(h.statsMessage())
}

// Stats returns the current statistics
func (h *Handler) Stats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return StatsData{Tables: maps.Clone(h.stats.Tables)}
}

func (h *Handler) statsMessage() Message {
	data, err := json.Marshal(h.Stats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return Message{Type: MessageTypeStats}
	}
	return Message{Type: MessageTypeStats, Timestamp: time.Now(), Data: data}
}

func (h *Handler) send(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
