package realtime

import (
	"encoding/json"
	"sync"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Subscriber receives encoded messages. Send must not block.
type Subscriber interface {
	Send(b []byte) bool
}

// Hub fans progress updates out to every live connection of a user.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[Subscriber]struct{}
	log  zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[Subscriber]struct{}),
		log:  log,
	}
}

func (h *Hub) Subscribe(userID uuid.UUID, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[userID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) Unsubscribe(userID uuid.UUID, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[userID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, userID)
	}
}

// Subscribers reports how many connections a user has open.
func (h *Hub) Subscribers(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

type progressMessage struct {
	Type string `json:"type"`
	ports.ReportProgress
}

func encodeProgress(p ports.ReportProgress) ([]byte, error) {
	return json.Marshal(progressMessage{Type: "progress", ReportProgress: p})
}

func (h *Hub) Publish(userID uuid.UUID, p ports.ReportProgress) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.subs[userID]
	if len(set) == 0 {
		return
	}

	b, err := encodeProgress(p)
	if err != nil {
		h.log.Error().Err(err).Msg("realtime: encode progress")
		return
	}

	for s := range set {
		if !s.Send(b) {
			h.log.Warn().Str("user_id", userID.String()).Msg("realtime: subscriber too slow, update dropped")
		}
	}
}
