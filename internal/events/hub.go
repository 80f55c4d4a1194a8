package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"evcharge/internal/domain"
)

type Kind string

const (
	KindCreated  Kind = "created"
	KindUpdated  Kind = "updated"
	KindDeleted  Kind = "deleted"
	KindBooked   Kind = "booked"
	KindReleased Kind = "released"
)

// StationEvent describe un cambio observable de una estación. No lleva el
// titular: el feed es público.
type StationEvent struct {
	Kind      Kind                 `json:"kind"`
	StationID string               `json:"station_id"`
	Status    domain.StationStatus `json:"status"`
	At        time.Time            `json:"at"`
}

// FromStation construye el evento a partir del estado resultante.
func FromStation(kind Kind, s domain.Station) StationEvent {
	return StationEvent{
		Kind:      kind,
		StationID: s.ID,
		Status:    s.Status,
		At:        time.Now().UTC(),
	}
}

// Publisher recibe eventos tras cada escritura confirmada. Publicar nunca
// falla hacia quien llama: la escritura ya ocurrió.
type Publisher interface {
	Publish(ctx context.Context, event StationEvent)
}

// Hub reparte eventos entre suscriptores locales.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]chan StationEvent
	next   uint64
	buffer int
	logger *zap.Logger
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[uint64]chan StationEvent),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe devuelve un canal de eventos y la función que lo da de baja.
func (h *Hub) Subscribe() (<-chan StationEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.next
	h.next++
	ch := make(chan StationEvent, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

// Publish no bloquea: si un suscriptor tiene el buffer lleno pierde el evento.
func (h *Hub) Publish(_ context.Context, event StationEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			h.logger.Warn("dropping station event, subscriber buffer full",
				zap.Uint64("subscriber", id),
				zap.String("station_id", event.StationID),
			)
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
