// Package signalhub fans "session changed" signals out to websocket
// listeners. Signals carry no content; a client reacts by polling the
// gateway earlier than its regular cadence.
package signalhub

import (
	"context"

	"jobchat/backend/internal/models"

	"github.com/rs/zerolog/log"
)

type Hub struct {
	// clients is owned by the Run goroutine.
	clients map[string]map[Client]struct{}

	RegisterCh   chan Client
	UnregisterCh chan Client
	SignalCh     chan models.Signal

	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:      make(map[string]map[Client]struct{}),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		SignalCh:     make(chan models.Signal, 256),
		done:         make(chan struct{}),
	}
}

// Run serves registrations and deliveries until ctx is done, then closes
// every remaining client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.closeAll()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.RegisterCh:
			set, ok := h.clients[c.UserID()]
			if !ok {
				set = make(map[Client]struct{})
				h.clients[c.UserID()] = set
			}
			set[c] = struct{}{}
			log.Debug().Str("user_id", c.UserID()).Int("connections", len(set)).Msg("signal listener registered")

		case c := <-h.UnregisterCh:
			h.drop(c)

		case sig := <-h.SignalCh:
			h.deliver(sig)
		}
	}
}

// Register adds c and starts its pumps. It reports false once the hub has stopped.
func (h *Hub) Register(c Client) bool {
	select {
	case h.RegisterCh <- c:
		c.Run()
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c. Safe to call after the hub has stopped.
func (h *Hub) Unregister(c Client) {
	select {
	case h.UnregisterCh <- c:
	case <-h.done:
	}
}

// Deliver queues sig for the listeners of sig.UserID. It never blocks; when
// the queue is full the signal is dropped, which only delays the client
// until its next regular poll.
func (h *Hub) Deliver(sig models.Signal) {
	select {
	case h.SignalCh <- sig:
	default:
		log.Warn().Str("user_id", sig.UserID).Str("session_id", sig.SessionID).Msg("signal queue full, dropping signal")
	}
}

func (h *Hub) deliver(sig models.Signal) {
	for c := range h.clients[sig.UserID] {
		select {
		case c.SendChannel() <- sig:
		default:
			// Slow listener.
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c Client) {
	set, ok := h.clients[c.UserID()]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID())
	}
	c.Close()
	log.Debug().Str("user_id", c.UserID()).Msg("signal listener removed")
}

func (h *Hub) closeAll() {
	for _, set := range h.clients {
		for c := range set {
			c.Close()
		}
	}
	h.clients = make(map[string]map[Client]struct{})
}
