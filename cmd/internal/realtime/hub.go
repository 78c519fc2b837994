package realtime

import (
	"context"
	"log/slog"
	"time"

	"passgate/cmd/internal/metrics"
)

// Publisher is what the auth layer uses to notify connected clients.
type Publisher interface {
	// Publish delivers env to every connection of userID.
	Publish(userID string, env Envelope)

	// KickSession notifies and disconnects the connections of one session.
	KickSession(sessionID string)

	// KickUser notifies and disconnects every connection of userID.
	KickUser(userID string)
}

type publishReq struct {
	userID string
	env    Envelope
}

type kickReq struct {
	userID    string
	sessionID string
}

// Hub is the registry of connected clients. A single goroutine (Run) owns the
// client map; everything else talks to it over channels.
type Hub struct {
	log *slog.Logger

	register   chan *Client
	unregister chan *Client
	publish    chan publishReq
	kick       chan kickReq
	count      chan chan int

	done chan struct{}
}

// NewHub constructs a Hub. Call Run before use.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan publishReq, 64),
		kick:       make(chan kickReq, 16),
		count:      make(chan chan int),
		done:       make(chan struct{}),
	}
}

// Run owns the registry until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	clients := make(map[string]map[*Client]struct{})
	total := 0

	defer func() {
		close(h.done)
		for _, set := range clients {
			for c := range set {
				c.Close()
			}
		}
		metrics.RealtimeClients.Set(0)
	}()

	remove := func(c *Client) {
		set := clients[c.UserID]
		if _, ok := set[c]; !ok {
			return
		}
		delete(set, c)
		if len(set) == 0 {
			delete(clients, c.UserID)
		}
		total--
		metrics.RealtimeClients.Set(float64(total))
	}

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			set := clients[c.UserID]
			if set == nil {
				set = make(map[*Client]struct{})
				clients[c.UserID] = set
			}
			set[c] = struct{}{}
			total++
			metrics.RealtimeClients.Set(float64(total))

		case c := <-h.unregister:
			remove(c)

		case req := <-h.publish:
			for c := range clients[req.userID] {
				if !c.offer(req.env) {
					h.log.Info("realtime.client.slow", "user_id", c.UserID, "session_id", c.SessionID)
					remove(c)
					c.Close()
				}
			}

		case req := <-h.kick:
			now := time.Now().UTC()
			for _, set := range clients {
				for c := range set {
					if req.userID != "" && c.UserID != req.userID {
						continue
					}
					if req.sessionID != "" && c.SessionID != req.sessionID {
						continue
					}
					c.offer(NewEnvelope(TypeSessionRevoked, SessionPayload{SessionID: c.SessionID}, now))
					remove(c)
					c.Close()
				}
			}

		case reply := <-h.count:
			reply <- total
		}
	}
}

// Register adds c. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) Publish(userID string, env Envelope) {
	if userID == "" {
		return
	}
	select {
	case h.publish <- publishReq{userID: userID, env: env}:
	case <-h.done:
	}
}

func (h *Hub) KickSession(sessionID string) {
	if sessionID == "" {
		return
	}
	select {
	case h.kick <- kickReq{sessionID: sessionID}:
	case <-h.done:
	}
}

func (h *Hub) KickUser(userID string) {
	if userID == "" {
		return
	}
	select {
	case h.kick <- kickReq{userID: userID}:
	case <-h.done:
	}
}

// Count returns the number of registered clients, or 0 once stopped.
func (h *Hub) Count() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

var _ Publisher = (*Hub)(nil)

// Nop is a Publisher that drops everything.
type Nop struct{}

func (Nop) Publish(string, Envelope) {}
func (Nop) KickSession(string)       {}
func (Nop) KickUser(string)          {}
