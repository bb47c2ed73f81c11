// Package gateway is the dashboard's delivery surface: it keeps the latest
// report per asset and pushes every new report to WebSocket clients, with a
// small REST API alongside.
package gateway

import (
	"context"
	"log"
	"sort"
	"sync"

	"cryptosignal/internal/model"

	"github.com/gorilla/websocket"
)

// Hub manages WebSocket clients and the latest report per symbol.
type Hub struct {
	assets []model.Asset

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Recent envelopes for gap backfill
	replay *ReplayBuffer

	// OnClientCount is called with the new count on connect and disconnect.
	OnClientCount func(n int)
}

type latestEntry struct {
	Report   model.Report
	Envelope []byte
	Seq      int64
}

var _ model.ReportSink = (*Hub)(nil)

// NewHub creates a Hub for the given assets.
func NewHub(assets []model.Asset) *Hub {
	return &Hub{
		assets:  assets,
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		replay:  NewReplayBuffer(DefaultReplayCapacity),
	}
}

// Run publishes reports until ctx is cancelled or reports is closed.
func (h *Hub) Run(ctx context.Context, reports <-chan model.Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-reports:
			if !ok {
				return
			}
			h.Publish(r)
		}
	}
}

// Publish records r as the latest report for its symbol and broadcasts it.
// Clients whose send buffer is full miss this envelope and can backfill
// through /api/missed.
func (h *Hub) Publish(r model.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()

	env := h.record(r)
	for client := range h.clients {
		select {
		case client.send <- env:
		default:
		}
	}
}

// Seed records reports as latest without broadcasting, e.g. to restore
// state from Redis at startup.
func (h *Hub) Seed(reports ...model.Report) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range reports {
		h.record(r)
	}
}

// record must be called with h.mu held for writing.
func (h *Hub) record(r model.Report) []byte {
	h.seq++
	env := buildEnvelope(r.Symbol, r.JSON(), h.seq)
	h.latest[r.Symbol] = latestEntry{Report: r, Envelope: env, Seq: h.seq}
	h.replay.Push(h.seq, env)
	return env
}

// Latest returns a copy of the latest report per symbol.
func (h *Hub) Latest() map[string]model.Report {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]model.Report, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Report
	}
	return cp
}

// Assets returns the tracked assets.
func (h *Hub) Assets() []model.Asset { return h.assets }

// Seq returns the sequence number of the most recent envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// Missed returns buffered envelopes with seq in [fromSeq, toSeq].
func (h *Hub) Missed(fromSeq, toSeq int64) [][]byte {
	entries := h.replay.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// HandleWSRequest registers an upgraded connection. The client first
// receives the latest envelope of every symbol newer than lastSeq.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, lastSeq int64) {
	client := newClient(h, conn)

	h.mu.Lock()
	initial := make([]latestEntry, 0, len(h.latest))
	for _, e := range h.latest {
		if e.Seq > lastSeq {
			initial = append(initial, e)
		}
	}
	sort.Slice(initial, func(i, j int) bool { return initial[i].Seq < initial[j].Seq })
	for _, e := range initial {
		select {
		case client.send <- e.Envelope:
		default:
		}
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
