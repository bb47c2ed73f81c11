// cmd/tradeserver is a demo trade stream server. It serves simulated Binance
// combined-stream trade messages so the dashboard can run with
// FEED_SOURCE=stream without exchange access.
//
// Message shape matches the exchange:
//
//	{"stream":"ethusdt@trade","data":{"e":"trade","E":1717243200000,"s":"ETHUSDT","t":1,"p":"3500.12","q":"0.5","T":1717243200000}}
//
// Clients pick symbols with ?streams=ethusdt@trade/solusdt@trade; without a
// streams query every instrument is sent.
//
// Config (env vars):
//
//	TRADE_SERVER_ADDR  listen address (default: ":9001")
//	TRADE_SYMBOLS      comma-separated SYMBOL:START_PRICE pairs (default: the dashboard's default assets)
//	TRADE_INTERVAL_MS  broadcast interval milliseconds (default: "250")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

type tradeData struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
}

type tradeMsg struct {
	Stream string    `json:"stream"`
	Data   tradeData `json:"data"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string // lower case
	Price  decimal.Decimal
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type subscriber struct {
	ch      chan []byte
	symbols map[string]bool // nil = all
}

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*subscriber
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]*subscriber)}
}

func (h *hub) register(conn *websocket.Conn, symbols map[string]bool) chan []byte {
	sub := &subscriber{ch: make(chan []byte, 256), symbols: symbols}
	h.mu.Lock()
	h.clients[conn] = sub
	h.mu.Unlock()
	return sub.ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if sub, ok := h.clients[conn]; ok {
		close(sub.ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(symbol string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.clients {
		if sub.symbols != nil && !sub.symbols[symbol] {
			continue
		}
		select {
		case sub.ch <- msg:
		default: // slow client, drop trade
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// parseStreams turns "ethusdt@trade/solusdt@trade" into a symbol set.
func parseStreams(q string) map[string]bool {
	if q == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, s := range strings.Split(q, "/") {
		sym, _, _ := strings.Cut(s, "@")
		if sym = strings.ToLower(strings.TrimSpace(sym)); sym != "" {
			set[sym] = true
		}
	}
	return set
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		symbols := parseStreams(r.URL.Query().Get("streams"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[tradeserver] upgrade error: %v", err)
			return
		}
		log.Printf("[tradeserver] client connected: %s (%d streams)", r.RemoteAddr, len(symbols))

		ch := h.register(conn, symbols)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Printf("[tradeserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Detect client close so the write loop below ends.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Trade generator ─────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.1%) to simulate price movement.
func walkPrice(rng *rand.Rand, price decimal.Decimal) decimal.Decimal {
	pct := (rng.Float64()*0.2 - 0.1) / 100.0
	next := price.Mul(decimal.NewFromFloat(1 + pct)).Round(4)
	floor := decimal.New(1, -4)
	if next.LessThan(floor) {
		return floor
	}
	return next
}

func newTrade(inst instrument, id int64, qty decimal.Decimal, now time.Time) tradeMsg {
	ms := now.UnixMilli()
	return tradeMsg{
		Stream: inst.Symbol + "@trade",
		Data: tradeData{
			Event:     "trade",
			EventTime: ms,
			Symbol:    strings.ToUpper(inst.Symbol),
			TradeID:   id,
			Price:     inst.Price.String(),
			Qty:       qty.String(),
			TradeTime: ms,
		},
	}
}

func runGenerator(h *hub, instruments []instrument, intervalMs int) {
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var tradeID int64

	for range ticker.C {
		for i := range instruments {
			instruments[i].Price = walkPrice(rng, instruments[i].Price)
			tradeID++
			qty := decimal.NewFromInt(int64(rng.Intn(1000) + 1)).Shift(-3)
			b, err := json.Marshal(newTrade(instruments[i], tradeID, qty, time.Now()))
			if err != nil {
				continue
			}
			h.broadcast(instruments[i].Symbol, b)
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[tradeserver] starting demo trade server...")

	addr := envOrDefault("TRADE_SERVER_ADDR", ":9001")
	symbolsEnv := envOrDefault("TRADE_SYMBOLS", "ethusdt:3500,solusdt:150,xrpusdt:0.5,zecusdt:30")
	intervalMs := envIntOrDefault("TRADE_INTERVAL_MS", 250)

	instruments := parseInstruments(symbolsEnv)
	if len(instruments) == 0 {
		log.Fatalf("[tradeserver] no instruments configured via TRADE_SYMBOLS")
	}
	log.Printf("[tradeserver] instruments: %d, broadcast interval: %dms", len(instruments), intervalMs)

	h := newHub()
	go runGenerator(h, instruments, intervalMs)

	http.HandleFunc("/stream", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tradeserver"}`)
	})

	log.Printf("[tradeserver] listening on %s  (BINANCE_STREAM_URL=ws://localhost%s/stream)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[tradeserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, priceStr, ok := strings.Cut(part, ":")
		if !ok {
			log.Printf("[tradeserver] skipping invalid symbol spec: %q", part)
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(priceStr))
		if err != nil || !price.IsPositive() {
			log.Printf("[tradeserver] skipping invalid start price: %q", part)
			continue
		}
		result = append(result, instrument{
			Symbol: strings.ToLower(strings.TrimSpace(sym)),
			Price:  price,
		})
	}
	return result
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
