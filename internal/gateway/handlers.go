package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"cryptosignal/internal/model"

	"github.com/gorilla/websocket"
)

// ErrHistoryDisabled is returned by the history endpoint when no SQLite
// store is configured.
var ErrHistoryDisabled = errors.New("history store disabled")

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux. history may
// be nil.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, history model.HistoryReader) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		var lastSeq int64
		if s := r.URL.Query().Get("last_seq"); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				http.Error(w, "invalid last_seq", http.StatusBadRequest)
				return
			}
			lastSeq = v
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.HandleWSRequest(conn, lastSeq)
	})

	// REST: latest report per symbol
	mux.HandleFunc("/api/verdicts", restHandler(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Latest())
	}))

	// REST: tracked assets
	mux.HandleFunc("/api/assets", restHandler(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.Assets())
	}))

	// REST: persisted reports, newest first
	mux.HandleFunc("/api/verdicts/history", restHandler(func(w http.ResponseWriter, r *http.Request) {
		if history == nil {
			writeError(w, http.StatusServiceUnavailable, ErrHistoryDisabled.Error())
			return
		}
		q := r.URL.Query()
		limit := 0
		if s := q.Get("limit"); s != "" {
			l, err := strconv.Atoi(s)
			if err != nil || l <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = l
		}
		symbol := strings.ToLower(q.Get("symbol"))
		reports, err := history.History(r.Context(), symbol, limit)
		if err != nil {
			log.Printf("[gateway] history query failed: %v", err)
			writeError(w, http.StatusInternalServerError, "history query failed")
			return
		}
		if reports == nil {
			reports = []model.Report{}
		}
		writeJSON(w, http.StatusOK, reports)
	}))

	// REST: replay buffered envelopes for gap backfill
	mux.HandleFunc("/api/missed", restHandler(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
		to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
		if err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "from and to are required integers")
			return
		}
		envs := hub.Missed(from, to)
		out := make([]json.RawMessage, len(envs))
		for i, e := range envs {
			out[i] = e
		}
		writeJSON(w, http.StatusOK, out)
	}))
}

// restHandler applies CORS and answers preflight requests. Only GET is
// served.
func restHandler(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet, http.MethodHead:
			fn(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
