package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptosignal/internal/model"
)

var eth = model.Asset{Symbol: "ethusdt", Label: "Ethereum", CoinGeckoID: "ethereum"}

const klinesBody = `[
 [1717243200000,"3800.10","3805.50","3799.00","3802.25","12.5",1717243259999,"0",10,"0","0","0"],
 [1717243260000,"3802.25","3810.00","3801.00","3809.75","8.1",1717243319999,"0",7,"0","0","0"]
]`

func TestFetch_ParsesKlines(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", HTTPClient: srv.Client()})
	samples, err := c.Fetch(context.Background(), eth)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	for _, want := range []string{"symbol=ETHUSDT", "interval=1m", "limit=200"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %s", gotQuery, want)
		}
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	s := samples[1]
	if s.Symbol != "ethusdt" || s.Close != 3809.75 {
		t.Errorf("unexpected sample %+v", s)
	}
	if !s.TS.Equal(time.UnixMilli(1717243260000)) {
		t.Errorf("ts = %v", s.TS)
	}
	if s.High != model.Some(3810) || s.Low != model.Some(3801) {
		t.Errorf("high/low = %v/%v", s.High, s.Low)
	}
	if c.Name() != SourceName {
		t.Errorf("name = %s", c.Name())
	}
}

func TestFetch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`},
		{"short row", http.StatusOK, `[[1717243200000,"1","2"]]`},
		{"bad price", http.StatusOK, `[[1717243200000,"1","2","x","4"]]`},
		{"not array", http.StatusOK, `{"oops":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Fetch(context.Background(), eth)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), "binance:") {
				t.Errorf("error not prefixed: %v", err)
			}
		})
	}
}

func TestFetch_EmptyIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	samples, err := New(Config{BaseURL: srv.URL}).Fetch(context.Background(), eth)
	if err != nil || len(samples) != 0 {
		t.Fatalf("expected no samples and no error, got %d, %v", len(samples), err)
	}
}

func TestConfigDefaults(t *testing.T) {
	c := New(Config{Limit: 5000})
	u := c.KlinesURL(eth)
	if !strings.HasPrefix(u, "https://api.binance.com/api/v3/klines?") {
		t.Errorf("unexpected url %s", u)
	}
	if !strings.Contains(u, "limit=1000") {
		t.Errorf("limit should clamp to 1000: %s", u)
	}
}
