package httpjson

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGet_DecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("missing Accept header")
		}
		w.Write([]byte(`{"price": 1.5}`))
	}))
	defer srv.Close()

	var out struct{ Price float64 }
	if err := Get(context.Background(), srv.Client(), srv.URL, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Price != 1.5 {
		t.Errorf("price = %v", out.Price)
	}
}

func TestGet_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, strings.Repeat("x", 1000), http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := Get(context.Background(), nil, srv.URL, &struct{}{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d", se.Status)
	}
	if len(se.Excerpt) > maxExcerpt {
		t.Errorf("excerpt not truncated: %d bytes", len(se.Excerpt))
	}
}

func TestGet_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	if err := Get(context.Background(), srv.Client(), srv.URL, &struct{}{}); err == nil {
		t.Fatal("expected decode error")
	}
}
