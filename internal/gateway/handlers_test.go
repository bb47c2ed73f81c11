package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cryptosignal/internal/model"
)

type fakeHistory struct {
	symbol string
	limit  int
	out    []model.Report
	err    error
}

func (f *fakeHistory) History(_ context.Context, symbol string, limit int) ([]model.Report, error) {
	f.symbol, f.limit = symbol, limit
	return f.out, f.err
}

func serve(t *testing.T, h *Hub, hist model.HistoryReader, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	RegisterRoutes(mux, h, hist)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandlers_Verdicts(t *testing.T) {
	h := NewHub(nil)
	h.Publish(report("ethusdt", true))

	rec := serve(t, h, nil, http.MethodGet, "/api/verdicts")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
	var got map[string]model.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	eth := got["ethusdt"]
	if eth.Action() != model.ActionBuy {
		t.Errorf("ethusdt action = %s", eth.Action())
	}
}

func TestHandlers_Assets(t *testing.T) {
	h := NewHub(model.DefaultAssets())
	rec := serve(t, h, nil, http.MethodGet, "/api/assets")
	var got []model.Asset
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != len(model.DefaultAssets()) || got[0].Symbol != "ethusdt" {
		t.Errorf("assets = %+v", got)
	}
}

func TestHandlers_HistoryDisabled(t *testing.T) {
	rec := serve(t, NewHub(nil), nil, http.MethodGet, "/api/verdicts/history")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandlers_History(t *testing.T) {
	hist := &fakeHistory{out: []model.Report{report("ethusdt", false)}}
	rec := serve(t, NewHub(nil), hist, http.MethodGet, "/api/verdicts/history?symbol=ETHUSDT&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if hist.symbol != "ethusdt" || hist.limit != 5 {
		t.Errorf("query = %q/%d", hist.symbol, hist.limit)
	}
	var got []model.Report
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 1 {
		t.Errorf("got %d reports", len(got))
	}
}

func TestHandlers_HistoryEmptyIsArray(t *testing.T) {
	rec := serve(t, NewHub(nil), &fakeHistory{}, http.MethodGet, "/api/verdicts/history")
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestHandlers_HistoryErrors(t *testing.T) {
	rec := serve(t, NewHub(nil), &fakeHistory{}, http.MethodGet, "/api/verdicts/history?limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", rec.Code)
	}
	rec = serve(t, NewHub(nil), &fakeHistory{err: errors.New("disk")}, http.MethodGet, "/api/verdicts/history")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("store error status = %d", rec.Code)
	}
}

func TestHandlers_Missed(t *testing.T) {
	h := NewHub(nil)
	for i := 0; i < 4; i++ {
		h.Publish(report("ethusdt", false))
	}

	rec := serve(t, h, nil, http.MethodGet, "/api/missed?from=2&to=3")
	var got []wireEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Errorf("missed = %+v", got)
	}

	rec = serve(t, h, nil, http.MethodGet, "/api/missed?from=x")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad range status = %d", rec.Code)
	}
}

func TestHandlers_Methods(t *testing.T) {
	h := NewHub(nil)
	if rec := serve(t, h, nil, http.MethodOptions, "/api/verdicts"); rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d", rec.Code)
	}
	if rec := serve(t, h, nil, http.MethodPost, "/api/verdicts"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d", rec.Code)
	}
}
