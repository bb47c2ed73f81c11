package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"cryptosignal/internal/model"
)

func TestWriteTable(t *testing.T) {
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	reports := []model.Report{
		{Symbol: "ethusdt", Label: "Ethereum", Bars: 200, Verdict: &model.Verdict{
			TS: ts, Close: 3500, RSI: model.Some(35.25), MACD: model.Some(1.5),
			MACDSignal: model.Some(1), PSAR: model.Some(3400), BuyConfirmed: true,
		}},
		{Symbol: "solusdt", Label: "Solana", Error: "binance: status 500"},
		{Symbol: "xrpusdt", Label: "XRP"},
	}

	var buf bytes.Buffer
	writeTable(&buf, reports)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "BUY") || !strings.Contains(lines[1], "35.25") {
		t.Errorf("buy row = %q", lines[1])
	}
	if !strings.Contains(lines[2], "NONE") || !strings.Contains(lines[2], "status 500") {
		t.Errorf("error row = %q", lines[2])
	}
	if !strings.Contains(lines[3], "no data") {
		t.Errorf("empty row = %q", lines[3])
	}
}

func TestShort(t *testing.T) {
	if got := short(model.None()); got != "n/a" {
		t.Errorf("short(None) = %q", got)
	}
	if got := short(model.Some(0)); got != "0" {
		t.Errorf("short(0) = %q", got)
	}
}
