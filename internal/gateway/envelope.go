package gateway

import (
	"encoding/json"
	"strconv"
)

// buildEnvelope frames a report for the wire:
//
//	{"type":"verdict","symbol":"ethusdt","data":{...},"seq":N}
//
// data must already be valid JSON.
func buildEnvelope(symbol string, data []byte, seq int64) []byte {
	sym, _ := json.Marshal(symbol)

	buf := make([]byte, 0, len(sym)+len(data)+64)
	buf = append(buf, `{"type":"verdict","symbol":`...)
	buf = append(buf, sym...)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
