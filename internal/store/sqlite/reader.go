package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"cryptosignal/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// Reader provides read-only access to the verdict journal.
type Reader struct {
	db *sql.DB
}

var _ model.HistoryReader = (*Reader)(nil)

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Printf("[sqlite-reader] opened %s", dbPath)
	return &Reader{db: db}, nil
}

// History returns up to limit reports, most recent first. An empty symbol
// returns all assets. limit <= 0 means 100; it is capped at 1000.
func (r *Reader) History(ctx context.Context, symbol string, limit int) ([]model.Report, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	const cols = `symbol, label, source, evaluated_at, bars, has_verdict,
		ts, close, rsi, macd, macd_signal, macd_hist, psar, buy, sell, error`

	var (
		rows *sql.Rows
		err  error
	)
	if symbol == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+cols+` FROM verdicts ORDER BY evaluated_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+cols+` FROM verdicts WHERE symbol = ? ORDER BY evaluated_at DESC, id DESC LIMIT ?`,
			symbol, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite query verdicts: %w", err)
	}
	defer rows.Close()

	var out []model.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan verdicts: %w", err)
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func scanReport(rows *sql.Rows) (model.Report, error) {
	var (
		rep                                   model.Report
		evaluatedAt                           int64
		hasVerdict, buy, sell                 bool
		ts                                    sql.NullInt64
		closePx                               sql.NullFloat64
		rsi, macd, macdSignal, macdHist, psar *float64
	)
	if err := rows.Scan(&rep.Symbol, &rep.Label, &rep.Source, &evaluatedAt, &rep.Bars, &hasVerdict,
		&ts, &closePx, &rsi, &macd, &macdSignal, &macdHist, &psar, &buy, &sell, &rep.Error); err != nil {
		return rep, err
	}

	rep.EvaluatedAt = time.UnixMilli(evaluatedAt).UTC()
	if hasVerdict {
		rep.Verdict = &model.Verdict{
			TS:            time.UnixMilli(ts.Int64).UTC(),
			Close:         closePx.Float64,
			RSI:           model.FromPtr(rsi),
			MACD:          model.FromPtr(macd),
			MACDSignal:    model.FromPtr(macdSignal),
			MACDHist:      model.FromPtr(macdHist),
			PSAR:          model.FromPtr(psar),
			BuyConfirmed:  buy,
			SellConfirmed: sell,
		}
	}
	return rep, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
