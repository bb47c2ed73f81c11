// Package sqlite journals evaluation reports to a local SQLite database and
// serves them back as history.
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
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/verdicts.db"

	BatchSize  int           // reports per transaction, defaults to 100
	FlushDelay time.Duration // max time a report waits, defaults to 200ms
}

// Writer is a single-goroutine SQLite writer with transaction batching.
type Writer struct {
	db  *sql.DB
	cfg WriterConfig

	// OnCommit is called after each successful batch commit.
	OnCommit func(n int, took time.Duration)
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

var _ model.ReportSink = (*Writer)(nil)

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = defaultFlushDelay
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Writer{db: db, cfg: cfg}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS verdicts (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol       TEXT    NOT NULL,
			label        TEXT    NOT NULL,
			source       TEXT    NOT NULL,
			evaluated_at INTEGER NOT NULL,
			bars         INTEGER NOT NULL,
			has_verdict  INTEGER NOT NULL,
			ts           INTEGER,
			close        REAL,
			rsi          REAL,
			macd         REAL,
			macd_signal  REAL,
			macd_hist    REAL,
			psar         REAL,
			buy          INTEGER NOT NULL DEFAULT 0,
			sell         INTEGER NOT NULL DEFAULT 0,
			action       TEXT    NOT NULL,
			error        TEXT    NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_verdicts_symbol_time
			ON verdicts (symbol, evaluated_at DESC);
	`)
	return err
}

// Run reads reports and inserts them in batched transactions. It flushes
// every BatchSize reports or every FlushDelay, whichever comes first, and
// once more on exit.
func (w *Writer) Run(ctx context.Context, reports <-chan model.Report) {
	batch := make([]model.Report, 0, w.cfg.BatchSize)
	timer := time.NewTimer(w.cfg.FlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.WriteBatch(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case r, ok := <-reports:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= w.cfg.BatchSize {
				flush()
				timer.Reset(w.cfg.FlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.cfg.FlushDelay)
		}
	}
}

// WriteBatch inserts reports in a single transaction.
func (w *Writer) WriteBatch(reports []model.Report) error {
	start := time.Now()
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO verdicts (symbol, label, source, evaluated_at, bars, has_verdict,
			ts, close, rsi, macd, macd_signal, macd_hist, psar, buy, sell, action, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range reports {
		if _, err := stmt.Exec(rowArgs(&reports[i])...); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert %s: %w", reports[i].Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if w.OnCommit != nil {
		w.OnCommit(len(reports), time.Since(start))
	}
	return nil
}

// rowArgs flattens a report into insert arguments. Absent indicator values
// become NULL.
func rowArgs(r *model.Report) []any {
	var ts, closePx, rsi, macd, macdSignal, macdHist, psar any
	var buy, sell bool
	if v := r.Verdict; v != nil {
		ts = v.TS.UnixMilli()
		closePx = v.Close
		rsi, macd, macdSignal = v.RSI.Ptr(), v.MACD.Ptr(), v.MACDSignal.Ptr()
		macdHist, psar = v.MACDHist.Ptr(), v.PSAR.Ptr()
		buy, sell = v.BuyConfirmed, v.SellConfirmed
	}
	return []any{
		r.Symbol, r.Label, r.Source, r.EvaluatedAt.UnixMilli(), r.Bars, r.Verdict != nil,
		ts, closePx, rsi, macd, macdSignal, macdHist, psar, buy, sell, string(r.Action()), r.Error,
	}
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
