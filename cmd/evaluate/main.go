// cmd/evaluate fetches every configured asset once over REST, evaluates it
// and prints the verdicts.
//
// Usage:
//
//	evaluate [-source binance|coingecko] [-json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"cryptosignal/config"
	"cryptosignal/internal/indicator"
	"cryptosignal/internal/marketdata/binance"
	"cryptosignal/internal/marketdata/coingecko"
	"cryptosignal/internal/model"
	"cryptosignal/internal/pipeline"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	source := flag.String("source", "", "feed source (binance or coingecko); defaults to FEED_SOURCE")
	asJSON := flag.Bool("json", false, "print reports as JSON")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[evaluate] %v", err)
	}
	if *source != "" {
		cfg.FeedSource = *source
		if err := cfg.Validate(); err != nil {
			log.Fatalf("[evaluate] %v", err)
		}
	}

	var fetcher model.Fetcher
	switch cfg.FeedSource {
	case config.SourceCoinGecko:
		fetcher = coingecko.New(cfg.CoinGecko())
	case config.SourceBinance:
		fetcher = binance.New(cfg.Binance())
	default:
		// The stream feed needs time to fill its buffers.
		log.Fatalf("[evaluate] source %q is not supported for one-shot runs", cfg.FeedSource)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pc := cfg.Pipeline()
	pc.AutoRefresh = false
	svc := pipeline.New(pc, fetcher, indicator.NewComputer(cfg.Indicator()), nil)
	reports := svc.RunOnce(ctx)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(reports); err != nil {
			log.Fatalf("[evaluate] encode: %v", err)
		}
		return
	}
	writeTable(os.Stdout, reports)
}

func writeTable(out io.Writer, reports []model.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tLABEL\tACTION\tCLOSE\tRSI\tMACD\tSIGNAL\tPSAR\tBARS\tNOTE")
	for i := range reports {
		r := &reports[i]
		if r.Verdict == nil {
			note := "no data"
			if r.Error != "" {
				note = r.Error
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t-\t-\t-\t-\t-\t%d\t%s\n", r.Symbol, r.Label, r.Action(), r.Bars, note)
			continue
		}
		v := r.Verdict
		fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\t%s\t%s\t%s\t%d\t\n",
			r.Symbol, r.Label, r.Action(), v.Close,
			short(v.RSI), short(v.MACD), short(v.MACDSignal), short(v.PSAR), r.Bars)
	}
	w.Flush()
}

func short(f model.Float) string {
	v, ok := f.Get()
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.4g", v)
}
