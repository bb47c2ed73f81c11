package notification

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"cryptosignal/internal/model"
)

// Alerter turns reports into alerts. It fires only when an asset's action
// changes into BUY or SELL, so a confirmation that holds across cycles is
// announced once.
type Alerter struct {
	notifiers []Notifier

	mu   sync.Mutex
	last map[string]model.Action

	// OnSent is called after each successful delivery.
	OnSent func(action model.Action, backend string)
}

var _ model.ReportSink = (*Alerter)(nil)

// NewAlerter creates an Alerter delivering to every notifier.
func NewAlerter(notifiers ...Notifier) *Alerter {
	return &Alerter{
		notifiers: notifiers,
		last:      make(map[string]model.Action),
	}
}

// Run consumes reports until ctx is cancelled or reports is closed.
func (a *Alerter) Run(ctx context.Context, reports <-chan model.Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-reports:
			if !ok {
				return
			}
			a.Observe(ctx, r)
		}
	}
}

// Observe records a report and sends an alert if it starts a new
// confirmation. Reports carrying a fetch error leave the state unchanged.
func (a *Alerter) Observe(ctx context.Context, r model.Report) (Alert, bool) {
	if r.Error != "" {
		return Alert{}, false
	}

	action := r.Action()
	a.mu.Lock()
	prev, seen := a.last[r.Symbol]
	a.last[r.Symbol] = action
	a.mu.Unlock()

	if action == model.ActionNone || (seen && prev == action) {
		return Alert{}, false
	}

	alert := BuildAlert(r)
	for _, n := range a.notifiers {
		if err := n.Send(ctx, alert); err != nil {
			log.Printf("[alerter] %s delivery failed for %s: %v", n.Name(), r.Symbol, err)
			continue
		}
		if a.OnSent != nil {
			a.OnSent(action, n.Name())
		}
	}
	return alert, true
}

// BuildAlert renders a confirmation alert for a report with a verdict.
func BuildAlert(r model.Report) Alert {
	v := r.Verdict
	action := r.Action()
	name := r.Label
	if name == "" {
		name = strings.ToUpper(r.Symbol)
	}

	alert := Alert{
		Level:  AlertInfo,
		Symbol: r.Symbol,
		Action: string(action),
		Title:  fmt.Sprintf("%s %s confirmed", name, action),
	}
	if v != nil {
		alert.Message = fmt.Sprintf("close %s, RSI %s, MACD %s vs signal %s, PSAR %s (%s)",
			trimFloat(v.Close), fmtOpt(v.RSI), fmtOpt(v.MACD), fmtOpt(v.MACDSignal), fmtOpt(v.PSAR), r.Source)
	}
	return alert
}

func fmtOpt(f model.Float) string {
	v, ok := f.Get()
	if !ok {
		return "n/a"
	}
	return trimFloat(v)
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.4f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
