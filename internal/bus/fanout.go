// Package bus broadcasts evaluation reports from one producer to every sink.
package bus

import (
	"context"
	"log"
	"sync"
	"time"

	"cryptosignal/internal/model"
)

// FanOut broadcasts reports from a single input channel to N output channels.
// A full output drops the report for that subscriber only, so a slow sink
// never stalls evaluation.
type FanOut struct {
	mu      sync.RWMutex
	outputs []chan model.Report
	names   []string
	bufSize int

	// OnDrop is called when a report is dropped for a subscriber.
	OnDrop func(subscriber string)
}

// New creates a FanOut with the given buffer size for output channels.
func New(outputBufferSize int) *FanOut {
	return &FanOut{
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new named output channel.
// Subscribe before calling Run.
func (f *FanOut) Subscribe(name string) <-chan model.Report {
	ch := make(chan model.Report, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, ch)
	f.names = append(f.names, name)
	f.mu.Unlock()
	return ch
}

// Run reads from input and fans out to all subscribers. It closes every
// output when ctx is cancelled or input is closed.
func (f *FanOut) Run(ctx context.Context, input <-chan model.Report) {
	defer func() {
		f.mu.RLock()
		for _, ch := range f.outputs {
			close(ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for i, ch := range f.outputs {
				select {
				case ch <- report:
				default:
					if f.OnDrop != nil {
						f.OnDrop(f.names[i])
					} else {
						log.Printf("[bus] subscriber %s full, dropping report %s", f.names[i], report.Symbol)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the fill level of each subscriber channel.
func (f *FanOut) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, ch := range f.outputs {
		stats[i] = ChannelStat{Name: f.names[i], Len: len(ch), Cap: cap(ch)}
	}
	return stats
}

// ReportStats calls fn with every subscriber's fill level each interval
// until ctx is cancelled.
func (f *FanOut) ReportStats(ctx context.Context, interval time.Duration, fn func(ChannelStat)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range f.ChannelStats() {
				fn(st)
			}
		}
	}
}
