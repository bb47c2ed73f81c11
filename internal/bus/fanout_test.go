package bus

import (
	"context"
	"testing"
	"time"

	"cryptosignal/internal/model"
)

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	out1 := fo.Subscribe("redis")
	out2 := fo.Subscribe("gateway")

	input := make(chan model.Report, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Report{Symbol: "ethusdt", Source: "binance"}

	for name, out := range map[string]<-chan model.Report{"out1": out1, "out2": out2} {
		select {
		case r := <-out:
			if r.Symbol != "ethusdt" {
				t.Errorf("%s: expected ethusdt, got %s", name, r.Symbol)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: timed out waiting for report", name)
		}
	}
}

func TestFanOut_DropsForSlowSubscriber(t *testing.T) {
	fo := New(1)
	slow := fo.Subscribe("slow")
	fast := fo.Subscribe("fast")

	dropped := make(chan string, 10)
	fo.OnDrop = func(name string) { dropped <- name }

	input := make(chan model.Report)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.Report{Symbol: "a"}
	<-fast
	input <- model.Report{Symbol: "b"}
	<-fast

	select {
	case name := <-dropped:
		if name != "slow" {
			t.Errorf("dropped for %s, want slow", name)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a drop for the slow subscriber")
	}
	if r := <-slow; r.Symbol != "a" {
		t.Errorf("slow subscriber should keep the first report, got %s", r.Symbol)
	}
}

func TestFanOut_ClosesOutputsOnInputClose(t *testing.T) {
	fo := New(1)
	out := fo.Subscribe("x")
	input := make(chan model.Report)
	done := make(chan struct{})
	go func() {
		fo.Run(context.Background(), input)
		close(done)
	}()
	close(input)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after input closed")
	}
	if _, ok := <-out; ok {
		t.Error("expected output channel to be closed")
	}
	if stats := fo.ChannelStats(); len(stats) != 1 || stats[0].Name != "x" || stats[0].Cap != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestFanOut_ReportStats(t *testing.T) {
	fo := New(4)
	fo.Subscribe("sqlite")

	got := make(chan ChannelStat, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fo.ReportStats(ctx, 5*time.Millisecond, func(st ChannelStat) {
			select {
			case got <- st:
			default:
			}
		})
		close(done)
	}()

	select {
	case st := <-got:
		if st.Name != "sqlite" || st.Cap != 4 || st.Len != 0 {
			t.Errorf("stat = %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no stats reported")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ReportStats did not stop after cancel")
	}
}
