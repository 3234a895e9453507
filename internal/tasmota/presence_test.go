package tasmota

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newTestTracker() *presenceTracker {
	return newPresenceTracker(DefaultTopics(), nopLogger{})
}

func TestPresenceTracker_EdgesOnly(t *testing.T) {
	p := newTestTracker()

	steps := []struct {
		payload string
		want    UpdateKind // zero means no event
	}{
		{"Online", Added},
		{"Online", 0},
		{"Offline", Removed},
		{"Offline", 0},
		{"", 0},
		{"Online", Added},
		{"", Removed},
	}

	for i, step := range steps {
		update, ok := p.handle("tele/sonoff-1/LWT", []byte(step.payload))
		if step.want == 0 {
			if ok {
				t.Errorf("step %d (%q): unexpected %v", i, step.payload, update)
			}
			continue
		}
		if !ok || update.Kind != step.want || update.Device != "sonoff-1" {
			t.Errorf("step %d (%q): got (%v, %v), want %v sonoff-1", i, step.payload, update, ok, step.want)
		}
	}
}

func TestPresenceTracker_IgnoresUnrelated(t *testing.T) {
	p := newTestTracker()

	for _, msg := range []struct{ topic, payload string }{
		{"stat/sonoff-1/RESULT", `{"POWER":"ON"}`},
		{"tele/sonoff-1/STATE", `{"Uptime":"0T00:01:00"}`},
		{"tele/sonoff-1/LWT", "garbage"},
	} {
		if update, ok := p.handle(msg.topic, []byte(msg.payload)); ok {
			t.Errorf("handle(%s) = %v, want no event", msg.topic, update)
		}
	}
	if got := p.snapshot(); len(got) != 0 {
		t.Errorf("snapshot() = %v, want empty", got)
	}
}

func TestPresenceTracker_SubscribeReplaysSnapshot(t *testing.T) {
	p := newTestTracker()
	p.apply("b", Online)
	p.apply("a", Online)
	p.apply("c", Online)
	p.apply("c", Offline)

	_, box := p.subscribe()
	if box.len() != 2 {
		t.Fatalf("mailbox holds %d events, want 2", box.len())
	}

	ctx := context.Background()
	for _, want := range []DeviceID{"a", "b"} {
		update, err := box.next(ctx)
		if err != nil {
			t.Fatalf("next() error = %v", err)
		}
		if update != (DeviceUpdate{Kind: Added, Device: want}) {
			t.Errorf("next() = %v, want added %s", update, want)
		}
	}

	p.apply("a", Offline)
	update, err := box.next(ctx)
	if err != nil || update != (DeviceUpdate{Kind: Removed, Device: "a"}) {
		t.Errorf("next() = (%v, %v), want removed a", update, err)
	}
}

func TestPresenceTracker_FanOut(t *testing.T) {
	p := newTestTracker()
	_, first := p.subscribe()
	_, second := p.subscribe()

	p.apply("plug", Online)

	for i, box := range []*mailbox[DeviceUpdate]{first, second} {
		update, err := box.next(context.Background())
		if err != nil || update.Device != "plug" {
			t.Errorf("subscriber %d got (%v, %v)", i, update, err)
		}
	}
}

func TestPresenceTracker_UnsubscribeAndClose(t *testing.T) {
	p := newTestTracker()
	id, box := p.subscribe()
	_, other := p.subscribe()

	p.unsubscribe(id)
	if p.subscriberCount() != 1 {
		t.Errorf("subscriberCount() = %d, want 1", p.subscriberCount())
	}
	if _, err := box.next(context.Background()); !errors.Is(err, errMailboxClosed) {
		t.Errorf("next() after unsubscribe error = %v, want errMailboxClosed", err)
	}

	p.close()
	if _, err := other.next(context.Background()); !errors.Is(err, errMailboxClosed) {
		t.Errorf("next() after close error = %v, want errMailboxClosed", err)
	}
	if _, ok := p.apply("late", Online); ok {
		t.Error("apply() after close produced an event")
	}

	_, late := p.subscribe()
	if _, err := late.next(context.Background()); !errors.Is(err, errMailboxClosed) {
		t.Errorf("subscribe() after close: next() error = %v, want errMailboxClosed", err)
	}
}

func TestPresenceTracker_Snapshot(t *testing.T) {
	p := newTestTracker()
	for _, device := range []DeviceID{"z", "m", "a"} {
		p.apply(device, Online)
	}

	want := []DeviceID{"a", "m", "z"}
	if got := p.snapshot(); !slices.Equal(got, want) {
		t.Errorf("snapshot() = %v, want %v", got, want)
	}
	if !p.isOnline("m") || p.isOnline("q") {
		t.Error("isOnline() reported wrong state")
	}
}

func TestMailbox_OrderAndWake(t *testing.T) {
	box := newMailbox[int]()

	got := make(chan int, 3)
	go func() {
		for {
			v, err := box.next(context.Background())
			if err != nil {
				close(got)
				return
			}
			got <- v
		}
	}()

	for i := 1; i <= 3; i++ {
		box.put(i)
	}
	box.close()

	var values []int
	for v := range got {
		values = append(values, v)
	}
	if !slices.Equal(values, []int{1, 2, 3}) {
		t.Errorf("received %v, want [1 2 3]", values)
	}
	if box.put(4) {
		t.Error("put() after close = true, want false")
	}
}

func TestMailbox_ContextCancel(t *testing.T) {
	box := newMailbox[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := box.next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("next() error = %v, want DeadlineExceeded", err)
	}
}
