package server

import (
	"strings"
	"testing"

	"github.com/CosmoTheDev/scangate/models"
)

func TestBroadcasterFrameFormat(t *testing.T) {
	frame, err := sseFrame(SSEEvent{Type: "run.queued", RunID: "run_1"})
	if err != nil {
		t.Fatal(err)
	}
	s := string(frame)
	if !strings.HasPrefix(s, "event: run.queued\ndata: ") {
		t.Errorf("frame = %q", s)
	}
	if !strings.HasSuffix(s, "\n\n") {
		t.Errorf("frame must end with a blank line, got %q", s)
	}
	if !strings.Contains(s, `"run_id":"run_1"`) {
		t.Errorf("run id missing from payload: %q", s)
	}
}

func TestBroadcasterRunFilter(t *testing.T) {
	b := newBroadcaster()
	all := b.subscribe("")
	one := b.subscribe("run_a")
	defer b.unsubscribe(all)
	defer b.unsubscribe(one)

	runA := &models.SecurityRun{RunID: "run_a"}
	runB := &models.SecurityRun{RunID: "run_b"}
	b.send(SSEEvent{Type: "run.completed", Payload: runA})
	b.send(SSEEvent{Type: "run.completed", Payload: runB})

	if got := len(all.ch); got != 2 {
		t.Errorf("unfiltered subscriber received %d frames, want 2", got)
	}
	if got := len(one.ch); got != 1 {
		t.Fatalf("filtered subscriber received %d frames, want 1", got)
	}
	if frame := <-one.ch; !strings.Contains(string(frame), "run_a") {
		t.Errorf("filtered subscriber got wrong run: %q", frame)
	}
}

func TestBroadcasterStampsRunID(t *testing.T) {
	b := newBroadcaster()
	sub := b.subscribe("")
	defer b.unsubscribe(sub)

	b.send(SSEEvent{Type: "run.started", Payload: &models.SecurityRun{RunID: "run_x"}})
	frame := <-sub.ch
	if !strings.Contains(string(frame), `"run_id":"run_x"`) {
		t.Errorf("run id not stamped onto event: %q", frame)
	}
}

func TestBroadcasterSkipsSlowSubscriber(t *testing.T) {
	b := newBroadcaster()
	sub := b.subscribe("")
	defer b.unsubscribe(sub)

	for i := 0; i < cap(sub.ch)+10; i++ {
		b.send(SSEEvent{Type: "run.queued"})
	}
	// A full buffer drops frames instead of blocking the sender.
	if got := len(sub.ch); got != cap(sub.ch) {
		t.Errorf("buffered frames = %d, want %d", got, cap(sub.ch))
	}
}
