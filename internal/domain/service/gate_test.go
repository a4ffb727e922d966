package service

import (
	"testing"
	"time"

	"github.com/vizloop/enginecore/internal/domain/entity"
)

func TestRenderJobGatePublishPeek(t *testing.T) {
	g := NewRenderJobGate()
	if got := g.Peek(); got != nil {
		t.Fatalf("expected nil peek before publish, got %+v", got)
	}

	g.Publish(&entity.RenderJob{Seq: 1, RawImageB64: "raw1"})
	got := g.Peek()
	if got == nil || got.Seq != 1 || got.RawImageB64 != "raw1" {
		t.Fatalf("unexpected peek result: %+v", got)
	}

	// Peek must not consume.
	got2 := g.Peek()
	if got2 == nil || got2.Seq != 1 {
		t.Fatalf("second peek should still see the job, got %+v", got2)
	}
}

func TestRenderJobGateDeliverAwait(t *testing.T) {
	g := NewRenderJobGate()
	g.Publish(&entity.RenderJob{Seq: 5, RawImageB64: "raw"})

	done := make(chan struct{})
	var img string
	var res AwaitResult
	go func() {
		img, res = g.Await(5, time.Second)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	if dr := g.Deliver(5, "annotated-5"); dr != DeliverOK {
		t.Fatalf("expected DeliverOK, got %v", dr)
	}

	<-done
	if res != AwaitOK {
		t.Fatalf("expected AwaitOK, got %v", res)
	}
	if img != "annotated-5" {
		t.Fatalf("expected annotated-5, got %q", img)
	}

	// Slot must be cleared after a successful await.
	if got := g.Peek(); got != nil {
		t.Fatalf("expected nil peek after consumed await, got %+v", got)
	}
}

func TestRenderJobGateStaleDeliver(t *testing.T) {
	g := NewRenderJobGate()
	g.Publish(&entity.RenderJob{Seq: 1})

	if dr := g.Deliver(2, "wrong-seq"); dr != DeliverStale {
		t.Fatalf("expected DeliverStale, got %v", dr)
	}

	g.Publish(&entity.RenderJob{Seq: 2})
	// The stale delivery for seq 1 must not have landed on seq 2's slot.
	if dr := g.Deliver(1, "still-stale"); dr != DeliverStale {
		t.Fatalf("expected DeliverStale after republish, got %v", dr)
	}
}

func TestRenderJobGateNoPending(t *testing.T) {
	g := NewRenderJobGate()
	if dr := g.Deliver(1, "x"); dr != DeliverNoPending {
		t.Fatalf("expected DeliverNoPending, got %v", dr)
	}
}

func TestRenderJobGateAwaitTimeout(t *testing.T) {
	g := NewRenderJobGate()
	g.Publish(&entity.RenderJob{Seq: 1})

	_, res := g.Await(1, 20*time.Millisecond)
	if res != AwaitTimeout {
		t.Fatalf("expected AwaitTimeout, got %v", res)
	}
}

func TestRenderJobGateCancelUnblocksAwaiters(t *testing.T) {
	g := NewRenderJobGate()
	g.Publish(&entity.RenderJob{Seq: 1})

	done := make(chan AwaitResult)
	go func() {
		_, res := g.Await(1, 5*time.Second)
		done <- res
	}()

	time.Sleep(10 * time.Millisecond)
	g.Cancel()

	select {
	case res := <-done:
		if res != AwaitCancelled {
			t.Fatalf("expected AwaitCancelled, got %v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Await did not wake up after Cancel")
	}
}

func TestRenderJobGateRepublishClearsPriorAnnotation(t *testing.T) {
	g := NewRenderJobGate()
	g.Publish(&entity.RenderJob{Seq: 1})
	g.Deliver(1, "ann-1")

	// A fresh publish for a new turn must discard the stale annotation,
	// even though nothing ever consumed it via Await.
	g.Publish(&entity.RenderJob{Seq: 2})

	_, res := g.Await(2, 20*time.Millisecond)
	if res != AwaitTimeout {
		t.Fatalf("expected AwaitTimeout since no delivery landed on seq 2, got %v", res)
	}
}

func TestRenderJobGateIdempotentRedelivery(t *testing.T) {
	g := NewRenderJobGate()
	g.Publish(&entity.RenderJob{Seq: 7})

	if dr := g.Deliver(7, "first"); dr != DeliverOK {
		t.Fatalf("expected DeliverOK, got %v", dr)
	}
	if dr := g.Deliver(7, "second"); dr != DeliverOK {
		t.Fatalf("expected DeliverOK on redelivery, got %v", dr)
	}

	img, res := g.Await(7, time.Second)
	if res != AwaitOK || img != "second" {
		t.Fatalf("expected latest redelivery to win, got img=%q res=%v", img, res)
	}
}
