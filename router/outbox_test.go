package router

import "testing"

func TestOutboxEnqueueNextFIFO(t *testing.T) {
	ob := NewOutbox(4)
	for i := 0; i < 3; i++ {
		if !ob.Enqueue([]byte{byte(i)}) {
			t.Fatalf("Enqueue(%d) failed", i)
		}
	}
	for i := 0; i < 3; i++ {
		frame, ok := ob.Next()
		if !ok || frame[0] != byte(i) {
			t.Fatalf("Next() = (%v, %v), want (%v, true)", frame, ok, []byte{byte(i)})
		}
	}
}

func TestOutboxOverflowReturnsFalse(t *testing.T) {
	ob := NewOutbox(2)
	if !ob.Enqueue([]byte("a")) || !ob.Enqueue([]byte("b")) {
		t.Fatal("expected first two enqueues to succeed")
	}
	if ob.Enqueue([]byte("c")) {
		t.Fatal("expected third enqueue to fail (capacity 2)")
	}
	if !ob.Overflowed() {
		t.Fatal("expected Overflowed() true after a rejected enqueue")
	}
}

func TestOutboxCloseDrainsThenReturnsFalse(t *testing.T) {
	ob := NewOutbox(4)
	ob.Enqueue([]byte("a"))
	ob.Close()

	frame, ok := ob.Next()
	if !ok || string(frame) != "a" {
		t.Fatalf("Next() = (%q, %v), want (a, true)", frame, ok)
	}
	_, ok = ob.Next()
	if ok {
		t.Fatal("expected Next() ok=false once closed and drained")
	}
}

func TestOutboxEnqueueAfterCloseFails(t *testing.T) {
	ob := NewOutbox(4)
	ob.Close()
	if ob.Enqueue([]byte("a")) {
		t.Fatal("expected Enqueue() to fail on a closed outbox")
	}
}

func TestOutboxNextBlocksUntilEnqueue(t *testing.T) {
	ob := NewOutbox(4)
	done := make(chan []byte, 1)
	go func() {
		frame, ok := ob.Next()
		if !ok {
			done <- nil
			return
		}
		done <- frame
	}()

	ob.Enqueue([]byte("late"))
	got := <-done
	if string(got) != "late" {
		t.Fatalf("Next() = %q, want late", got)
	}
}
