package ring

import (
	"bytes"
	"testing"
)

func TestAppendAtTailCapacityAccounting(t *testing.T) {
	r := New(8)
	if err := r.AppendAtTail([]byte("abcd")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if r.UsedSpace() != 4 || r.AvailableSpace() != 4 {
		t.Fatalf("used=%d avail=%d, want 4/4", r.UsedSpace(), r.AvailableSpace())
	}
	if r.UsedSpace()+r.AvailableSpace() != r.BufferSize() {
		t.Fatalf("used+free != capacity")
	}
}

func TestAppendAtTailRejectsOversizedWriteWithoutPartialWrite(t *testing.T) {
	r := New(4)
	if err := r.AppendAtTail([]byte("abcde")); err != ErrFull {
		t.Fatalf("got %v, want ErrFull", err)
	}
	if r.UsedSpace() != 0 {
		t.Fatalf("used=%d, want 0 after rejected append", r.UsedSpace())
	}
}

func TestRoundTripViaNext(t *testing.T) {
	r := New(16)
	src := []byte("hello, p2")
	if err := r.AppendAtTail(src); err != nil {
		t.Fatalf("append: %v", err)
	}

	var got []byte
	for {
		b, ok := r.Next()
		if !ok {
			break
		}
		got = append(got, b)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("got %q, want %q", got, src)
	}
	if r.HasData() {
		t.Fatalf("ring should be empty after draining")
	}
}

func TestWrapCorrectness(t *testing.T) {
	r := New(8)
	a := []byte("AAAA")
	b := []byte("BBBB")

	if err := r.AppendAtTail(a); err != nil {
		t.Fatalf("append a: %v", err)
	}
	r.Consume(len(a))
	if err := r.AppendAtTail(b); err != nil {
		t.Fatalf("append b: %v", err)
	}

	got := r.CopyOut(len(b))
	if !bytes.Equal(got, b) {
		t.Fatalf("got %q, want %q (wrap failure)", got, b)
	}
}

func TestWrapCorrectnessAcrossManySplits(t *testing.T) {
	r := New(8)
	total := []byte{}
	for i := 0; i < 50; i++ {
		chunk := []byte{byte(i), byte(i + 1)}
		if err := r.AppendAtTail(chunk); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		out := r.CopyOut(len(chunk))
		r.Consume(len(chunk))
		if !bytes.Equal(out, chunk) {
			t.Fatalf("iteration %d: got %v want %v", i, out, chunk)
		}
		total = append(total, chunk...)
	}
}

func TestPeekAtDoesNotConsume(t *testing.T) {
	r := New(8)
	if err := r.AppendAtTail([]byte{1, 2, 3}); err != nil {
		t.Fatalf("append: %v", err)
	}
	b, ok := r.PeekAt(1)
	if !ok || b != 2 {
		t.Fatalf("peekAt(1)=%d,%v want 2,true", b, ok)
	}
	if r.UsedSpace() != 3 {
		t.Fatalf("peek must not consume, used=%d", r.UsedSpace())
	}
	if _, ok := r.PeekAt(3); ok {
		t.Fatalf("peekAt out of range should report !ok")
	}
}

func TestConsumePastUsedSpacePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic consuming past used space")
		}
	}()
	r := New(4)
	_ = r.AppendAtTail([]byte{1, 2})
	r.Consume(3)
}

func TestClearResetsCounters(t *testing.T) {
	r := New(4)
	_ = r.AppendAtTail([]byte{1, 2, 3})
	r.Clear()
	if r.UsedSpace() != 0 || r.AvailableSpace() != r.BufferSize() {
		t.Fatalf("clear did not reset counters")
	}
	if r.HasData() {
		t.Fatalf("hasData should be false after clear")
	}
}
