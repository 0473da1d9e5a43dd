package audio

import (
	"bytes"
	"testing"
)

func TestFramerRechunks(t *testing.T) {
	f := NewFramer(4)

	if frames := f.Push([]byte{1, 2, 3}); frames != nil {
		t.Fatalf("partial push yielded %d frames, want 0", len(frames))
	}
	if f.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", f.Pending())
	}

	frames := f.Push([]byte{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) {
		t.Errorf("frame 0 = %v", frames[0])
	}
	if !bytes.Equal(frames[1], []byte{5, 6, 7, 8}) {
		t.Errorf("frame 1 = %v", frames[1])
	}
	if f.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", f.Pending())
	}
}

func TestFramerFlushPadsTail(t *testing.T) {
	f := NewFramer(4)
	f.Push([]byte{1, 2})

	tail := f.Flush()
	if !bytes.Equal(tail, []byte{1, 2, 0, 0}) {
		t.Fatalf("Flush() = %v, want padded frame", tail)
	}
	if f.Flush() != nil {
		t.Fatal("second Flush should return nil")
	}
	if f.Pending() != 0 {
		t.Fatalf("Pending() = %d after flush, want 0", f.Pending())
	}
}

func TestFramerFramesAreCopies(t *testing.T) {
	f := NewFramer(2)
	src := []byte{1, 2}
	frames := f.Push(src)
	src[0] = 99
	if frames[0][0] != 1 {
		t.Fatal("frame aliases caller buffer")
	}
}
