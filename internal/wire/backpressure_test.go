package wire

import "testing"

func TestBufferSignalsPauseAtHighWatermark(t *testing.T) {
	b := NewBuffer(Watermarks{Low: 2, High: 5, Max: 10})

	pause, err := b.Push(make([]byte, 3))
	if err != nil {
		t.Fatal(err)
	}
	if pause {
		t.Fatal("should not pause below high watermark")
	}

	pause, err = b.Push(make([]byte, 3))
	if err != nil {
		t.Fatal(err)
	}
	if !pause {
		t.Fatal("expected pause once bytes cross high watermark")
	}
	if !b.Paused() {
		t.Fatal("expected Paused() to report true")
	}
}

func TestBufferSignalsResumeAtLowWatermark(t *testing.T) {
	b := NewBuffer(Watermarks{Low: 2, High: 5, Max: 10})
	if _, err := b.Push(make([]byte, 6)); err != nil {
		t.Fatal(err)
	}
	if !b.Paused() {
		t.Fatal("expected paused after crossing high watermark")
	}

	_, resume, ok := b.Pop()
	if !ok {
		t.Fatal("expected a frame")
	}
	if !resume {
		t.Fatal("expected resume once bytes drain to low watermark")
	}
	if b.Paused() {
		t.Fatal("expected Paused() to report false after resume")
	}
}

func TestBufferRejectsPushPastMax(t *testing.T) {
	b := NewBuffer(Watermarks{Low: 1, High: 2, Max: 4})
	if _, err := b.Push(make([]byte, 5)); err != ErrBackpressureOverflow {
		t.Fatalf("got %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("overflowing frame must not be enqueued, got len %d", b.Len())
	}
}

func TestBufferPopOnEmptyReturnsNotOK(t *testing.T) {
	b := NewBuffer(DefaultWatermarks())
	if _, _, ok := b.Pop(); ok {
		t.Fatal("expected ok=false on empty buffer")
	}
}
