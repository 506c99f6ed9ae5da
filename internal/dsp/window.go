package dsp

import (
	"fmt"
	"time"
)

// WindowFunc receives a completed window. The data slice is owned by the
// receiver; the aggregator never touches it again.
type WindowFunc func(data []byte, start time.Time)

// WindowAggregator accumulates frames into fixed-byte windows. Every
// input sample appears in exactly one emitted window, emission order
// matches input order, and all windows except possibly a final explicit
// flush are exactly the configured size. Not safe for concurrent use.
type WindowAggregator struct {
	size  int
	buf   []byte
	n     int
	start time.Time
	emit  WindowFunc
}

// NewWindowAggregator creates an aggregator for windows of sizeBytes,
// which must be positive and sample-aligned.
func NewWindowAggregator(sizeBytes int, emit WindowFunc) (*WindowAggregator, error) {
	if sizeBytes <= 0 || sizeBytes%2 != 0 {
		return nil, fmt.Errorf("window size must be a positive even byte count, got %d", sizeBytes)
	}
	if emit == nil {
		return nil, fmt.Errorf("window callback is required")
	}
	return &WindowAggregator{
		size: sizeBytes,
		buf:  make([]byte, sizeBytes),
		emit: emit,
	}, nil
}

// Append adds a frame of samples captured at ts. Full windows are emitted
// immediately; remaining samples continue into the next window, which is
// re-stamped with ts.
func (w *WindowAggregator) Append(samples []int16, ts time.Time) {
	if len(samples) == 0 {
		return
	}
	if w.n == w.size {
		w.Flush()
	}
	if w.n == 0 {
		w.start = ts
	}

	for _, s := range samples {
		w.buf[w.n] = byte(s)
		w.buf[w.n+1] = byte(uint16(s) >> 8)
		w.n += 2
		if w.n == w.size {
			w.Flush()
			w.start = ts
		}
	}
}

// Flush emits the buffered bytes as a (possibly partial) window. A flush
// of an empty buffer is a no-op, so stopping capture never emits an
// empty window.
func (w *WindowAggregator) Flush() {
	if w.n == 0 {
		return
	}
	data := make([]byte, w.n)
	copy(data, w.buf[:w.n])
	w.n = 0
	w.emit(data, w.start)
}

// Pending returns the number of buffered bytes not yet emitted.
func (w *WindowAggregator) Pending() int {
	return w.n
}
