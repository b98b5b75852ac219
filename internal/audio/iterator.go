package audio

import "errors"

// WindowIterator produces a lazy sequence of fixed-size analysis windows over
// the ring buffer's currently available range. Each call to Next advances by
// step = window - overlap; the iterator can be reset to any position so the
// segmenter resumes analysis where the previous poll left off instead of
// rescanning from zero.
type WindowIterator struct {
	buf        *RingBuffer
	windowSize float64
	step       float64
	position   float64
}

// NewWindowIterator creates an iterator with windowSize and overlap given in
// seconds. An overlap >= windowSize would never advance, so it is clamped to
// zero in that case.
func NewWindowIterator(buf *RingBuffer, windowSize, overlap float64) *WindowIterator {
	if overlap >= windowSize {
		overlap = 0
	}
	return &WindowIterator{
		buf:        buf,
		windowSize: windowSize,
		step:       windowSize - overlap,
	}
}

// Reset positions the iterator at the given time offset (clamped to 0)
func (it *WindowIterator) Reset(position float64) {
	if position < 0 {
		position = 0
	}
	it.position = position
}

// Position returns the offset the next window would start at
func (it *WindowIterator) Position() float64 {
	return it.position
}

// HasNext reports whether a full window is available at the current position
func (it *WindowIterator) HasNext() bool {
	return it.position+it.windowSize <= it.buf.RecordingDuration()
}

// Next returns the next (timestamp, samples) window. ok is false when the
// next window would extend beyond the captured audio, or when the span has
// already expired from the retained window (the read is then abandoned rather
// than retried; the caller's position simply moves on next poll).
func (it *WindowIterator) Next() (timestamp float64, samples []float32, ok bool) {
	if !it.HasNext() {
		return 0, nil, false
	}

	segment, err := it.buf.ReadSegment(it.position, it.windowSize)
	if err != nil {
		if !errors.Is(err, ErrNotAvailable) {
			it.buf.logger.Warn("Window read failed", Error(err))
		}
		return 0, nil, false
	}

	timestamp = it.position
	it.position += it.step
	return timestamp, segment, true
}
