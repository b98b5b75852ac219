package segmenter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benjamayden/rejoice-slim/internal/audio"
	"github.com/benjamayden/rejoice-slim/pkg/logger"
)

const (
	extractMaxAttempts = 10
	extractRetryDelay  = 200 * time.Millisecond
)

// Extractor resolves a decided segment's time range into concrete audio
// samples from the ring buffer. A boundary can be decided moments before the
// capture goroutine has flushed the corresponding audio, so reads that come
// back unavailable are retried on a fixed short backoff with a bounded total
// wait before the segment is reported as permanently unextractable.
type Extractor struct {
	buf    *audio.RingBuffer
	logger *logger.Logger
}

// NewExtractor creates an extractor over the given ring buffer
func NewExtractor(buf *audio.RingBuffer, log *logger.Logger) *Extractor {
	return &Extractor{
		buf:    buf,
		logger: log.Named("extractor"),
	}
}

// ExtractAudio returns the samples spanning the segment's time range
func (e *Extractor) ExtractAudio(ctx context.Context, seg SegmentInfo) ([]float32, error) {
	for attempt := 1; attempt <= extractMaxAttempts; attempt++ {
		samples, err := e.buf.ReadSegment(seg.StartTime, seg.Duration)
		if err == nil {
			e.logger.Debug("Extracted segment audio",
				String("segment_id", seg.ID()),
				Int("samples", len(samples)),
				Int("attempt", attempt))
			return samples, nil
		}

		if !errors.Is(err, audio.ErrNotAvailable) {
			return nil, fmt.Errorf("failed to read segment %s: %w", seg.ID(), err)
		}

		if attempt < extractMaxAttempts {
			e.logger.Debug("Segment audio not ready, retrying",
				String("segment_id", seg.ID()),
				Int("attempt", attempt))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(extractRetryDelay):
			}
		}
	}

	e.logger.Warn("Failed to extract segment audio after retries",
		String("segment_id", seg.ID()),
		Float64("waited_secs", (extractRetryDelay * extractMaxAttempts).Seconds()))

	return nil, fmt.Errorf("segment %s unavailable after %d attempts: %w",
		seg.ID(), extractMaxAttempts, audio.ErrNotAvailable)
}
