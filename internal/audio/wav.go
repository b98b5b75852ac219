package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVWriter appends normalized float32 samples to a 16-bit PCM WAV file. The
// session driver streams every captured block into it so a complete master
// recording exists for the whole-file fallback and crash recovery.
type WAVWriter struct {
	file    *os.File
	encoder *wav.Encoder
	format  *goaudio.Format
}

// NewWAVWriter creates (or truncates) a WAV file at path
func NewWAVWriter(path string, sampleRate, channels int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}

	return &WAVWriter{
		file:    f,
		encoder: wav.NewEncoder(f, sampleRate, 16, channels, 1),
		format:  &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
	}, nil
}

// WriteSamples converts and appends a block of normalized samples
func (w *WAVWriter) WriteSamples(samples []float32) error {
	buf := &goaudio.IntBuffer{
		Format:         w.format,
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = int(clampSample(s) * 32767)
	}

	if err := w.encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file
func (w *WAVWriter) Close() error {
	if err := w.encoder.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to finalize wav file: %w", err)
	}
	return w.file.Close()
}

// WriteWAVFile writes a complete sample slice as a 16-bit PCM WAV file.
// Transcription clients use it to stage segment audio for upload.
func WriteWAVFile(path string, samples []float32, sampleRate int) error {
	w, err := NewWAVWriter(path, sampleRate, 1)
	if err != nil {
		return err
	}
	if err := w.WriteSamples(samples); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// EncodeWAV renders samples as an in-memory WAV payload
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, sampleRate, 16, 1, 1)

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = int(clampSample(s) * 32767)
	}

	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize wav: %w", err)
	}
	return ws.data, nil
}

// ReadWAVFile decodes a WAV file into normalized mono float32 samples,
// averaging channels when the file is not mono.
func ReadWAVFile(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open wav file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, 0, fmt.Errorf("not a valid wav file: %s", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode wav file: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := sampleScale(buf.SourceBitDepth)

	frames := len(buf.Data) / channels
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		samples[i] = sum / float32(channels)
	}

	return samples, buf.Format.SampleRate, nil
}

// sampleScale returns the divisor normalizing integer PCM of the given bit
// depth to [-1, 1]. A zero depth (header without a fmt hint) falls back to
// 16-bit scaling.
func sampleScale(bitDepth int) float32 {
	if bitDepth <= 0 {
		return 32768
	}
	return float32(int(1) << (bitDepth - 1))
}

func clampSample(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// memWriteSeeker satisfies io.WriteSeeker over a byte slice so the WAV
// encoder can back-patch its header without touching disk
type memWriteSeeker struct {
	data []byte
	pos  int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.data) {
		grown := make([]byte, need)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = m.pos + int(offset)
	case io.SeekEnd:
		next = len(m.data) + int(offset)
	default:
		return 0, fmt.Errorf("invalid seek whence: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("negative seek position: %d", next)
	}
	m.pos = next
	return int64(next), nil
}
