package audio

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"
)

func sine(durationSecs float64, sampleRate int) []float32 {
	n := int(durationSecs * float64(sampleRate))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
	}
	return samples
}

func TestWAVFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	original := sine(0.5, 16000)

	if err := WriteWAVFile(path, original, 16000); err != nil {
		t.Fatalf("write: %v", err)
	}

	decoded, sampleRate, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if sampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", sampleRate)
	}
	if len(decoded) != len(original) {
		t.Fatalf("samples = %d, want %d", len(decoded), len(original))
	}

	// 16-bit quantization loses a little precision
	for i := 0; i < len(original); i += 997 {
		if math.Abs(float64(decoded[i]-original[i])) > 1.0/32000 {
			t.Fatalf("sample %d = %v, want ~%v", i, decoded[i], original[i])
		}
	}
}

func TestEncodeWAVProducesValidHeader(t *testing.T) {
	data, err := EncodeWAV(sine(0.1, 16000), 16000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Error("missing RIFF header")
	}
	if !bytes.Contains(data[:32], []byte("WAVE")) {
		t.Error("missing WAVE marker")
	}
	// header + 16-bit samples
	if wantMin := 44 + 2*int(0.1*16000); len(data) < wantMin {
		t.Errorf("encoded size = %d, want at least %d", len(data), wantMin)
	}
}

func TestWAVWriterIncremental(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incremental.wav")

	w, err := NewWAVWriter(path, 16000, 1)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	chunk := sine(0.25, 16000)
	for i := 0; i < 4; i++ {
		if err := w.WriteSamples(chunk); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	decoded, _, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(decoded) != 4*len(chunk) {
		t.Errorf("samples = %d, want %d", len(decoded), 4*len(chunk))
	}
}

func TestSampleScale(t *testing.T) {
	cases := []struct {
		bitDepth int
		want     float32
	}{
		{8, 128},
		{16, 32768},
		{24, 8388608},
		{0, 32768}, // missing depth hint falls back to 16-bit
	}
	for _, c := range cases {
		if got := sampleScale(c.bitDepth); got != c.want {
			t.Errorf("sampleScale(%d) = %v, want %v", c.bitDepth, got, c.want)
		}
	}
}

func TestClippingSamplesAreClamped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	samples := []float32{2.0, -2.0, 0.0}

	if err := WriteWAVFile(path, samples, 16000); err != nil {
		t.Fatalf("write: %v", err)
	}

	decoded, _, err := ReadWAVFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if decoded[0] < 0.99 || decoded[0] > 1.0 {
		t.Errorf("decoded[0] = %v, want clamped to ~1", decoded[0])
	}
	if decoded[1] > -0.99 {
		t.Errorf("decoded[1] = %v, want clamped to ~-1", decoded[1])
	}
}
