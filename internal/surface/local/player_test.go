package local

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
)

// constantStreamer 输出固定样本，n 为总帧数（<0 表示无限）
type constantStreamer struct {
	value float64
	n     int
}

func (s *constantStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.n == 0 {
		return 0, false
	}
	count := len(samples)
	if s.n > 0 && count > s.n {
		count = s.n
	}
	for i := 0; i < count; i++ {
		samples[i] = [2]float64{s.value, -s.value}
	}
	if s.n > 0 {
		s.n -= count
	}
	return count, true
}

func (s *constantStreamer) Err() error { return nil }

func testFormat(rate int) beep.Format {
	return beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2}
}

func TestPlayerFillAppliesGain(t *testing.T) {
	p := NewPlayer(Config{SampleRate: 8000, FramesPerBuffer: 16})
	p.LoadStreamer("const", &constantStreamer{value: 0.5, n: -1}, testFormat(8000))

	testCases := []struct {
		name string
		gain float64
		want float32
	}{
		{"unity", 1, 0.5},
		{"half", 0.5, 0.25},
		{"silent", 0, 0},
		{"clamped above one", 3, 0.5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p.SetGain(tc.gain)
			out := make([]float32, 32)
			p.Fill(out)
			for i := 0; i < len(out); i += 2 {
				if out[i] != tc.want || out[i+1] != -tc.want {
					t.Fatalf("frame %d: got (%v,%v), want (%v,%v)", i/2, out[i], out[i+1], tc.want, -tc.want)
				}
			}
		})
	}
}

func TestPlayerFillClips(t *testing.T) {
	p := NewPlayer(Config{SampleRate: 8000, FramesPerBuffer: 8})
	p.LoadStreamer("loud", &constantStreamer{value: 1.8, n: -1}, testFormat(8000))

	out := make([]float32, 16)
	p.Fill(out)
	if out[0] != 1 || out[1] != -1 {
		t.Fatalf("expected hard clip to ±1, got (%v,%v)", out[0], out[1])
	}
}

func TestPlayerFillSilenceWithoutSource(t *testing.T) {
	p := NewPlayer(DefaultConfig())
	out := []float32{9, 9, 9, 9}
	p.Fill(out)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("sample %d: expected silence, got %v", i, v)
		}
	}
}

func TestPlayerEndedCallback(t *testing.T) {
	p := NewPlayer(Config{SampleRate: 8000, FramesPerBuffer: 8})
	p.LoadStreamer("short", &constantStreamer{value: 0.2, n: 4}, testFormat(8000))
	ended := make(chan struct{}, 1)
	p.OnEnded(func() { ended <- struct{}{} })

	out := make([]float32, 16)
	p.Fill(out)
	if out[6] != 0.2 || out[8] != 0 {
		t.Fatalf("expected 4 frames then silence, got %v", out)
	}
	p.Fill(out)

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("ended callback not called")
	}
}

func TestPlayerLoadUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "music.flac")
	if err := os.WriteFile(path, []byte("fLaC"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	p := NewPlayer(DefaultConfig())
	if err := p.Load(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestPlayerLoadWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	tone, format, err := Tone(22050, 440, 0.5)
	if err != nil {
		t.Fatalf("Tone failed: %v", err)
	}
	if err := wav.Encode(f, beep.Take(2205, tone), format); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	_ = f.Close()

	p := NewPlayer(Config{SampleRate: 44100, FramesPerBuffer: 256, Loop: false})
	if err := p.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer p.Close()
	if p.Name() != "tone.wav" {
		t.Fatalf("unexpected name %q", p.Name())
	}

	out := make([]float32, 512)
	p.Fill(out)
	nonZero := false
	for _, v := range out {
		if v > 0.55 || v < -0.55 {
			t.Fatalf("sample %v exceeds tone level", v)
		}
		if v != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Fatal("decoded wav produced only silence")
	}
}

func TestPlayerStartWithoutSource(t *testing.T) {
	p := NewPlayer(DefaultConfig())
	if err := p.Start(); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}
