package speech

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func makePCM(sample int16, count int) []byte {
	data := make([]byte, count*2)
	for i := 0; i < count; i++ {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(uint16(sample) >> 8)
	}
	return data
}

// frameSource 依次返回预设的帧，读完后返回 io.EOF
type frameSource struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *frameSource) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed || len(s.frames) == 0 {
		return nil, io.EOF
	}
	frame := s.frames[0]
	s.frames = s.frames[1:]
	return frame, nil
}

func (s *frameSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestRMS(t *testing.T) {
	testCases := []struct {
		name  string
		frame []byte
		want  float64
	}{
		{"empty", nil, 0},
		{"silence", makePCM(0, 160), 0},
		{"half scale", makePCM(16384, 160), 0.5},
		{"negative half scale", makePCM(-16384, 160), 0.5},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RMS(tc.frame); got != tc.want {
				t.Fatalf("RMS = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDetectorHangover(t *testing.T) {
	mock := clock.NewMock()
	d := NewDetector(DetectorConfig{Threshold: 0.1, Hangover: 300 * time.Millisecond}, nil, mock)

	var levels []bool
	d.OnLevel(func(detected bool) { levels = append(levels, detected) })

	loud := makePCM(8000, 160)
	quiet := makePCM(10, 160)

	if !d.Process(loud) {
		t.Fatal("loud frame should be speech")
	}
	mock.Add(200 * time.Millisecond)
	if !d.Process(quiet) {
		t.Fatal("quiet frame inside hangover should keep speech")
	}
	mock.Add(200 * time.Millisecond)
	if d.Process(quiet) {
		t.Fatal("quiet frame after hangover should end speech")
	}
	if len(levels) != 3 {
		t.Fatalf("sink should get the level for every frame, got %v", levels)
	}
}

func TestDetectorStartsSilent(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig(), nil, clock.NewMock())
	if d.Process(makePCM(0, 160)) {
		t.Fatal("silence must not be speech")
	}
	if d.Level() {
		t.Fatal("level should be false")
	}
}

func TestDetectorRunAndStop(t *testing.T) {
	source := &frameSource{frames: [][]byte{makePCM(12000, 160), makePCM(12000, 160)}}
	d := NewDetector(DefaultDetectorConfig(), source, clock.NewMock())

	var mu sync.Mutex
	var levels []bool
	d.OnLevel(func(detected bool) {
		mu.Lock()
		defer mu.Unlock()
		levels = append(levels, detected)
	})

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("second Run should fail")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(levels)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if d.State() != DetectorIdle {
		t.Fatalf("expected Idle after Stop, got %s", d.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(levels) != 3 || !levels[0] || !levels[1] || levels[2] {
		t.Fatalf("expected [true true false], got %v", levels)
	}
}

func TestDetectorRunWithoutSource(t *testing.T) {
	d := NewDetector(DefaultDetectorConfig(), nil, nil)
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error without source")
	}
}

func TestDetectorStateString(t *testing.T) {
	testCases := []struct {
		state DetectorState
		want  string
	}{
		{DetectorIdle, "Idle"},
		{DetectorListening, "Listening"},
		{DetectorStopping, "Stopping"},
		{DetectorState(9), "Unknown"},
	}
	for _, tc := range testCases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("String() = %q, want %q", got, tc.want)
		}
	}
}
