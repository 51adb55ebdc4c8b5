package audio

import (
	"sync"
	"testing"
	"time"
)

// fakeRemoteSurface 模拟嵌入式播放器，可以让前 N 次下发失败
type fakeRemoteSurface struct {
	mu       sync.Mutex
	rejectN  int
	calls    int
	values   []float64
	reported float64
	hasRep   bool
}

func newFakeRemoteSurface() *fakeRemoteSurface {
	return &fakeRemoteSurface{}
}

func (s *fakeRemoteSurface) SetVolume(value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.rejectN > 0 {
		s.rejectN--
		return ErrSurfaceNotReady
	}
	s.values = append(s.values, value)
	return nil
}

func (s *fakeRemoteSurface) ReportedVolume() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reported, s.hasRep
}

func (s *fakeRemoteSurface) rejectNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectN = n
}

func (s *fakeRemoteSurface) getCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeRemoteSurface) getValues() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}

func (s *fakeRemoteSurface) lastValue() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0, false
	}
	return s.values[len(s.values)-1], true
}

// fakeLocalSurface 记录每次增益设置
type fakeLocalSurface struct {
	mu    sync.Mutex
	gains []float64
}

func (s *fakeLocalSurface) SetGain(value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gains = append(s.gains, value)
}

func (s *fakeLocalSurface) getGains() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.gains))
	copy(out, s.gains)
	return out
}

// waitFor 轮询直到条件成立；clock.Mock 的 AfterFunc 回调在独立 goroutine 中执行
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-6
}
