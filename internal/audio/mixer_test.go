package audio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func newTestMixer(t *testing.T) (*mixerImpl, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	config := DefaultMixerConfig()
	config.VerifyEvery = 0
	m := NewMixer(config, mock).(*mixerImpl)
	return m, mock
}

// tickN 推进模拟时钟并手动执行 n 次调度
func tickN(m Mixer, mock *clock.Mock, n int) {
	for i := 0; i < n; i++ {
		mock.Add(testTick)
		m.Tick()
	}
}

func TestNewMixerDefaults(t *testing.T) {
	m, _ := newTestMixer(t)
	status := m.Snapshot()

	if status.Duck.State != "Idle" || status.Duck.Factor != 1 || !status.Duck.Enabled {
		t.Fatalf("unexpected duck status %+v", status.Duck)
	}
	if len(status.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(status.Channels))
	}
	if status.Channels[0].Gain != 100 || status.Channels[1].Gain != 60 {
		t.Fatalf("unexpected default gains %+v", status.Channels)
	}
	for _, ch := range status.Channels {
		if ch.Active || ch.Surface != "none" {
			t.Fatalf("channel %s should start detached", ch.Channel)
		}
	}
}

func TestNewMixerNilConfig(t *testing.T) {
	m := NewMixer(nil, clock.NewMock())
	if m == nil {
		t.Fatal("NewMixer returned nil")
	}
	m.Tick()
}

func TestMixerDispatchesToRemoteAndLocal(t *testing.T) {
	m, mock := newTestMixer(t)
	narration := newFakeRemoteSurface()
	music := &fakeLocalSurface{}
	m.AttachRemote(ChannelNarration, narration)
	m.AttachLocal(ChannelMusic, music)

	tickN(m, mock, 1)

	if got, ok := narration.lastValue(); !ok || !approxEqual(got, 0.9+0.1*0.7615941559557649) {
		t.Fatalf("narration at 100 should be softly saturated, got %v (ok=%v)", got, ok)
	}
	gains := music.getGains()
	if len(gains) != 1 || !approxEqual(gains[0], 0.6) {
		t.Fatalf("music should be at 0.6, got %v", gains)
	}
}

func TestMixerDucksOnlyMusic(t *testing.T) {
	m, mock := newTestMixer(t)
	narration := newFakeRemoteSurface()
	music := newFakeRemoteSurface()
	m.AttachRemote(ChannelNarration, narration)
	m.AttachRemote(ChannelMusic, music)
	tickN(m, mock, 1)
	narrationBefore, _ := narration.lastValue()

	m.ReportSpeechActivity(true)
	tickN(m, mock, 10)

	status := m.Snapshot()
	if status.Duck.State != "Ducked" {
		t.Fatalf("expected Ducked, got %s", status.Duck.State)
	}
	if got, _ := narration.lastValue(); got != narrationBefore {
		t.Fatalf("narration must not be ducked: %v -> %v", narrationBefore, got)
	}
	if got, _ := music.lastValue(); !approxEqual(got, 0.36) {
		t.Fatalf("music should settle at 0.6*0.6, got %v", got)
	}

	m.ReportSpeechActivity(false)
	tickN(m, mock, 20)
	if got, _ := music.lastValue(); !approxEqual(got, 0.6) {
		t.Fatalf("music should recover to 0.6, got %v", got)
	}
	if st := m.Snapshot().Duck.State; st != "Idle" {
		t.Fatalf("expected Idle after release, got %s", st)
	}
}

func TestMixerDuckFactorMonotonicDuringAttack(t *testing.T) {
	m, mock := newTestMixer(t)
	music := newFakeRemoteSurface()
	m.AttachRemote(ChannelMusic, music)
	tickN(m, mock, 1)

	m.ReportSpeechActivity(true)
	tickN(m, mock, 10)

	values := music.getValues()
	for i := 1; i < len(values); i++ {
		if values[i] > values[i-1] {
			t.Fatalf("music rose during attack: %v", values)
		}
	}
}

func TestMixerAutoDuckDisabled(t *testing.T) {
	m, mock := newTestMixer(t)
	music := newFakeRemoteSurface()
	m.AttachRemote(ChannelMusic, music)
	m.ReportSpeechActivity(true)
	tickN(m, mock, 3)

	m.SetAutoDuckEnabled(false)
	tickN(m, mock, 10)

	status := m.Snapshot()
	if status.Duck.Enabled || status.Duck.State != "Idle" || status.Duck.Factor != 1 {
		t.Fatalf("unexpected duck status %+v", status.Duck)
	}
	if got, _ := music.lastValue(); !approxEqual(got, 0.6) {
		t.Fatalf("music should be back at 0.6, got %v", got)
	}
}

func TestMixerMuteChannel(t *testing.T) {
	m, mock := newTestMixer(t)
	music := newFakeRemoteSurface()
	m.AttachRemote(ChannelMusic, music)
	tickN(m, mock, 1)

	m.SetChannelMuted(ChannelMusic, true)
	tickN(m, mock, 3)
	if got, _ := music.lastValue(); got != 0 {
		t.Fatalf("muted music should be 0, got %v", got)
	}

	m.SetChannelMuted(ChannelMusic, false)
	tickN(m, mock, 1)
	if got, _ := music.lastValue(); !approxEqual(got, 0.6) {
		t.Fatalf("unmuted music should be 0.6, got %v", got)
	}
}

func TestMixerSetChannelGainClamps(t *testing.T) {
	testCases := []struct {
		name string
		gain int
		want int
	}{
		{"negative", -20, 0},
		{"over", 250, 100},
		{"normal", 35, 35},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, _ := newTestMixer(t)
			m.SetChannelGain(ChannelMusic, tc.gain)
			if got := m.Snapshot().Channels[1].Gain; got != tc.want {
				t.Fatalf("expected gain %d, got %d", tc.want, got)
			}
		})
	}
}

func TestMixerRetriesRejectedRemote(t *testing.T) {
	m, mock := newTestMixer(t)
	music := newFakeRemoteSurface()
	music.rejectNext(2)
	m.AttachRemote(ChannelMusic, music)

	tickN(m, mock, 3)

	if got, ok := music.lastValue(); !ok || !approxEqual(got, 0.6) {
		t.Fatalf("music should converge after rejections, got %v (ok=%v)", got, ok)
	}
	if got := music.getCalls(); got != 3 {
		t.Fatalf("expected one attempt per tick, got %d", got)
	}
}

func TestMixerClearChannelKeepsUserSettings(t *testing.T) {
	m, mock := newTestMixer(t)
	music := newFakeRemoteSurface()
	m.AttachRemote(ChannelMusic, music)
	m.SetChannelGain(ChannelMusic, 40)
	m.SetChannelMuted(ChannelMusic, true)
	tickN(m, mock, 1)

	m.ClearChannel(ChannelMusic)
	status := m.Snapshot().Channels[1]
	if status.Active || status.Applied {
		t.Fatalf("cleared channel should be detached, got %+v", status)
	}
	if status.Gain != 40 || !status.Muted {
		t.Fatalf("clear must keep gain and mute, got %+v", status)
	}

	calls := music.getCalls()
	tickN(m, mock, 2)
	if got := music.getCalls(); got != calls {
		t.Fatalf("old surface received %d calls after clear", got-calls)
	}

	next := newFakeRemoteSurface()
	m.AttachRemote(ChannelMusic, next)
	tickN(m, mock, 1)
	if got, ok := next.lastValue(); !ok || got != 0 {
		t.Fatalf("new surface should get muted 0, got %v (ok=%v)", got, ok)
	}
}

func TestMixerClearChannelSilencesLocalSurface(t *testing.T) {
	m, mock := newTestMixer(t)
	speaker := &fakeLocalSurface{}
	m.AttachLocal(ChannelMusic, speaker)
	tickN(m, mock, 1)
	if gains := speaker.getGains(); len(gains) == 0 || !approxEqual(gains[len(gains)-1], 0.6) {
		t.Fatalf("expected music at 0.6 before clear, got %v", gains)
	}

	m.ClearChannel(ChannelMusic)
	cleared := speaker.getGains()
	if cleared[len(cleared)-1] != 0 {
		t.Fatalf("clear should silence the local surface, got %v", cleared[len(cleared)-1])
	}

	m.SetChannelMuted(ChannelMusic, true)
	m.ReportSpeechActivity(true)
	tickN(m, mock, 5)
	if got := speaker.getGains(); len(got) != len(cleared) {
		t.Fatalf("detached surface still driven: %v", got[len(cleared):])
	}
}

func TestMixerDetachRemoteIgnoresStaleSurface(t *testing.T) {
	m, _ := newTestMixer(t)
	old := newFakeRemoteSurface()
	current := newFakeRemoteSurface()
	m.AttachRemote(ChannelNarration, old)
	m.AttachRemote(ChannelNarration, current)

	if m.DetachRemote(ChannelNarration, old) {
		t.Fatal("stale surface must not detach the current one")
	}
	if !m.DetachRemote(ChannelNarration, current) {
		t.Fatal("current surface should detach")
	}
	if m.Snapshot().Channels[0].Active {
		t.Fatal("channel should be inactive after detach")
	}
}

func TestMixerAttachLocalReplacesRemote(t *testing.T) {
	m, mock := newTestMixer(t)
	remote := newFakeRemoteSurface()
	local := &fakeLocalSurface{}
	m.AttachRemote(ChannelMusic, remote)
	tickN(m, mock, 1)

	m.AttachLocal(ChannelMusic, local)
	calls := remote.getCalls()
	tickN(m, mock, 1)

	if got := remote.getCalls(); got != calls {
		t.Fatal("replaced remote surface still receives commands")
	}
	if st := m.Snapshot().Channels[1].Surface; st != "local" {
		t.Fatalf("expected local surface, got %s", st)
	}
	if len(local.getGains()) == 0 {
		t.Fatal("local surface got no gain")
	}
}

func TestMixerForceResyncOnlyRemote(t *testing.T) {
	m, mock := newTestMixer(t)
	music := newFakeRemoteSurface()
	m.AttachRemote(ChannelMusic, music)
	tickN(m, mock, 1)

	m.ForceResync(ChannelMusic)
	m.ForceResync(ChannelNarration)

	mock.Add(time.Second)
	waitFor(t, func() bool { return music.getCalls() == 5 }, "resync burst")
}

func TestMixerDuckCallback(t *testing.T) {
	m, mock := newTestMixer(t)
	var mu sync.Mutex
	var states []string
	m.OnDuckStateChanged(func(from, to DuckState, factor float64) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, to.String())
	})

	m.ReportSpeechActivity(true)
	tickN(m, mock, 3)

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != "Attacking" || states[1] != "Ducked" {
		t.Fatalf("unexpected duck callbacks %v", states)
	}
}

func TestMixerStartStop(t *testing.T) {
	m, mock := newTestMixer(t)
	music := newFakeRemoteSurface()
	m.AttachRemote(ChannelMusic, music)

	m.Start(context.Background())
	m.Start(context.Background())

	waitFor(t, func() bool {
		mock.Add(testTick)
		return music.getCalls() > 0
	}, "scheduler tick")

	m.ForceResync(ChannelMusic)
	m.Stop()

	calls := music.getCalls()
	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := music.getCalls(); got != calls {
		t.Fatalf("commands dispatched after Stop: %d", got-calls)
	}
	if m.Snapshot().Channels[1].Active {
		t.Fatal("Stop should detach remote surfaces")
	}
}

func TestMixerStopWithoutStart(t *testing.T) {
	m, _ := newTestMixer(t)
	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without Start")
	}
}
