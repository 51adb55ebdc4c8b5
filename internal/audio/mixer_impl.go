package audio

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/liuscraft/orion-duck/internal/logging"
)

type surfaceKind int

const (
	surfaceNone surfaceKind = iota
	surfaceRemote
	surfaceLocal
)

func (k surfaceKind) String() string {
	switch k {
	case surfaceRemote:
		return "remote"
	case surfaceLocal:
		return "local"
	default:
		return "none"
	}
}

type channelStrip struct {
	channel Channel
	gain    int
	muted   bool
	output  float64
	curve   *GainCurve
	kind    surfaceKind
	remote  *RemoteVolumeChannel
	local   *LocalGainChannel
}

func (s *channelStrip) dispatch(value float64) {
	switch s.kind {
	case surfaceRemote:
		// 目标未变时靠 Tick 兜底重发，避免同一 tick 内重复下发
		if target, ok := s.remote.Target(); ok && target == value {
			s.remote.Tick()
		} else {
			s.remote.SetTarget(value)
		}
	case surfaceLocal:
		s.local.SetGain(value)
	}
}

func (s *channelStrip) lastApplied() (float64, bool) {
	switch s.kind {
	case surfaceRemote:
		return s.remote.LastApplied()
	case surfaceLocal:
		return s.local.LastApplied()
	}
	return 0, false
}

type mixerImpl struct {
	config  *MixerConfig
	clock   clock.Clock
	mu      sync.Mutex
	strips  map[Channel]*channelStrip
	ducker  *AutoDucker
	speech  bool
	onDuck  DuckStateChangeHandler
	ticks   uint64
	lastRun time.Time

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewMixer 创建混音器；clk 为 nil 时使用系统时钟
func NewMixer(config *MixerConfig, clk clock.Clock) Mixer {
	if config == nil {
		config = DefaultMixerConfig()
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 100 * time.Millisecond
	}
	if clk == nil {
		clk = clock.New()
	}

	m := &mixerImpl{
		config: config,
		clock:  clk,
		strips: make(map[Channel]*channelStrip, len(Channels)),
		ducker: NewAutoDucker(config.Duck, clk),
	}
	gains := map[Channel]int{
		ChannelNarration: config.NarrationGain,
		ChannelMusic:     config.MusicGain,
	}
	for _, ch := range Channels {
		m.strips[ch] = &channelStrip{
			channel: ch,
			gain:    clampGain(gains[ch]),
			curve:   NewGainCurve(config.Curve),
			remote:  NewRemoteVolumeChannel(ch.String(), config.Remote, clk),
			local:   NewLocalGainChannel(ch.String()),
		}
	}
	m.ducker.OnStateChange(m.handleDuckChange)
	return m
}

func (m *mixerImpl) strip(ch Channel) *channelStrip {
	s, ok := m.strips[ch]
	if !ok {
		logging.Warnf("AudioMixer: ignoring unknown channel %d", int(ch))
	}
	return s
}

func (m *mixerImpl) SetChannelGain(ch Channel, gain int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.strip(ch)
	if s == nil {
		return
	}
	s.gain = clampGain(gain)
	logging.Debugf("AudioMixer: %s gain -> %d", ch, s.gain)
}

func (m *mixerImpl) SetChannelMuted(ch Channel, muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.strip(ch)
	if s == nil || s.muted == muted {
		return
	}
	s.muted = muted
	s.remote.SetMuted(muted)
	s.local.Mute(muted)
	logging.Infof("AudioMixer: %s muted=%v", ch, muted)
}

func (m *mixerImpl) SetAutoDuckEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ducker.SetEnabled(enabled)
	logging.Infof("AudioMixer: auto-duck enabled=%v", enabled)
}

func (m *mixerImpl) ReportSpeechActivity(detected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.speech != detected {
		logging.Debugf("AudioMixer: speech level -> %v", detected)
	}
	m.speech = detected
}

func (m *mixerImpl) AttachRemote(ch Channel, surface RemoteSurface) {
	if surface == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.strip(ch)
	if s == nil {
		return
	}
	if s.kind == surfaceLocal {
		s.local.Detach()
	}
	s.kind = surfaceRemote
	s.remote.Attach(surface)
	logging.Infof("AudioMixer: %s attached to remote surface", ch)
}

func (m *mixerImpl) AttachLocal(ch Channel, surface LocalSurface) {
	if surface == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.strip(ch)
	if s == nil {
		return
	}
	if s.kind == surfaceRemote {
		s.remote.Detach()
	}
	s.kind = surfaceLocal
	s.local.Attach(surface)
	logging.Infof("AudioMixer: %s attached to local surface", ch)
}

func (m *mixerImpl) ClearChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.strip(ch)
	if s == nil {
		return
	}
	s.remote.Reset()
	s.local.Reset()
	s.curve.Reset()
	s.kind = surfaceNone
	s.output = 0
	// 驱动状态已清空，重新下发用户的静音设置
	if s.muted {
		s.remote.SetMuted(true)
		s.local.Mute(true)
	}
	logging.Infof("AudioMixer: %s cleared", ch)
}

func (m *mixerImpl) ForceResync(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.strip(ch)
	if s == nil || s.kind != surfaceRemote {
		return
	}
	logging.Debugf("AudioMixer: %s force resync", ch)
	s.remote.ForceResync()
}

// DetachRemote 仅当 surface 仍是当前绑定的表面时才解绑，
// 防止旧页面迟到的断开把新页面也拆掉
func (m *mixerImpl) DetachRemote(ch Channel, surface RemoteSurface) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.strip(ch)
	if s == nil || s.kind != surfaceRemote || s.remote.Surface() != surface {
		return false
	}
	s.remote.Detach()
	s.kind = surfaceNone
	logging.Infof("AudioMixer: %s remote surface went away", ch)
	return true
}

func (m *mixerImpl) OnDuckStateChanged(handler DuckStateChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDuck = handler
}

func (m *mixerImpl) handleDuckChange(from, to DuckState, factor float64) {
	logging.Infof("AudioMixer: duck %s -> %s (factor=%.3f)", from, to, factor)
	if m.onDuck != nil {
		m.onDuck(from, to, factor)
	}
}

// Tick 单次调度：先推进闪避包络，再按同一个系数计算各通道输出并下发
func (m *mixerImpl) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	dt := m.config.TickInterval
	if !m.lastRun.IsZero() {
		dt = now.Sub(m.lastRun)
	}
	m.lastRun = now
	m.ticks++

	m.ducker.Advance(m.speech, dt)
	factor := m.ducker.Factor()

	for _, ch := range Channels {
		s := m.strips[ch]
		duck := 1.0
		if ch == ChannelMusic {
			duck = factor
		}
		s.output = s.curve.Compute(float64(s.gain), duck)
		s.dispatch(s.output)
	}

	if m.config.VerifyEvery > 0 && m.ticks%uint64(m.config.VerifyEvery) == 0 {
		m.verifyLocked()
	}
}

func (m *mixerImpl) verifyLocked() {
	for _, ch := range Channels {
		s := m.strips[ch]
		if s.kind != surfaceRemote {
			continue
		}
		reporter, ok := s.remote.Surface().(VolumeReporter)
		if !ok {
			continue
		}
		reported, ok := reporter.ReportedVolume()
		applied, hasApplied := s.remote.LastApplied()
		if !ok || !hasApplied {
			continue
		}
		if math.Abs(reported-applied) > 0.02 {
			logging.Warnf("AudioMixer: %s player reports %.3f, last applied %.3f", ch, reported, applied)
		}
	}
}

func (m *mixerImpl) Snapshot() MixerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := MixerStatus{
		Duck: DuckStatus{
			Enabled: m.ducker.Enabled(),
			State:   m.ducker.State().String(),
			Factor:  m.ducker.Factor(),
			Speech:  m.speech,
		},
		Channels: make([]ChannelStatus, 0, len(Channels)),
	}
	for _, ch := range Channels {
		s := m.strips[ch]
		last, applied := s.lastApplied()
		status.Channels = append(status.Channels, ChannelStatus{
			Channel:     ch.String(),
			Gain:        s.gain,
			Muted:       s.muted,
			Active:      s.kind != surfaceNone,
			Surface:     s.kind.String(),
			Output:      s.output,
			LastApplied: last,
			Applied:     applied,
		})
	}
	return status
}

func (m *mixerImpl) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true
	m.lastRun = time.Time{}
	ticker := m.clock.Ticker(m.config.TickInterval)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(loopCtx, ticker)
	logging.Infof("AudioMixer: started (tick=%s)", m.config.TickInterval)
}

func (m *mixerImpl) loop(ctx context.Context, ticker *clock.Ticker) {
	defer m.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logging.MarkTick()
			m.Tick()
		}
	}
}

// Stop 停止调度并取消所有远程通道上挂起的重同步定时器
func (m *mixerImpl) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.started = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	for _, ch := range Channels {
		s := m.strips[ch]
		s.remote.Detach()
		if s.kind == surfaceRemote {
			s.kind = surfaceNone
		}
	}
	m.mu.Unlock()
	logging.Infof("AudioMixer: stopped")
}
