package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/liuscraft/orion-duck/internal/audio"
	"github.com/liuscraft/orion-duck/internal/control"
	"github.com/liuscraft/orion-duck/internal/logging"
	"github.com/liuscraft/orion-duck/internal/surface/remote"
)

// LocalPlayer is a local playback engine that can back the music channel.
type LocalPlayer interface {
	audio.LocalSurface
	Start() error
	Close() error
}

// SpeechDetector feeds the speech level into the mixer.
type SpeechDetector interface {
	OnLevel(sink func(detected bool))
	Run(ctx context.Context) error
	Stop() error
}

// Options 会话依赖，除 Mixer 外都可以为空
type Options struct {
	Mixer    audio.Mixer
	Hub      *remote.Hub
	Player   LocalPlayer
	Detector SpeechDetector
	Control  *control.Registry
	Clock    clock.Clock
	// StatusEvery 周期性打印混音器快照，0 表示关闭
	StatusEvery time.Duration
}

// Session 混音会话编排器，负责把页面、本地播放器、语音检测接到混音器上
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	GetState() State
	Events() EventBus
	Control() *control.Registry
	Snapshot() audio.MixerStatus
}

type sessionImpl struct {
	opts         Options
	stateMachine *StateMachine
	eventBus     EventBus
	control      *control.Registry
	clock        clock.Clock

	id     string
	unsubs []func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func New(opts Options) (Session, error) {
	if opts.Mixer == nil {
		return nil, errors.New("session requires a mixer")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	registry := opts.Control
	if registry == nil {
		registry = control.NewMixerRegistry(opts.Mixer)
	}
	return &sessionImpl{
		opts:         opts,
		stateMachine: NewStateMachine(),
		eventBus:     NewEventBus(),
		control:      registry,
		clock:        opts.Clock,
	}, nil
}

// Start 接线并启动所有组件；任一步失败都会撤销已经完成的接线
func (s *sessionImpl) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stateMachine.CanTransition(StateRunning) {
		return fmt.Errorf("session already started, current state: %s", s.stateMachine.GetCurrentState())
	}

	s.id = logging.NewSessionID()
	logging.SetSessionID(s.id)
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	mixer := s.opts.Mixer
	hub := s.opts.Hub
	// 回调在混音器锁内执行；BroadcastDuck 只入队不阻塞，页面按状态变化顺序收到 duck
	mixer.OnDuckStateChanged(func(from, to audio.DuckState, factor float64) {
		if hub != nil {
			hub.BroadcastDuck(to.String(), factor)
		}
		s.eventBus.Publish(NewDuckStateChangedEvent(from, to, factor))
	})
	s.unsubs = append(s.unsubs,
		s.eventBus.Subscribe(EventTypeSurfaceAttached, s.logEvent),
		s.eventBus.Subscribe(EventTypeSurfaceDetached, s.logEvent),
		s.eventBus.Subscribe(EventTypePlayerState, s.logEvent),
	)

	if hub != nil {
		hub.OnAttach(s.onPageReady)
		hub.OnDetach(s.onPageGone)
		hub.OnPlayerState(s.onPlayerState)
		hub.OnSpeech(mixer.ReportSpeechActivity)
		hub.OnControl(s.control.Execute)
	}

	if player := s.opts.Player; player != nil {
		mixer.AttachLocal(audio.ChannelMusic, player)
		if err := player.Start(); err != nil {
			s.rollbackLocked()
			return fmt.Errorf("start local player: %w", err)
		}
		s.eventBus.Publish(NewSurfaceAttachedEvent(audio.ChannelMusic, "local", ""))
	}

	if det := s.opts.Detector; det != nil {
		det.OnLevel(mixer.ReportSpeechActivity)
		if err := det.Run(runCtx); err != nil {
			s.rollbackLocked()
			return fmt.Errorf("start speech detector: %w", err)
		}
	}

	mixer.Start(runCtx)

	if s.opts.StatusEvery > 0 {
		s.wg.Add(1)
		go s.statusLoop(runCtx, s.opts.StatusEvery)
	}

	s.stateMachine.Transition(StateRunning)
	logging.Infof("Session: started (id=%s)", s.id)
	return nil
}

// rollbackLocked 撤销 Start 中途失败前的接线，会话保持 Idle 且可以再次 Start
func (s *sessionImpl) rollbackLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.unwire()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil

	if player := s.opts.Player; player != nil {
		s.opts.Mixer.ClearChannel(audio.ChannelMusic)
		if err := player.Close(); err != nil {
			logging.Warnf("Session: close local player: %v", err)
		}
	}
	logging.Warnf("Session: start aborted, wiring rolled back")
}

// unwire 断开混音器和页面桥接上的会话回调
func (s *sessionImpl) unwire() {
	s.opts.Mixer.OnDuckStateChanged(nil)
	if hub := s.opts.Hub; hub != nil {
		hub.OnAttach(nil)
		hub.OnDetach(nil)
		hub.OnPlayerState(nil)
		hub.OnSpeech(nil)
		hub.OnControl(nil)
	}
	if det := s.opts.Detector; det != nil {
		det.OnLevel(nil)
	}
}

// Stop 停止顺序：输入 -> 调度 -> 表面
func (s *sessionImpl) Stop() error {
	s.mu.Lock()
	if !s.stateMachine.Transition(StateStopping) {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	logging.Infof("Session: stopping...")
	var errs []error
	if det := s.opts.Detector; det != nil {
		if err := det.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop speech detector: %w", err))
		}
	}
	if cancel != nil {
		cancel()
	}
	s.opts.Mixer.Stop()
	if hub := s.opts.Hub; hub != nil {
		hub.Close()
	}
	if player := s.opts.Player; player != nil {
		if err := player.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close local player: %w", err))
		}
	}
	s.wg.Wait()
	s.unwire()
	for _, unsub := range unsubs {
		unsub()
	}

	s.mu.Lock()
	s.stateMachine.Transition(StateIdle)
	s.mu.Unlock()
	logging.Infof("Session: stopped")
	return errors.Join(errs...)
}

func (s *sessionImpl) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateMachine.GetCurrentState()
}

func (s *sessionImpl) Events() EventBus {
	return s.eventBus
}

func (s *sessionImpl) Control() *control.Registry {
	return s.control
}

func (s *sessionImpl) Snapshot() audio.MixerStatus {
	return s.opts.Mixer.Snapshot()
}

func (s *sessionImpl) onPageReady(ch audio.Channel, b *remote.Bridge) {
	s.opts.Mixer.AttachRemote(ch, b)
	s.eventBus.Publish(NewSurfaceAttachedEvent(ch, "remote", b.ID()))
}

func (s *sessionImpl) onPageGone(ch audio.Channel, b *remote.Bridge) {
	current := s.opts.Mixer.DetachRemote(ch, b)
	s.eventBus.Publish(NewSurfaceDetachedEvent(ch, b.ID(), current))
}

// 播放器刚开始播放时经常吞掉音量命令，所以进入 playing 时强制重同步
func (s *sessionImpl) onPlayerState(b *remote.Bridge, state remote.PlayerState) {
	if state == remote.PlayerPlaying && b.Ready() {
		s.opts.Mixer.ForceResync(b.Channel())
	}
	s.eventBus.Publish(NewPlayerStateEvent(b.Channel(), b.ID(), state))
}

func (s *sessionImpl) logEvent(event Event) {
	switch e := event.(type) {
	case *SurfaceAttachedEvent:
		logging.Infof("Session: %s attached %s surface %s", e.Channel, e.Surface, e.ID)
	case *SurfaceDetachedEvent:
		logging.Infof("Session: %s surface %s detached (current=%v)", e.Channel, e.ID, e.Current)
	case *PlayerStateEvent:
		logging.Infof("Session: %s player %s is %s", e.Channel, e.ID, e.State)
	}
}

func (s *sessionImpl) statusLoop(ctx context.Context, every time.Duration) {
	defer s.wg.Done()
	ticker := s.clock.Ticker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.opts.Mixer.Snapshot()
			logging.Infof("Session: duck=%s factor=%.2f speech=%v narration=%.2f music=%.2f",
				st.Duck.State, st.Duck.Factor, st.Duck.Speech, outputOf(st, "narration"), outputOf(st, "music"))
		}
	}
}

func outputOf(st audio.MixerStatus, name string) float64 {
	for _, ch := range st.Channels {
		if ch.Channel == name {
			return ch.Output
		}
	}
	return 0
}
