package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/liuscraft/orion-duck/internal/logging"
)

// Source 16-bit little-endian PCM 输入源
type Source interface {
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// DetectorState 检测器运行状态
type DetectorState int

const (
	DetectorIdle DetectorState = iota
	DetectorListening
	DetectorStopping
)

func (s DetectorState) String() string {
	switch s {
	case DetectorIdle:
		return "Idle"
	case DetectorListening:
		return "Listening"
	case DetectorStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// DetectorConfig 语音检测参数
type DetectorConfig struct {
	// Threshold 归一化 RMS 阈值
	Threshold float64
	// Hangover 最后一个有声帧之后继续保持 true 的时长，避免句间停顿导致闪避抖动
	Hangover time.Duration
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Threshold: 0.02,
		Hangover:  400 * time.Millisecond,
	}
}

// Detector turns PCM frames into a speech level. The sink receives the level for
// every frame, not just on edges, matching Mixer.ReportSpeechActivity.
type Detector struct {
	cfg    DetectorConfig
	clock  clock.Clock
	source Source

	mu        sync.Mutex
	state     DetectorState
	sink      func(bool)
	lastVoice time.Time
	hasVoice  bool
	level     bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewDetector(cfg DetectorConfig, source Source, clk clock.Clock) *Detector {
	def := DefaultDetectorConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Hangover < 0 {
		cfg.Hangover = def.Hangover
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Detector{
		cfg:    cfg,
		clock:  clk,
		source: source,
	}
}

func (d *Detector) OnLevel(sink func(detected bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = sink
}

// Process 处理一帧音频并返回当前电平
func (d *Detector) Process(frame []byte) bool {
	voiced := RMS(frame) >= d.cfg.Threshold
	now := d.clock.Now()

	d.mu.Lock()
	if voiced {
		d.lastVoice = now
		d.hasVoice = true
	}
	level := d.hasVoice && now.Sub(d.lastVoice) <= d.cfg.Hangover
	changed := level != d.level
	d.level = level
	sink := d.sink
	d.mu.Unlock()

	if changed {
		logging.Debugf("SpeechDetector: level -> %v", level)
	}
	if sink != nil {
		sink(level)
	}
	return level
}

func (d *Detector) Level() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

func (d *Detector) State() DetectorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run 启动读取循环，直到 ctx 取消或输入源结束
func (d *Detector) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.state != DetectorIdle {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("speech detector already started, current state: %s", state)
	}
	if d.source == nil {
		d.mu.Unlock()
		return errors.New("speech detector has no source")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.state = DetectorListening
	d.mu.Unlock()

	d.wg.Add(1)
	go d.readLoop(loopCtx)
	logging.Infof("SpeechDetector: started (threshold=%.3f, hangover=%s)", d.cfg.Threshold, d.cfg.Hangover)
	return nil
}

func (d *Detector) readLoop(ctx context.Context) {
	defer d.wg.Done()
	defer logging.Infof("SpeechDetector: reader stopped")

	for {
		frame, err := d.source.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logging.Errorf("SpeechDetector: read error: %v", err)
			return
		}
		d.Process(frame)
	}
}

// Stop cancels the reader, closes the source and reports silence once.
func (d *Detector) Stop() error {
	d.mu.Lock()
	if d.state != DetectorListening {
		d.mu.Unlock()
		return nil
	}
	d.state = DetectorStopping
	cancel := d.cancel
	sink := d.sink
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if cerr := d.source.Close(); cerr != nil {
		err = fmt.Errorf("close source: %w", cerr)
	}
	d.wg.Wait()

	d.mu.Lock()
	d.state = DetectorIdle
	d.level = false
	d.hasVoice = false
	d.mu.Unlock()
	if sink != nil {
		sink(false)
	}
	logging.Infof("SpeechDetector: stopped")
	return err
}

// RMS 计算 16-bit little-endian PCM 的归一化均方根
func RMS(frame []byte) float64 {
	count := len(frame) / 2
	if count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < count; i++ {
		sample := int16(frame[i*2]) | int16(frame[i*2+1])<<8
		v := float64(sample) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(count))
}
