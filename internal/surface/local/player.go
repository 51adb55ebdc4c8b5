package local

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
	"github.com/gordonklaus/portaudio"
	"github.com/liuscraft/orion-duck/internal/logging"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNoSource          = errors.New("no audio source loaded")
)

// Config 本地播放参数
type Config struct {
	SampleRate      int
	FramesPerBuffer int
	Loop            bool
	// ResampleQuality beep.Resample 的质量等级 1-64
	ResampleQuality int
}

func DefaultConfig() Config {
	return Config{
		SampleRate:      44100,
		FramesPerBuffer: 1024,
		Loop:            true,
		ResampleQuality: 4,
	}
}

type outputStream interface {
	Start() error
	Stop() error
	Close() error
}

// Player plays one decoded source through a portaudio callback stream. It
// implements audio.LocalSurface: SetGain takes effect on the next callback.
type Player struct {
	cfg  Config
	gain atomic.Uint64

	mu      sync.Mutex
	source  beep.Streamer
	closer  func() error
	name    string
	buf     [][2]float64
	ended   bool
	onEnded func()
	out     outputStream
}

func NewPlayer(cfg Config) *Player {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = def.FramesPerBuffer
	}
	if cfg.ResampleQuality <= 0 {
		cfg.ResampleQuality = def.ResampleQuality
	}
	p := &Player{
		cfg: cfg,
		buf: make([][2]float64, cfg.FramesPerBuffer),
	}
	p.SetGain(1)
	return p
}

// Load decodes a .wav or .mp3 file and makes it the current source.
func (p *Player) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	default:
		_ = f.Close()
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("decode %s: %w", path, err)
	}

	var source beep.Streamer = streamer
	if p.cfg.Loop {
		source = beep.Loop(-1, streamer)
	}
	p.setSource(filepath.Base(path), source, format, streamer.Close)
	logging.Infof("LocalPlayer: loaded %s (%d Hz, %d ch, %.1fs)",
		filepath.Base(path), format.SampleRate, format.NumChannels,
		format.SampleRate.D(streamer.Len()).Seconds())
	return nil
}

// LoadStreamer uses an already open streamer, e.g. a generated tone.
func (p *Player) LoadStreamer(name string, s beep.Streamer, format beep.Format) {
	p.setSource(name, s, format, nil)
	logging.Infof("LocalPlayer: using %s (%d Hz)", name, format.SampleRate)
}

func (p *Player) setSource(name string, s beep.Streamer, format beep.Format, closer func() error) {
	target := beep.SampleRate(p.cfg.SampleRate)
	if format.SampleRate != 0 && format.SampleRate != target {
		s = beep.Resample(p.cfg.ResampleQuality, format.SampleRate, target, s)
	}

	p.mu.Lock()
	prev := p.closer
	p.source = s
	p.closer = closer
	p.name = name
	p.ended = false
	p.mu.Unlock()

	if prev != nil {
		_ = prev()
	}
}

// SetGain 原子写入，音频回调线程读取
func (p *Player) SetGain(value float64) {
	if value != value || value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	p.gain.Store(math.Float64bits(value))
}

func (p *Player) Gain() float64 {
	return math.Float64frombits(p.gain.Load())
}

func (p *Player) OnEnded(handler func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = handler
}

func (p *Player) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// Fill renders the next len(out)/2 stereo frames into out (interleaved). It is
// the portaudio callback body; silence is written once the source runs dry.
func (p *Player) Fill(out []float32) {
	frames := len(out) / 2
	gain := p.Gain()

	p.mu.Lock()
	if len(p.buf) < frames {
		p.buf = make([][2]float64, frames)
	}
	buf := p.buf[:frames]
	n := 0
	var endedNow func()
	if p.source != nil && !p.ended {
		var ok bool
		n, ok = p.source.Stream(buf)
		if !ok {
			p.ended = true
			if err := p.source.Err(); err != nil {
				logging.Warnf("LocalPlayer: source error: %v", err)
			}
			endedNow = p.onEnded
		}
	}
	p.mu.Unlock()

	for i := 0; i < frames; i++ {
		var l, r float64
		if i < n {
			l = clip(buf[i][0] * gain)
			r = clip(buf[i][1] * gain)
		}
		out[2*i] = float32(l)
		out[2*i+1] = float32(r)
	}

	if endedNow != nil {
		go endedNow()
	}
}

func clip(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// Start 打开默认输出设备并开始播放；调用方负责 portaudio.Initialize
func (p *Player) Start() error {
	p.mu.Lock()
	ready, running := p.source != nil, p.out != nil
	p.mu.Unlock()
	if !ready {
		return ErrNoSource
	}
	if running {
		return nil
	}

	// 回调里会拿 p.mu，打开设备时不能持锁
	stream, err := portaudio.OpenDefaultStream(0, 2, float64(p.cfg.SampleRate), p.cfg.FramesPerBuffer, p.Fill)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("start output stream: %w", err)
	}
	p.mu.Lock()
	p.out = stream
	p.mu.Unlock()
	logging.Infof("LocalPlayer: output started (%d Hz, %d frames/buffer)", p.cfg.SampleRate, p.cfg.FramesPerBuffer)
	return nil
}

// Close stops the output stream and releases the decoded source.
func (p *Player) Close() error {
	p.mu.Lock()
	out := p.out
	closer := p.closer
	p.out = nil
	p.closer = nil
	p.source = nil
	p.mu.Unlock()

	var errs []error
	if out != nil {
		if err := out.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop output: %w", err))
		}
		if err := out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	if closer != nil {
		if err := closer(); err != nil {
			errs = append(errs, fmt.Errorf("close source: %w", err))
		}
	}
	logging.Infof("LocalPlayer: closed")
	return errors.Join(errs...)
}
