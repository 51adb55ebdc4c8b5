package speech

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/liuscraft/orion-duck/internal/logging"
)

// MicrophoneConfig 麦克风采集参数
type MicrophoneConfig struct {
	SampleRate int
	Channels   int
	// FrameSize 每次 Read 返回的采样数，16kHz 下 1600 即 100ms
	FrameSize int
	// HighLatency 使用设备默认的高延迟设置（蓝牙设备更稳定）
	HighLatency bool
	// Device 设备名称（部分匹配），空表示默认输入设备
	Device string
}

func DefaultMicrophoneConfig() MicrophoneConfig {
	return MicrophoneConfig{
		SampleRate: 16000,
		Channels:   1,
		FrameSize:  1600,
	}
}

type captureStream interface {
	Start() error
	Read() error
	Abort() error
	Stop() error
	Close() error
}

// MicrophoneSource captures PCM from a portaudio input device. PortAudio must be
// initialized by the caller. The stream starts lazily on the first Read.
type MicrophoneSource struct {
	stream    captureStream
	buffer    []int16
	closeCh   chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
	startErr  error
}

func NewMicrophoneSource(cfg MicrophoneConfig) (*MicrophoneSource, error) {
	def := DefaultMicrophoneConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}

	buffer := make([]int16, cfg.FrameSize*cfg.Channels)
	stream, err := openCapture(cfg, &buffer)
	if err != nil {
		return nil, err
	}
	return newMicrophoneSource(stream, buffer), nil
}

func newMicrophoneSource(stream captureStream, buffer []int16) *MicrophoneSource {
	return &MicrophoneSource{
		stream:  stream,
		buffer:  buffer,
		closeCh: make(chan struct{}),
	}
}

func openCapture(cfg MicrophoneConfig, buffer *[]int16) (*portaudio.Stream, error) {
	var device *portaudio.DeviceInfo
	if cfg.Device != "" {
		dev, err := FindInputDevice(cfg.Device)
		if err != nil {
			logging.Warnf("MicrophoneSource: %v, using default device", err)
		}
		device = dev
	}
	if device == nil {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			logging.Warnf("MicrophoneSource: no default input device info: %v", err)
			return openDefaultCapture(cfg, buffer)
		}
		device = dev
	}

	latency := device.DefaultLowInputLatency
	if cfg.HighLatency {
		latency = device.DefaultHighInputLatency
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  latency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FrameSize,
	}
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		logging.Warnf("MicrophoneSource: open %q failed: %v, using default stream", device.Name, err)
		return openDefaultCapture(cfg, buffer)
	}
	logging.Infof("MicrophoneSource: device=%s rate=%d latency=%.1fms",
		device.Name, cfg.SampleRate, latency.Seconds()*1000)
	return stream, nil
}

func openDefaultCapture(cfg MicrophoneConfig, buffer *[]int16) (*portaudio.Stream, error) {
	stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.FrameSize, buffer)
	if err != nil {
		return nil, fmt.Errorf("open default input stream: %w", err)
	}
	return stream, nil
}

// FindInputDevice 按名称（忽略大小写，部分匹配）查找输入设备
func FindInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	needle := strings.ToLower(name)
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), needle) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", name)
}

func (m *MicrophoneSource) start() error {
	m.startOnce.Do(func() {
		if err := m.stream.Start(); err != nil {
			m.startErr = fmt.Errorf("start input stream: %w", err)
			return
		}
		logging.Infof("MicrophoneSource: stream started")
	})
	return m.startErr
}

// Read blocks for one frame. Cancelling ctx or closing the source aborts the
// underlying stream so the blocked read returns.
func (m *MicrophoneSource) Read(ctx context.Context) ([]byte, error) {
	if err := m.start(); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		done <- m.stream.Read()
	}()

	select {
	case <-ctx.Done():
		m.abort()
		return nil, ctx.Err()
	case <-m.closeCh:
		m.abort()
		return nil, io.EOF
	case err := <-done:
		if err != nil {
			select {
			case <-m.closeCh:
				return nil, io.EOF
			default:
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
	}

	out := make([]byte, len(m.buffer)*2)
	for i, v := range m.buffer {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out, nil
}

func (m *MicrophoneSource) abort() {
	if err := m.stream.Abort(); err != nil {
		logging.Debugf("MicrophoneSource: abort: %v", err)
	}
}

func (m *MicrophoneSource) Close() error {
	m.closeOnce.Do(func() {
		close(m.closeCh)
	})
	if err := m.stream.Stop(); err != nil {
		logging.Debugf("MicrophoneSource: stop: %v", err)
	}
	if err := m.stream.Close(); err != nil {
		return fmt.Errorf("close input stream: %w", err)
	}
	logging.Infof("MicrophoneSource: closed")
	return nil
}
