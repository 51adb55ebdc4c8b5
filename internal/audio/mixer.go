package audio

import (
	"context"
	"time"
)

// Mixer 双通道混音器，负责音量同步、增益曲线和自动闪避
//
// Only the Music channel is ever ducked. None of the entry points return errors:
// out-of-range values are clamped and undelivered commands are retried on the
// next tick.
type Mixer interface {
	SetChannelGain(ch Channel, gain int)
	SetChannelMuted(ch Channel, muted bool)
	SetAutoDuckEnabled(enabled bool)
	// ReportSpeechActivity 更新语音电平（电平信号，不是边沿事件）
	ReportSpeechActivity(detected bool)

	AttachRemote(ch Channel, surface RemoteSurface)
	AttachLocal(ch Channel, surface LocalSurface)
	// DetachRemote detaches only if surface is still the one attached to ch.
	DetachRemote(ch Channel, surface RemoteSurface) bool
	// ClearChannel 用户清空通道：解绑表面并清掉已下发状态
	ClearChannel(ch Channel)
	ForceResync(ch Channel)

	OnDuckStateChanged(handler DuckStateChangeHandler)
	Snapshot() MixerStatus

	// Tick runs one scheduler step synchronously.
	Tick()
	Start(ctx context.Context)
	Stop()
}

// MixerConfig Mixer配置
type MixerConfig struct {
	TickInterval  time.Duration
	NarrationGain int
	MusicGain     int
	Curve         GainCurveConfig
	Duck          DuckConfig
	Remote        RemoteChannelConfig
	// VerifyEvery 每隔多少个 tick 对比一次播放器回报的音量，0 表示关闭
	VerifyEvery int
}

// DefaultMixerConfig 默认配置
// - 旁白 100%，音乐 60%
// - 检测到语音时音乐衰减到 60%（闪避 40%），起音 150ms，释放 800ms
func DefaultMixerConfig() *MixerConfig {
	return &MixerConfig{
		TickInterval:  100 * time.Millisecond,
		NarrationGain: 100,
		MusicGain:     60,
		Curve:         DefaultGainCurveConfig(),
		Duck:          DefaultDuckConfig(),
		Remote:        DefaultRemoteChannelConfig(),
		VerifyEvery:   20,
	}
}

// DuckStatus is the ducker part of a MixerStatus.
type DuckStatus struct {
	Enabled bool    `json:"enabled"`
	State   string  `json:"state"`
	Factor  float64 `json:"factor"`
	Speech  bool    `json:"speech"`
}

// ChannelStatus is a read-only view of one channel strip.
type ChannelStatus struct {
	Channel     string  `json:"channel"`
	Gain        int     `json:"gain"`
	Muted       bool    `json:"muted"`
	Active      bool    `json:"active"`
	Surface     string  `json:"surface"`
	Output      float64 `json:"output"`
	LastApplied float64 `json:"last_applied"`
	Applied     bool    `json:"applied"`
}

// MixerStatus 混音器快照，用于日志和控制面
type MixerStatus struct {
	Duck     DuckStatus      `json:"duck"`
	Channels []ChannelStatus `json:"channels"`
}
