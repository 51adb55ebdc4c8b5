package remote

import "strings"

// 页面 -> 服务端
const (
	typeReady   = "ready"
	typeState   = "state"
	typeVolume  = "volume"
	typeSpeech  = "speech"
	typeControl = "control"
)

// 服务端 -> 页面
const (
	typeSetVolume     = "setVolume"
	typeDuck          = "duck"
	typeControlResult = "controlResult"
	typeError         = "error"
)

// PlayerState 嵌入式播放器的播放状态
type PlayerState int

const (
	PlayerUnknown PlayerState = iota
	PlayerPlaying
	PlayerPaused
	PlayerBuffering
	PlayerEnded
)

func (s PlayerState) String() string {
	switch s {
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerBuffering:
		return "buffering"
	case PlayerEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func ParsePlayerState(s string) PlayerState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playing":
		return PlayerPlaying
	case "paused":
		return PlayerPaused
	case "buffering":
		return PlayerBuffering
	case "ended":
		return PlayerEnded
	default:
		return PlayerUnknown
	}
}

type inboundMessage struct {
	Type     string         `json:"type"`
	State    string         `json:"state,omitempty"`
	Value    *float64       `json:"value,omitempty"`
	Detected *bool          `json:"detected,omitempty"`
	Command  string         `json:"command,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
}

type setVolumeMessage struct {
	Type  string `json:"type"`
	Value int    `json:"value"`
}

type duckMessage struct {
	Type   string  `json:"type"`
	State  string  `json:"state"`
	Factor float64 `json:"factor"`
}

type controlResultMessage struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
