package audio

import (
	"fmt"
	"strings"
)

// Channel 混音台上的逻辑通道
type Channel int

const (
	ChannelNarration Channel = iota
	ChannelMusic
)

// Channels lists every logical channel in dispatch order.
var Channels = []Channel{ChannelNarration, ChannelMusic}

func (c Channel) String() string {
	switch c {
	case ChannelNarration:
		return "narration"
	case ChannelMusic:
		return "music"
	default:
		return "unknown"
	}
}

func ParseChannel(name string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "narration", "voice", "video":
		return ChannelNarration, nil
	case "music", "bgm":
		return ChannelMusic, nil
	default:
		return 0, fmt.Errorf("unknown channel %q", name)
	}
}

func clampUnit(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampGain(g int) int {
	if g < 0 {
		return 0
	}
	if g > 100 {
		return 100
	}
	return g
}
