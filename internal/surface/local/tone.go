package local

import (
	"fmt"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/generators"
)

// Tone 生成一个正弦测试音，没有音乐文件时用作音乐通道
func Tone(sampleRate int, freq float64, level float64) (beep.Streamer, beep.Format, error) {
	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: 2,
		Precision:   2,
	}
	sine, err := generators.SineTone(format.SampleRate, freq)
	if err != nil {
		return nil, format, fmt.Errorf("sine tone %.1f Hz: %w", freq, err)
	}
	return &effects.Gain{Streamer: sine, Gain: level - 1}, format, nil
}
