package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/liuscraft/orion-duck/internal/audio"
	"github.com/liuscraft/orion-duck/internal/config"
)

// demoScript 离线演示脚本：在 [SpeechAt, SpeechAt+SpeechFor) 内上报语音
type demoScript struct {
	Duration  time.Duration
	SpeechAt  time.Duration
	SpeechFor time.Duration
	// Reject 旁白页面前 N 次音量命令失败，用来观察重试
	Reject int
}

type demoRow struct {
	At        time.Duration
	Speech    bool
	State     string
	Factor    float64
	Narration float64
	Applied   bool
	Music     float64
}

var errDemoRejected = errors.New("player not ready")

type demoPage struct {
	reject int
	value  float64
}

func (p *demoPage) SetVolume(value float64) error {
	if p.reject > 0 {
		p.reject--
		return errDemoRejected
	}
	p.value = value
	return nil
}

type demoSpeaker struct {
	gain float64
}

func (s *demoSpeaker) SetGain(value float64) {
	s.gain = value
}

func newDemoCommand(ctx *commandContext) *cobra.Command {
	script := demoScript{
		Duration:  3 * time.Second,
		SpeechAt:  500 * time.Millisecond,
		SpeechFor: time.Second,
	}
	var noDuck bool

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Simulate a speech burst and print the mixer envelope",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if noDuck {
				cfg.Ducking.Enabled = false
			}
			rows := runDemo(cfg, script)
			printDemo(cmd.OutOrStdout(), rows)
			return nil
		},
	}
	cmd.Flags().DurationVar(&script.Duration, "duration", script.Duration, "Simulated duration")
	cmd.Flags().DurationVar(&script.SpeechAt, "speech-at", script.SpeechAt, "When speech starts")
	cmd.Flags().DurationVar(&script.SpeechFor, "speech-for", script.SpeechFor, "How long speech lasts")
	cmd.Flags().IntVar(&script.Reject, "reject", 0, "Number of volume commands the narration page rejects")
	cmd.Flags().BoolVar(&noDuck, "no-duck", false, "Disable auto-duck")
	return cmd
}

// runDemo 用模拟时钟驱动混音器，旁白接页面、音乐接本地扬声器
func runDemo(cfg *config.AppConfig, script demoScript) []demoRow {
	opts := cfg.MixerOptions()
	opts.VerifyEvery = 0
	mock := clock.NewMock()
	mixer := audio.NewMixer(opts, mock)

	page := &demoPage{reject: script.Reject}
	speaker := &demoSpeaker{}
	mixer.AttachRemote(audio.ChannelNarration, page)
	mixer.AttachLocal(audio.ChannelMusic, speaker)

	var rows []demoRow
	for at := time.Duration(0); at <= script.Duration; at += opts.TickInterval {
		speech := at >= script.SpeechAt && at < script.SpeechAt+script.SpeechFor
		mixer.ReportSpeechActivity(speech)
		mixer.Tick()

		st := mixer.Snapshot()
		row := demoRow{
			At:     at,
			Speech: speech,
			State:  st.Duck.State,
			Factor: st.Duck.Factor,
			Music:  speaker.gain,
		}
		for _, ch := range st.Channels {
			if ch.Channel == audio.ChannelNarration.String() {
				row.Narration = ch.LastApplied
				row.Applied = ch.Applied
			}
		}
		rows = append(rows, row)
		mock.Add(opts.TickInterval)
	}
	return rows
}

func printDemo(w io.Writer, rows []demoRow) {
	spec := tableSpec{
		Title:   "duck envelope",
		Headers: []string{"t", "speech", "duck", "factor", "narration", "music", ""},
		Aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	}
	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		narration := "-"
		if r.Applied {
			narration = strconv.FormatFloat(r.Narration, 'f', 3, 64)
		}
		speech := ""
		if r.Speech {
			speech = "yes"
		}
		data = append(data, []string{
			fmt.Sprintf("%dms", r.At.Milliseconds()),
			speech,
			r.State,
			strconv.FormatFloat(r.Factor, 'f', 3, 64),
			narration,
			strconv.FormatFloat(r.Music, 'f', 3, 64),
			levelBar(r.Music, 20),
		})
	}
	fmt.Fprintln(w, spec.render(data))
}
