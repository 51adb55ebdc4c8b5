package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"
)

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "devices",
		Short:       "List PortAudio devices usable for playback and speech capture",
		Annotations: map[string]string{"skipConfig": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := portaudio.Initialize(); err != nil {
				return fmt.Errorf("initialize portaudio: %w", err)
			}
			defer portaudio.Terminate()

			devices, err := portaudio.Devices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			defaultIn, _ := portaudio.DefaultInputDevice()
			defaultOut, _ := portaudio.DefaultOutputDevice()
			printDevices(cmd.OutOrStdout(), devices, defaultIn, defaultOut)
			return nil
		},
	}
}

func printDevices(w io.Writer, devices []*portaudio.DeviceInfo, defaultIn, defaultOut *portaudio.DeviceInfo) {
	spec := tableSpec{
		Title:   "PortAudio devices",
		Headers: []string{"#", "name", "host api", "in", "out", "rate", "in latency", "out latency", "notes"},
		Aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	}

	rows := make([][]string, 0, len(devices))
	for i, dev := range devices {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i),
			dev.Name,
			hostAPIName(dev),
			fmt.Sprintf("%d", dev.MaxInputChannels),
			fmt.Sprintf("%d", dev.MaxOutputChannels),
			fmt.Sprintf("%.0f", dev.DefaultSampleRate),
			fmt.Sprintf("%.1f/%.1fms", dev.DefaultLowInputLatency.Seconds()*1000, dev.DefaultHighInputLatency.Seconds()*1000),
			fmt.Sprintf("%.1f/%.1fms", dev.DefaultLowOutputLatency.Seconds()*1000, dev.DefaultHighOutputLatency.Seconds()*1000),
			deviceNotes(dev, defaultIn, defaultOut),
		})
	}
	fmt.Fprintln(w, spec.render(rows))

	if defaultIn != nil && defaultIn.MaxInputChannels > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Speech capture: set speech.device to a part of the name, e.g. %q\n", defaultIn.Name)
		if defaultIn.DefaultHighInputLatency.Seconds()*1000 > 50 {
			fmt.Fprintln(w, "Default input has high latency, consider speech.high_latency: true")
		}
	}
}

func hostAPIName(dev *portaudio.DeviceInfo) string {
	if dev.HostApi == nil {
		return ""
	}
	return dev.HostApi.Name
}

func deviceNotes(dev, defaultIn, defaultOut *portaudio.DeviceInfo) string {
	var notes []string
	if defaultIn != nil && dev.Name == defaultIn.Name && dev.MaxInputChannels > 0 {
		notes = append(notes, "default input")
	}
	if defaultOut != nil && dev.Name == defaultOut.Name && dev.MaxOutputChannels > 0 {
		notes = append(notes, "default output")
	}
	if isLikelyBluetooth(dev.Name) {
		notes = append(notes, "bluetooth?")
	}
	return strings.Join(notes, ", ")
}

// 蓝牙设备全双工时经常出问题
func isLikelyBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range []string{"bluetooth", "airpods", "buds", "wireless", "headset"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
