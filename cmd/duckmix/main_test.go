package main

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liuscraft/orion-duck/internal/config"
)

func TestRunDemoEnvelope(t *testing.T) {
	rows := runDemo(config.DefaultConfig(), demoScript{
		Duration:  3 * time.Second,
		SpeechAt:  500 * time.Millisecond,
		SpeechFor: time.Second,
		Reject:    2,
	})
	if len(rows) != 31 {
		t.Fatalf("expected 31 rows, got %d", len(rows))
	}

	if rows[0].Applied {
		t.Fatal("first narration command should have been rejected")
	}
	ducked := false
	for _, r := range rows {
		if r.State == "Ducked" {
			ducked = true
		}
		if r.Music < 0.36-1e-6 {
			t.Fatalf("music went below the ducked level at %v: %v", r.At, r.Music)
		}
		if r.Factor < 0.6-1e-9 || r.Factor > 1+1e-9 {
			t.Fatalf("factor out of range at %v: %v", r.At, r.Factor)
		}
	}
	if !ducked {
		t.Fatal("expected the ducker to reach Ducked")
	}

	last := rows[len(rows)-1]
	if last.State != "Idle" {
		t.Fatalf("expected Idle at the end, got %s", last.State)
	}
	if math.Abs(last.Music-0.6) > 0.01 {
		t.Fatalf("music should recover to 0.6, got %v", last.Music)
	}
	if !last.Applied || math.Abs(last.Narration-0.976) > 0.01 {
		t.Fatalf("narration should converge to ~0.976, got %v (applied=%v)", last.Narration, last.Applied)
	}
}

func TestRunDemoWithoutDuck(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ducking.Enabled = false
	rows := runDemo(cfg, demoScript{Duration: time.Second, SpeechAt: 0, SpeechFor: time.Second})
	for _, r := range rows {
		if r.State != "Idle" || r.Factor != 1 {
			t.Fatalf("auto-duck disabled but got %s/%v at %v", r.State, r.Factor, r.At)
		}
	}
}

func TestDemoCommandPrintsTable(t *testing.T) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--config", filepath.Join(t.TempDir(), "missing.json"),
		"demo", "--duration", "500ms",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	got := strings.ToLower(out.String())
	for _, want := range []string{"narration", "music", "0ms", "500ms"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestShouldSkipConfig(t *testing.T) {
	root := newRootCommand()
	tests := []struct {
		name string
		want bool
	}{
		{"devices", true},
		{"demo", false},
		{"run", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, _, err := root.Find([]string{tt.name})
			if err != nil {
				t.Fatalf("Find(%s): %v", tt.name, err)
			}
			if got := shouldSkipConfig(cmd); got != tt.want {
				t.Errorf("shouldSkipConfig(%s) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestIsLikelyBluetooth(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"AirPods Pro", true},
		{"Galaxy Buds2", true},
		{"MacBook Pro Microphone", false},
		{"USB Audio Device", false},
	}
	for _, tt := range tests {
		if got := isLikelyBluetooth(tt.name); got != tt.want {
			t.Errorf("isLikelyBluetooth(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestTableSpecPadsShortRows(t *testing.T) {
	spec := tableSpec{Title: "levels", Headers: []string{"a", "b"}, Aligns: []columnAlignment{alignRight}}
	out := strings.ToLower(spec.render([][]string{{"1"}}))
	for _, want := range []string{"levels", "a", "b", "1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if (tableSpec{}).render(nil) != "" {
		t.Fatal("empty headers should render nothing")
	}
}

func TestLevelBar(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{0, "····"},
		{0.5, "██··"},
		{1, "████"},
		{1.7, "████"},
		{-0.2, "····"},
	}
	for _, tt := range tests {
		if got := levelBar(tt.value, 4); got != tt.want {
			t.Errorf("levelBar(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
	if levelBar(0.5, 0) != "" {
		t.Error("zero width should render nothing")
	}
}
