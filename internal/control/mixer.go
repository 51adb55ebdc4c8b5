package control

import (
	"github.com/liuscraft/orion-duck/internal/audio"
	"github.com/liuscraft/orion-duck/internal/logging"
)

// RegisterMixerCommands 注册混音台的全部控制命令
func RegisterMixerCommands(r *Registry, m audio.Mixer) {
	r.Register("setGain", SetGainCommand(m))
	r.Register("setMuted", SetMutedCommand(m))
	r.Register("setAutoDuck", SetAutoDuckCommand(m))
	r.Register("reportSpeech", ReportSpeechCommand(m))
	r.Register("clearChannel", ClearChannelCommand(m))
	r.Register("resync", ResyncCommand(m))
	r.Register("status", StatusCommand(m))
}

// NewMixerRegistry returns a registry with every mixer command registered.
func NewMixerRegistry(m audio.Mixer) *Registry {
	r := NewRegistry()
	RegisterMixerCommands(r, m)
	return r
}

// SetGainCommand args: channel, value (0-100)
func SetGainCommand(m audio.Mixer) CommandFunc {
	return func(args map[string]any) (any, error) {
		ch, err := argChannel(args)
		if err != nil {
			return nil, err
		}
		value, err := argInt(args, "value")
		if err != nil {
			return nil, err
		}
		m.SetChannelGain(ch, value)
		logging.Infof("Control: setGain %s=%d", ch, value)
		return map[string]any{"channel": ch.String(), "value": value}, nil
	}
}

func SetMutedCommand(m audio.Mixer) CommandFunc {
	return func(args map[string]any) (any, error) {
		ch, err := argChannel(args)
		if err != nil {
			return nil, err
		}
		muted, err := argBool(args, "muted")
		if err != nil {
			return nil, err
		}
		m.SetChannelMuted(ch, muted)
		return map[string]any{"channel": ch.String(), "muted": muted}, nil
	}
}

func SetAutoDuckCommand(m audio.Mixer) CommandFunc {
	return func(args map[string]any) (any, error) {
		enabled, err := argBool(args, "enabled")
		if err != nil {
			return nil, err
		}
		m.SetAutoDuckEnabled(enabled)
		return map[string]any{"enabled": enabled}, nil
	}
}

func ReportSpeechCommand(m audio.Mixer) CommandFunc {
	return func(args map[string]any) (any, error) {
		detected, err := argBool(args, "detected")
		if err != nil {
			return nil, err
		}
		m.ReportSpeechActivity(detected)
		return map[string]any{"detected": detected}, nil
	}
}

func ClearChannelCommand(m audio.Mixer) CommandFunc {
	return func(args map[string]any) (any, error) {
		ch, err := argChannel(args)
		if err != nil {
			return nil, err
		}
		m.ClearChannel(ch)
		logging.Infof("Control: cleared %s", ch)
		return map[string]any{"channel": ch.String(), "status": "cleared"}, nil
	}
}

func ResyncCommand(m audio.Mixer) CommandFunc {
	return func(args map[string]any) (any, error) {
		ch, err := argChannel(args)
		if err != nil {
			return nil, err
		}
		m.ForceResync(ch)
		return map[string]any{"channel": ch.String(), "status": "resync"}, nil
	}
}

func StatusCommand(m audio.Mixer) CommandFunc {
	return func(args map[string]any) (any, error) {
		return m.Snapshot(), nil
	}
}
