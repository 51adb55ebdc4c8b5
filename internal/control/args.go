package control

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/liuscraft/orion-duck/internal/audio"
)

// 页面发来的 JSON 数字解码后是 float64，命令行传来的是字符串，两种都接受

func argChannel(args map[string]any) (audio.Channel, error) {
	raw, ok := args["channel"].(string)
	if !ok {
		return 0, fmt.Errorf("%w: channel must be a string", ErrInvalidArgs)
	}
	ch, err := audio.ParseChannel(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return ch, nil
}

func argInt(args map[string]any, key string) (int, error) {
	switch v := args[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidArgs, key)
		}
		return int(math.Round(v)), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrInvalidArgs, key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidArgs, key)
	}
}

func argBool(args map[string]any, key string) (bool, error) {
	switch v := args[key].(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("%w: %s=%q", ErrInvalidArgs, key, v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("%w: %s is required", ErrInvalidArgs, key)
	}
}
