package logging

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string
	Format string
}

var (
	baseLogger *zap.Logger
	sugar      *zap.SugaredLogger
	sessionID  atomic.Value
	tickID     uint64
)

func init() {
	baseLogger = zap.NewNop()
	sugar = baseLogger.Sugar()
}

func InitFromEnv() error {
	cfg := Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}
	return Init(cfg)
}

func Init(cfg Config) error {
	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = "console"
	}

	var zapCfg zap.Config
	switch format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s", cfg.Format)
	}

	atomLevel := zap.NewAtomicLevel()
	if err := atomLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %s", cfg.Level)
	}
	zapCfg.Level = atomLevel

	logger, err := zapCfg.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	baseLogger = logger
	sugar = logger.Sugar()
	return nil
}

func Sync() {
	if baseLogger != nil {
		_ = baseLogger.Sync()
	}
}

// SetSessionID 设置当前混音会话 ID，之后的每条日志都会带上它
func SetSessionID(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	sessionID.Store(id)
}

func NewSessionID() string {
	return uuid.NewString()
}

// MarkTick records the scheduler tick that subsequent log lines belong to.
func MarkTick() uint64 {
	return atomic.AddUint64(&tickID, 1)
}

func Debugf(format string, args ...interface{}) {
	withFields().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	withFields().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	withFields().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	withFields().Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	withFields().Fatalf(format, args...)
}

// Scoped 带固定字段的日志，例如某个混音通道或某个播放器页面
type Scoped struct {
	fields []interface{}
}

// ForChannel 日志带上 channel 字段
func ForChannel(channel string) Scoped {
	return Scoped{fields: []interface{}{"channel", channel}}
}

// ForSurface 日志带上 channel 和页面连接 id
func ForSurface(channel, surfaceID string) Scoped {
	return Scoped{fields: []interface{}{"channel", channel, "surface_id", surfaceID}}
}

func (l Scoped) Debugf(format string, args ...interface{}) {
	withFields().With(l.fields...).Debugf(format, args...)
}

func (l Scoped) Infof(format string, args ...interface{}) {
	withFields().With(l.fields...).Infof(format, args...)
}

func (l Scoped) Warnf(format string, args ...interface{}) {
	withFields().With(l.fields...).Warnf(format, args...)
}

func withFields() *zap.SugaredLogger {
	sid, _ := sessionID.Load().(string)
	if sid == "" {
		sid = "session-unknown"
	}
	currentTick := atomic.LoadUint64(&tickID)
	return sugar.With(
		"session_id", sid,
		"tick", currentTick,
	)
}
