package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "growrack"

// Logger wraps zap.SugaredLogger with growrack-specific functionality.
//
// The Debug/Info/Warn/Error methods take a message followed by alternating
// key/value pairs, so *Logger satisfies the narrow Logger interfaces that
// consuming packages declare.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Encoding (JSON for production, console for development)
//   - Level filtering through an AtomicLevel that can be changed at runtime
//   - Default fields (service name, version)
//   - Output destination
func New(cfg config.LoggingConfig, version string) *Logger {
	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "text", "console":
		zcfg = zap.NewDevelopmentConfig()
		zcfg.Encoding = "console"
	default:
		zcfg = zap.NewProductionConfig()
		zcfg.Sampling = nil
	}

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zcfg.Level = level
	zcfg.DisableStacktrace = true
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.OutputPaths = []string{outputPath(cfg.Output)}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	zcfg.InitialFields = map[string]any{
		"service": serviceName,
		"version": version,
	}

	base, err := zcfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Only reachable with an unopenable file output.
		base = zap.NewNop()
	}

	return &Logger{SugaredLogger: base.Sugar(), level: level}
}

// NewFromCore builds a Logger over an existing zap core. Tests use it with
// zaptest/observer to assert on emitted entries.
func NewFromCore(core zapcore.Core) *Logger {
	return &Logger{
		SugaredLogger: zap.New(core, zap.AddCallerSkip(1)).Sugar(),
		level:         zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func outputPath(output string) string {
	switch strings.ToLower(output) {
	case "stderr":
		return "stderr"
	case "", "stdout":
		return "stdout"
	default:
		return output
	}
}

// parseLevel converts a string log level to a zap level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Debug logs a message with key/value context at debug level.
func (l *Logger) Debug(msg string, kv ...any) { l.SugaredLogger.Debugw(msg, kv...) }

// Info logs a message with key/value context at info level.
func (l *Logger) Info(msg string, kv ...any) { l.SugaredLogger.Infow(msg, kv...) }

// Warn logs a message with key/value context at warn level.
func (l *Logger) Warn(msg string, kv ...any) { l.SugaredLogger.Warnw(msg, kv...) }

// Error logs a message with key/value context at error level.
func (l *Logger) Error(msg string, kv ...any) { l.SugaredLogger.Errorw(msg, kv...) }

// With returns a new Logger with additional default fields.
//
// Example:
//
//	mqttLogger := logger.With("component", "mqtt")
//	mqttLogger.Info("connected") // Includes component=mqtt
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(kv...),
		level:         l.level,
	}
}

// SetLevel changes the minimum enabled level at runtime.
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(parseLevel(level))
}

// Level returns the current minimum enabled level.
func (l *Logger) Level() string {
	return l.level.Level().String()
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stdout in JSON format at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}, "dev")
}
