// Package monitoring provides the zap-backed logger and Prometheus metrics.
package monitoring

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veloprint/gateway/internal/config"
	"github.com/veloprint/gateway/pkg/constants"
	"github.com/veloprint/gateway/pkg/logger"
)

// secretFieldNames are field keys whose values are masked before emission.
// Token material must never land in a log line, whatever the call site does.
var secretFieldNames = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"client_secret": true,
	"csrf_secret":   true,
	"bridge_token":  true,
	"code":          true,
}

type zapLogger struct {
	*zap.Logger
}

// NewZapLogger builds the production logger from configuration. The console
// format is for local development; production runs JSON.
func NewZapLogger(cfg *config.LogConfig) (logger.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "console") {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	return &zapLogger{zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))}, nil
}

func (l *zapLogger) Debug(ctx context.Context, msg string, fields ...logger.Field) {
	l.Logger.Debug(msg, l.convertFields(ctx, fields)...)
}

func (l *zapLogger) Info(ctx context.Context, msg string, fields ...logger.Field) {
	l.Logger.Info(msg, l.convertFields(ctx, fields)...)
}

func (l *zapLogger) Warn(ctx context.Context, msg string, fields ...logger.Field) {
	l.Logger.Warn(msg, l.convertFields(ctx, fields)...)
}

func (l *zapLogger) Error(ctx context.Context, msg string, err error, fields ...logger.Field) {
	all := append(fields, logger.Error(err))
	l.Logger.Error(msg, l.convertFields(ctx, all)...)
}

func (l *zapLogger) Fatal(ctx context.Context, msg string, err error, fields ...logger.Field) {
	all := append(fields, logger.Error(err))
	l.Logger.Fatal(msg, l.convertFields(ctx, all)...)
}

func (l *zapLogger) WithFields(fields ...logger.Field) logger.Logger {
	return &zapLogger{l.Logger.With(l.convertFields(context.Background(), fields)...)}
}

func (l *zapLogger) WithComponent(component string) logger.Logger {
	return &zapLogger{l.Logger.With(zap.String("component", component))}
}

func (l *zapLogger) convertFields(ctx context.Context, fields []logger.Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields)+2)

	if requestID, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok {
		zapFields = append(zapFields, zap.String("request_id", requestID))
	}
	if sessionID, ok := ctx.Value(constants.ContextKeySessionID).(string); ok {
		zapFields = append(zapFields, zap.String("session_id", sessionID))
	}

	for _, f := range fields {
		if secretFieldNames[f.Key] {
			zapFields = append(zapFields, zap.String(f.Key, "[redacted]"))
			continue
		}
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	return zapFields
}
