package logger

import (
	"os"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger: JSON to stdout, ISO8601 timestamps,
// stacktraces from error level up.
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "parse log level %q", level)
	}

	logWriter := zapcore.AddSync(os.Stdout)
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		logWriter,
		lvl,
	)
	return zap.New(logCore, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)), nil
}
