package logging

import (
	"io"
	"os"

	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

//nolint:gochecknoglobals
var (
	debugColor = color.New(color.FgHiBlack)
	infoColor  = color.New()
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgHiRed)
)

// NewConsole builds a logger-module factory that writes colorized,
// level-prefixed lines to stderr, colors disabled automatically when
// stderr is not a terminal (mirrors cli/app.go's defaultColor/warningColor
// family and its use of mattn/go-colorable on Windows).
func NewConsole(verbose bool) func(module string) Factory {
	out := consoleWriter()
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = coloredLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(out),
		level,
	)

	return NewZap(zap.New(core))
}

func consoleWriter() io.Writer {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return colorable.NewColorableStderr()
	}
	return colorable.NewNonColorable(os.Stderr)
}

func colorForLevel(lvl zapcore.Level) *color.Color {
	switch {
	case lvl < zapcore.InfoLevel:
		return debugColor
	case lvl < zapcore.WarnLevel:
		return infoColor
	case lvl < zapcore.ErrorLevel:
		return warnColor
	default:
		return errorColor
	}
}

func coloredLevelEncoder(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(colorForLevel(lvl).Sprint(lvl.CapitalString()))
}
