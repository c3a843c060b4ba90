package logging_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dirscan/scanner/internal/logging"
)

func printfFactory(sink *[]string, prefix string) logging.Factory {
	return func(ctx context.Context) logging.Logger {
		return testPrintfLogger{sink: sink, prefix: prefix}
	}
}

type testPrintfLogger struct {
	sink   *[]string
	prefix string
}

func (l testPrintfLogger) append(s string) { *l.sink = append(*l.sink, l.prefix+s) }

func (l testPrintfLogger) Debug(args ...interface{})                       { l.append(fmt.Sprint(args...)) }
func (l testPrintfLogger) Debugw(msg string, kv ...interface{})            { l.append(msg) }
func (l testPrintfLogger) Info(args ...interface{})                        { l.append(fmt.Sprint(args...)) }
func (l testPrintfLogger) Infof(f string, args ...interface{})             { l.append(fmt.Sprintf(f, args...)) }
func (l testPrintfLogger) Warn(args ...interface{})                        { l.append(fmt.Sprint(args...)) }
func (l testPrintfLogger) Warnf(f string, args ...interface{})             { l.append(fmt.Sprintf(f, args...)) }
func (l testPrintfLogger) Error(args ...interface{})                       { l.append(fmt.Sprint(args...)) }
func (l testPrintfLogger) Errorf(f string, args ...interface{})            { l.append(fmt.Sprintf(f, args...)) }

func TestBroadcast(t *testing.T) {
	var lines []string

	l0 := printfFactory(&lines, "[first] ")
	l1 := printfFactory(&lines, "[second] ")

	l := logging.Broadcast(l0, l1)(context.Background())
	l.Debug("A")
	l.Info("B")
	l.Error("C")
	l.Warn("W")

	require.Equal(t, []string{
		"[first] A",
		"[second] A",
		"[first] B",
		"[second] B",
		"[first] C",
		"[second] C",
		"[first] W",
		"[second] W",
	}, lines)
}

func TestToWriter(t *testing.T) {
	var buf bytes.Buffer

	l := logging.ToWriter(&buf)("module1")(context.Background())
	l.Debug("A")
	l.Debugw("S", "b", 123)
	l.Info("B")
	l.Error("C")
	l.Warn("W")

	require.Equal(t, "A\nS\t{\"b\":123}\nB\nC\nW\n", buf.String())
}

func TestModuleNullByDefault(t *testing.T) {
	l := logging.Module("mod1")(context.Background())

	require.NotPanics(t, func() {
		l.Debug("A")
		l.Debugw("S", "b", 123)
		l.Info("B")
		l.Error("C")
		l.Warn("W")
	})
}

func TestModuleWithInstalledLogger(t *testing.T) {
	var buf bytes.Buffer

	ctx := logging.WithLogger(context.Background(), logging.ToWriter(&buf))
	l := logging.Module("mod1")(ctx)

	l.Debug("A")
	l.Info("B")

	require.Equal(t, "A\nB\n", buf.String())
}
