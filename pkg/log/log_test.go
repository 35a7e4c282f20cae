package log

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestInitLogsLevel(t *testing.T) {
	require := require.New(t)

	t.Setenv("LOG_LEVEL", "")
	require.Equal(logrus.InfoLevel, InitLogs().GetLevel())
	require.Equal(logrus.DebugLevel, InitLogs("debug").GetLevel())

	t.Setenv("LOG_LEVEL", "warn")
	require.Equal(logrus.WarnLevel, InitLogs().GetLevel())
	require.Equal(logrus.TraceLevel, InitLogs("trace").GetLevel())

	t.Setenv("LOG_LEVEL", "bogus")
	require.Equal(logrus.InfoLevel, InitLogs().GetLevel())
}

func TestWithComponentAndDevice(t *testing.T) {
	var out bytes.Buffer
	l := logrus.New()
	l.SetOutput(&out)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	WithDevice(WithComponent(l, "poller"), "abc").Info("hello")

	require.Contains(t, out.String(), "component=poller")
	require.Contains(t, out.String(), "device_id=abc")
}

func TestRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ticos-e2e.log")
	f := RotatingFile(path)

	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.Info("first")
	l.Info("second")
	require.NoError(t, f.Close())

	out, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(out), "msg=first")
	require.Contains(t, string(out), "msg=second")
}
