package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNew_ParsesLevelAndDefaultsOnInvalid(t *testing.T) {
	l := New("executor", Config{Level: "debug", Format: "text", Output: "stderr"})
	require.Equal(t, logrus.DebugLevel, l.Logger.GetLevel())

	l = New("executor", Config{Level: "not-a-level"})
	require.Equal(t, logrus.InfoLevel, l.Logger.GetLevel())
}

func TestNew_FormatterSelection(t *testing.T) {
	l := New("executor", Config{Format: "json"})
	_, isJSON := l.Logger.Formatter.(*logrus.JSONFormatter)
	require.True(t, isJSON)

	l = New("executor", Config{Format: "text"})
	_, isText := l.Logger.Formatter.(*logrus.TextFormatter)
	require.True(t, isText)

	l = New("executor", Config{Format: ""})
	_, isText = l.Logger.Formatter.(*logrus.TextFormatter)
	require.True(t, isText)
}

func TestNew_OutputWritesToSelectedStream(t *testing.T) {
	var buf bytes.Buffer
	l := New("executor", Config{Level: "info"})
	l.Logger.SetOutput(&buf)
	l.Info("hello")
	require.Contains(t, buf.String(), "hello")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "info", cfg.Level)
	require.Equal(t, "text", cfg.Format)
	require.Equal(t, "stderr", cfg.Output)
}

func TestNew_SubsystemFieldIsAttached(t *testing.T) {
	l := New("executor", Config{Level: "info"})
	var buf bytes.Buffer
	l.Logger.SetOutput(&buf)
	l.Info("starting")
	require.Contains(t, buf.String(), "subsystem=executor")
}

func TestNewDefault_CarriesSubsystemField(t *testing.T) {
	l := NewDefault("scheduler")
	var buf bytes.Buffer
	l.Logger.SetOutput(&buf)
	l.WithField("test", "value").Info("running")
	require.Contains(t, buf.String(), "subsystem=scheduler")
	require.Contains(t, buf.String(), "test=value")
}
