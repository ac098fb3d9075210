package logx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func bufLogger(buf *bytes.Buffer, level zerolog.Level) Logger {
	zl := zerolog.New(buf).Level(level)
	return Logger{base: zl, hasBase: true}
}

func TestLogWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	log := bufLogger(&buf, zerolog.InfoLevel)

	log.Info("task stored", String("marker", "abc"), Int("attempt", 2))

	out := buf.String()
	for _, want := range []string{`"message":"task stored"`, `"marker":"abc"`, `"attempt":2`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
}

func TestLogBelowLevelDiscarded(t *testing.T) {
	var buf bytes.Buffer
	log := bufLogger(&buf, zerolog.WarnLevel)

	log.Debug("noise")
	log.Info("also noise")
	if buf.Len() != 0 {
		t.Fatalf("wrote below level: %q", buf.String())
	}

	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn not written: %q", buf.String())
	}
}

func TestWithFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	log := bufLogger(&buf, zerolog.InfoLevel).With(String("component", "dispatch"))

	log.Info("claimed")
	if !strings.Contains(buf.String(), `"component":"dispatch"`) {
		t.Fatalf("derived field missing: %q", buf.String())
	}
}

func TestZeroAndNopLoggersAreSafe(t *testing.T) {
	var zero Logger
	zero.Info("ignored")
	zero.Error("ignored", Err(nil))
	Nop().Warn("ignored")
}
