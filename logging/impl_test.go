package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.viam.com/test"
)

func newBufferLogger(level Level) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := &impl{"buf", NewAtomicLevelAt(level), true, []Appender{NewWriterAppender(buf)}}
	return logger, buf
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, buf := newBufferLogger(DEBUG)

	logger.Info("camera ", "CAMERA_LEFT", " ready")
	line, err := buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	parts := strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	test.That(t, parts, test.ShouldHaveLength, 5)
	test.That(t, parts[1], test.ShouldEqual, "INFO")
	test.That(t, parts[2], test.ShouldEqual, "buf")
	test.That(t, parts[3], test.ShouldStartWith, "logging/impl_test.go:")
	test.That(t, parts[4], test.ShouldEqual, "camera CAMERA_LEFT ready")

	logger.Warnw("transform lookup failed", "from", "local", "utime", 42)
	line, err = buf.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)
	parts = strings.Split(strings.TrimSuffix(line, "\n"), "\t")
	test.That(t, parts, test.ShouldHaveLength, 6)
	test.That(t, parts[1], test.ShouldEqual, "WARN")

	fields := map[string]any{}
	test.That(t, json.Unmarshal([]byte(parts[5]), &fields), test.ShouldBeNil)
	test.That(t, fields["from"], test.ShouldEqual, "local")
	test.That(t, fields["utime"], test.ShouldEqual, 42.0)
}

func TestLevelFiltering(t *testing.T) {
	logger, buf := newBufferLogger(WARN)
	logger.Debug("hidden")
	logger.Info("hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.Error("shown")
	test.That(t, buf.String(), test.ShouldContainSubstring, "shown")

	buf.Reset()
	logger.CDebugw(EnableDebugMode(context.Background(), ""), "forced")
	test.That(t, buf.String(), test.ShouldContainSubstring, "forced")

	buf.Reset()
	logger.CDebugw(context.Background(), "still hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)
	logger.Debugw("hidden")
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
}

func TestSubloggerName(t *testing.T) {
	logger, buf := newBufferLogger(INFO)
	sub := logger.Sublogger("ingest")
	sub.Info("hello")
	test.That(t, buf.String(), test.ShouldContainSubstring, "buf.ingest")
}

func TestObservedTestLogger(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.Warnw("no calibration", "camera", "CAMERACHEST_LEFT")
	test.That(t, observed.FilterMessage("no calibration").Len(), test.ShouldEqual, 1)
	entry := observed.All()[0]
	test.That(t, entry.ContextMap()["camera"], test.ShouldEqual, "CAMERACHEST_LEFT")
}

func TestLevelFromString(t *testing.T) {
	level, err := LevelFromString("WARN")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)

	_, err = LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var parsed Level
	test.That(t, json.Unmarshal([]byte(`"error"`), &parsed), test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, ERROR)
}
