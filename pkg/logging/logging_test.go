package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestInit_DoesNotPanic(t *testing.T) {
	for _, tc := range []struct{ debug, human bool }{
		{false, false}, {true, false}, {false, true}, {true, true},
	} {
		Init(tc.debug, tc.human)
		L().Info().Msg("init check")
		L().Debug().Msg("init check debug")
	}
}

func TestNew_Level(t *testing.T) {
	// An info-level process logger must not hide a debug logger built later.
	Init(false, false)

	var buf bytes.Buffer
	l := New(&buf, false, false)
	l.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected no debug output at info level, got %s", buf.String())
	}

	buf.Reset()
	l = New(&buf, true, false)
	l.Debug().Msg("shown")
	if !bytes.Contains(buf.Bytes(), []byte(`"message":"shown"`)) {
		t.Errorf("expected debug output, got %s", buf.String())
	}
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		t.Errorf("expected the global level to stay permissive, got %s", zerolog.GlobalLevel())
	}
}

func TestInit_Level(t *testing.T) {
	Init(false, false)
	if got := L().GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("expected info level, got %s", got)
	}
	Init(true, false)
	if got := L().GetLevel(); got != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %s", got)
	}
	Init(false, false)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf))

	log := WithComponent("mark_reader")
	log.Info().Msg("test message")

	if !bytes.Contains(buf.Bytes(), []byte(`"component":"mark_reader"`)) {
		t.Errorf("expected component field in output, got: %s", buf.String())
	}
}

func TestSetLogger(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(zerolog.New(&buf).With().Str("custom", "field").Logger())

	L().Info().Msg("test")

	if !bytes.Contains(buf.Bytes(), []byte(`"custom":"field"`)) {
		t.Errorf("expected custom field in output, got: %s", buf.String())
	}
}
