package migrate

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestGooseSlogLoggerPrintf(t *testing.T) {
	var buf bytes.Buffer
	l := gooseSlogLogger{logger: slog.New(slog.NewTextHandler(&buf, nil))}

	l.Printf("OK   %s (%s)\n", "00001_auth_core.sql", "12ms")

	out := buf.String()
	if !strings.Contains(out, `msg="OK   00001_auth_core.sql (12ms)"`) || !strings.Contains(out, "component=goose") {
		t.Fatalf("unexpected log output: %q", out)
	}
}

func TestGooseSlogLoggerNilLogger(t *testing.T) {
	gooseSlogLogger{}.Printf("ignored %d", 1)
}
