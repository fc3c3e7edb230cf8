package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_PlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.With("component", "session").Info("session.sweep.done",
		"removed", 3,
		"note", "two words",
		slog.Group("db", "kind", "sqlite"),
	)
	log.Debug("hidden")

	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", out)
	}
	for _, want := range []string{
		"lvl=[INFO]",
		"msg=session.sweep.done",
		"component=session",
		"removed=3",
		`note="two words"`,
		"db.kind=sqlite",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("unexpected ANSI codes in %q", out)
	}
}

func TestPrettyHandler_RequestFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))
	log.Warn("http.request", "method", "post", "status", 404, "status_class", "4xx", "duration_ms", int64(12))

	out := buf.String()
	for _, want := range []string{"lvl=[WARN]", "method=POST", "status=404", "class=4xx", "duration=12ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyHandler_Color(t *testing.T) {
	t.Parallel()

	if got := colorizeStatusCode(503, true); got != ansiRed+"503"+ansiReset {
		t.Fatalf("colorizeStatusCode(503)=%q", got)
	}
	if got := colorizeStatusClass("2xx", true); got != ansiGreen+"2xx"+ansiReset {
		t.Fatalf("colorizeStatusClass(2xx)=%q", got)
	}
	if got := colorizeHTTPMethod("GET", false); got != "GET" {
		t.Fatalf("colorizeHTTPMethod without color=%q", got)
	}
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   slog.Value
		want int64
		ok   bool
	}{
		{in: slog.Int64Value(7), want: 7, ok: true},
		{in: slog.Uint64Value(9), want: 9, ok: true},
		{in: slog.StringValue(" 42 "), want: 42, ok: true},
		{in: slog.StringValue("x"), ok: false},
		{in: slog.BoolValue(true), ok: false},
	}
	for _, tc := range cases {
		got, ok := valueToInt64(tc.in)
		if ok != tc.ok || (ok && got != tc.want) {
			t.Fatalf("valueToInt64(%v)=(%d,%v) want (%d,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
