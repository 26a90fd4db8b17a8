package telemetry

import (
	"context"
	"log/slog"
	"testing"
)

// ---------------------------------------------------------------------------
// SetupLogger / SetLevel
// ---------------------------------------------------------------------------

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLogger_DoesNotPanicForAllCombinations(t *testing.T) {
	formats := []string{"json", "text", "JSON", "", "unknown"}
	levels := []string{"debug", "info", "warn", "error", "", "unknown"}

	for _, format := range formats {
		for _, level := range levels {
			t.Run(format+"/"+level, func(t *testing.T) {
				defer func() {
					if r := recover(); r != nil {
						t.Errorf("SetupLogger(%q, %q) panicked: %v", format, level, r)
					}
				}()
				SetupLogger(format, level)
			})
		}
	}
	SetupLogger("text", "error")
}

func TestSetLevel_ChangesDefaultLogger(t *testing.T) {
	SetupLogger("text", "error")
	t.Cleanup(func() { SetupLogger("text", "error") })

	ctx := context.Background()
	if slog.Default().Enabled(ctx, slog.LevelInfo) {
		t.Fatal("info should be disabled at error level")
	}

	SetLevel("debug")
	if Level() != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", Level())
	}
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		t.Error("debug should be enabled after SetLevel(debug) without reinstalling the logger")
	}

	SetLevel("warn")
	if slog.Default().Enabled(ctx, slog.LevelInfo) {
		t.Error("info should be disabled after SetLevel(warn)")
	}
}
