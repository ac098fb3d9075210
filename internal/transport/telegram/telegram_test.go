package telegram

import (
	"strings"
	"testing"

	kit "hookbot/internal/transport"
)

func TestTeleCommandsStripSlash(t *testing.T) {
	t.Parallel()

	out := teleCommands([]kit.BotCommand{
		{Command: "/start", Description: "Show the welcome message"},
		{Command: "schedule", Description: "Schedule a new submission"},
		{Command: "/"},
		{Command: "/cancel"},
	})

	// setMyCommands rejects names with a leading slash, so none may
	// survive conversion; empty names are skipped entirely.
	if len(out) != 3 {
		t.Fatalf("commands = %d, want 3", len(out))
	}
	for _, c := range out {
		if strings.HasPrefix(c.Text, "/") {
			t.Fatalf("command %q kept its slash", c.Text)
		}
	}
	if out[0].Text != "start" || out[1].Text != "schedule" || out[2].Text != "cancel" {
		t.Fatalf("names = %q, %q, %q", out[0].Text, out[1].Text, out[2].Text)
	}
	if out[2].Description != "cancel" {
		t.Fatalf("default description = %q, want command name", out[2].Description)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	head := strings.Repeat("a", 90)
	tail := strings.Repeat("b", 40)
	parts := splitText(head+"\n"+tail, 100)

	if len(parts) != 2 {
		t.Fatalf("parts = %d, want 2", len(parts))
	}
	if parts[0] != head {
		t.Fatalf("first part = %d runes, want cut at the newline", len([]rune(parts[0])))
	}
	if parts[1] != tail {
		t.Fatalf("second part = %q", parts[1])
	}
}

func TestSplitTextShortPassthrough(t *testing.T) {
	t.Parallel()

	parts := splitText("short message", 100)
	if len(parts) != 1 || parts[0] != "short message" {
		t.Fatalf("parts = %v", parts)
	}
}
