package logger

import "testing"

func TestNew(t *testing.T) {
	t.Run("ValidLevels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			l, err := New(level, true)
			if err != nil {
				t.Fatalf("level %s: %v", level, err)
			}
			l.Sync()
		}
		if _, err := New("info", false); err != nil {
			t.Errorf("console logger: %v", err)
		}
	})

	t.Run("RejectsUnknownLevel", func(t *testing.T) {
		if _, err := New("chatty", true); err == nil {
			t.Error("Expected error for unknown level")
		}
	})
}
