package corelog

import "testing"

func TestSetLevel_ParsesKnownNames(t *testing.T) {
	SetLevel("debug")
	if Level(current.Load()) != LevelDebug {
		t.Error("SetLevel(\"debug\") did not set LevelDebug")
	}
	SetLevel("ERROR")
	if Level(current.Load()) != LevelError {
		t.Error("SetLevel(\"ERROR\") did not set LevelError")
	}
	SetLevel("bogus")
	if Level(current.Load()) != LevelInfo {
		t.Error("SetLevel(\"bogus\") should default to LevelInfo")
	}
}

func TestEnabled_RespectsCurrentLevel(t *testing.T) {
	SetLevel("warn")
	if enabled(LevelDebug) {
		t.Error("debug should not be enabled at warn level")
	}
	if !enabled(LevelError) {
		t.Error("error should be enabled at warn level")
	}
	SetLevel("info")
}
