package textedit

import "testing"

func TestOffsetPlainASCII(t *testing.T) {
	text := "hello\nworld\n"

	if got, err := Offset(text, Position{Line: 1, Character: 0}); err != nil || got != 6 {
		t.Fatalf("Offset(1,0) = %d, %v, want 6, nil", got, err)
	}
	if got, err := Offset(text, Position{Line: 0, Character: 5}); err != nil || got != 5 {
		t.Fatalf("Offset(0,5) = %d, %v, want 5, nil", got, err)
	}
}

func TestOffsetSurrogatePair(t *testing.T) {
	text := "a\U0001F600b\n"

	if got, err := Offset(text, Position{Line: 0, Character: 3}); err != nil || got != 5 {
		t.Fatalf("Offset(0,3) = %d, %v, want 5, nil", got, err)
	}
	if got, err := Offset(text, Position{Line: 0, Character: 1}); err != nil || got != 1 {
		t.Fatalf("Offset(0,1) = %d, %v, want 1, nil", got, err)
	}
}

func TestOffsetClampsCharacterPastEndOfLine(t *testing.T) {
	text := "hi\nworld\n"
	got, err := Offset(text, Position{Line: 0, Character: 100})
	if err != nil {
		t.Fatalf("Offset: %v", err)
	}
	if got != 2 {
		t.Fatalf("Offset() = %d, want 2 (end of \"hi\")", got)
	}
}

func TestOffsetLineBeyondLastIsError(t *testing.T) {
	text := "hello\nworld\n"
	if _, err := Offset(text, Position{Line: 5, Character: 0}); err == nil {
		t.Fatal("Offset() with out-of-range line succeeded, want error")
	}
}

func TestOffsetTrailingImplicitLineIsValid(t *testing.T) {
	text := "hello\n"
	if got, err := Offset(text, Position{Line: 1, Character: 0}); err != nil || got != 6 {
		t.Fatalf("Offset(1,0) = %d, %v, want 6, nil (implicit trailing line)", got, err)
	}
}

func TestApplyIncrementalReplacesWithinLine(t *testing.T) {
	text := "def hello():\n    print('hello')\n"
	rng := Range{Start: Position{Line: 1, Character: 11}, End: Position{Line: 1, Character: 16}}

	got, err := ApplyIncremental(text, rng, "world")
	if err != nil {
		t.Fatalf("ApplyIncremental: %v", err)
	}
	want := "def hello():\n    print('world')\n"
	if got != want {
		t.Fatalf("ApplyIncremental() = %q, want %q", got, want)
	}
}

func TestApplyIncrementalCrossLineDelete(t *testing.T) {
	text := "line1\nline2\nline3\n"
	rng := Range{Start: Position{Line: 0, Character: 5}, End: Position{Line: 2, Character: 0}}

	got, err := ApplyIncremental(text, rng, "")
	if err != nil {
		t.Fatalf("ApplyIncremental: %v", err)
	}
	want := "line1line3\n"
	if got != want {
		t.Fatalf("ApplyIncremental() = %q, want %q", got, want)
	}
}

func TestApplyIncrementalInsertAtPointLeavesSurroundingBytes(t *testing.T) {
	text := "ab"
	rng := Range{Start: Position{Line: 0, Character: 1}, End: Position{Line: 0, Character: 1}}

	got, err := ApplyIncremental(text, rng, "X")
	if err != nil {
		t.Fatalf("ApplyIncremental: %v", err)
	}
	if got != "aXb" {
		t.Fatalf("ApplyIncremental() = %q, want %q", got, "aXb")
	}
}

func TestApplyIncrementalRejectsInvertedRange(t *testing.T) {
	text := "hello\nworld\n"
	rng := Range{Start: Position{Line: 1, Character: 0}, End: Position{Line: 0, Character: 0}}

	if _, err := ApplyIncremental(text, rng, "x"); err == nil {
		t.Fatal("ApplyIncremental() with start > end succeeded, want error")
	}
}

func TestApplyFullReplacesWholeText(t *testing.T) {
	if got := ApplyFull("new text entirely"); got != "new text entirely" {
		t.Fatalf("ApplyFull() = %q", got)
	}
}
