package document

import (
	"errors"
	"testing"

	"github.com/venvmux/venvmux/internal/textedit"
)

func TestOpenAndGet(t *testing.T) {
	c := New()
	c.Open("file:///a/b.py", "python", 1, "hello", "/a/.venv")

	d, ok := c.Get("file:///a/b.py")
	if !ok {
		t.Fatal("Get() reported not found")
	}
	if d.Text != "hello" || d.Version != 1 || d.Venv != "/a/.venv" {
		t.Fatalf("Get() = %+v, unexpected fields", d)
	}
}

func TestChangeEmptyLeavesTextUnchanged(t *testing.T) {
	c := New()
	c.Open("file:///a.py", "python", 1, "unchanged", "")

	ok, err := c.Change("file:///a.py", nil, 2, true)
	if err != nil || !ok {
		t.Fatalf("Change() = %v, %v, want true, nil", ok, err)
	}
	d, _ := c.Get("file:///a.py")
	if d.Text != "unchanged" {
		t.Fatalf("text mutated by empty changes: %q", d.Text)
	}
	if d.Version != 2 {
		t.Fatalf("version not updated: %d", d.Version)
	}
}

func TestChangeIncremental(t *testing.T) {
	c := New()
	c.Open("file:///a.py", "python", 1, "def hello():\n    print('hello')\n", "")

	rng := textedit.Range{Start: textedit.Position{Line: 1, Character: 11}, End: textedit.Position{Line: 1, Character: 16}}
	ok, err := c.Change("file:///a.py", []Change{{Range: &rng, NewText: "world"}}, 0, false)
	if err != nil || !ok {
		t.Fatalf("Change() = %v, %v", ok, err)
	}
	d, _ := c.Get("file:///a.py")
	want := "def hello():\n    print('world')\n"
	if d.Text != want {
		t.Fatalf("Change() text = %q, want %q", d.Text, want)
	}
}

func TestChangeOnUnopenedDocumentReturnsFalse(t *testing.T) {
	c := New()
	ok, err := c.Change("file:///missing.py", []Change{{NewText: "x"}}, 0, false)
	if err != nil {
		t.Fatalf("Change(): %v", err)
	}
	if ok {
		t.Fatal("Change() on unopened document reported ok=true")
	}
}

func TestCloseReturnsVenvAndRemoves(t *testing.T) {
	c := New()
	c.Open("file:///a.py", "python", 1, "x", "/venv")

	venv, ok := c.Close("file:///a.py")
	if !ok || venv != "/venv" {
		t.Fatalf("Close() = %q, %v, want /venv, true", venv, ok)
	}
	if _, ok := c.Get("file:///a.py"); ok {
		t.Fatal("document still present after Close")
	}
}

func TestURIsUnderVenv(t *testing.T) {
	c := New()
	c.Open("file:///a/x.py", "python", 1, "x", "/a/.venv")
	c.Open("file:///a/y.py", "python", 1, "y", "/a/.venv")
	c.Open("file:///b/z.py", "python", 1, "z", "/b/.venv")

	uris := c.URIsUnderVenv("/a/.venv")
	if len(uris) != 2 {
		t.Fatalf("URIsUnderVenv() = %v, want 2 entries", uris)
	}
}

func TestForReplayPrefersResolvedVenvThenFallback(t *testing.T) {
	c := New()
	c.Open("file:///proj/pkg/a.py", "python", 1, "a", "/proj/.venv")
	c.Open("file:///proj/pkg/b.py", "python", 1, "b", "")
	c.Open("file:///other/c.py", "python", 1, "c", "")

	docs := c.ForReplay("/proj/.venv", "/proj")
	if len(docs) != 2 {
		t.Fatalf("ForReplay() = %d docs, want 2", len(docs))
	}
}

func TestReplayToleratesPartialFailure(t *testing.T) {
	docs := []*Open{
		{URI: "file:///a.py"},
		{URI: "file:///b.py"},
		{URI: "file:///c.py"},
	}
	sent := 0
	err := Replay(docs, func(d *Open) error {
		sent++
		if d.URI == "file:///b.py" {
			return errors.New("write failed")
		}
		return nil
	})
	if sent != 3 {
		t.Fatalf("Replay() sent %d documents, want 3 (continue past failure)", sent)
	}
	if err == nil {
		t.Fatal("Replay() returned nil error, want aggregated failure")
	}
}

func TestFilePathRejectsNonFileURI(t *testing.T) {
	if _, ok := FilePath("untitled:Untitled-1"); ok {
		t.Fatal("FilePath() accepted a non-file URI")
	}
}

func TestFilePathParsesFileURI(t *testing.T) {
	path, ok := FilePath("file:///home/user/project/a.py")
	if !ok {
		t.Fatal("FilePath() rejected a file URI")
	}
	if path != "/home/user/project/a.py" {
		t.Fatalf("FilePath() = %q", path)
	}
}
