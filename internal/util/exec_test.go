package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOutputTrims(t *testing.T) {
	got, err := Output("", "sh", "-c", "echo '  hello  '")
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestOutputSurfacesStderr(t *testing.T) {
	_, err := Output("", "sh", "-c", "echo broken pipe >&2; exit 1")
	if err == nil {
		t.Fatal("failing command accepted")
	}
	if !strings.Contains(err.Error(), "sh: broken pipe") {
		t.Errorf("err = %q", err)
	}
}

func TestOutputRunsInDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Output(dir, "ls")
	if err != nil {
		t.Fatal(err)
	}
	if got != "marker.txt" {
		t.Errorf("ls = %q, want %q", got, "marker.txt")
	}
}
