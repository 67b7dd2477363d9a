package embedded

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	want := []byte{0x42, 0x46, 0x4E, 0x50}

	if err := os.MkdirAll(filepath.Join(dir, "bl70x"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bl70x", "eflash_loader_32m.bin"), want, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFromDir(dir, "bl70x", "32m")
	if err != nil {
		t.Fatalf("LoadFromDir error: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("LoadFromDir = %v, want %v", got, want)
	}
}

func TestLoadFromDir_Missing(t *testing.T) {
	_, err := LoadFromDir(t.TempDir(), "bl60x", "40m")
	if !errors.Is(err, ErrLoaderNotFound) {
		t.Errorf("LoadFromDir error = %v, want ErrLoaderNotFound", err)
	}
}

func TestEflashLoader_Missing(t *testing.T) {
	_, err := EflashLoader("nochip", "1m")
	if !errors.Is(err, ErrLoaderNotFound) {
		t.Errorf("EflashLoader error = %v, want ErrLoaderNotFound", err)
	}
}
