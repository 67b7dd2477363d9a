package embedded

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

//go:embed eflash_loader
var loaders embed.FS

// ErrLoaderNotFound is returned when no eflash_loader image exists for a
// chip and crystal combination.
var ErrLoaderNotFound = errors.New("eflash_loader not found")

func loaderName(xtal string) string {
	return "eflash_loader_" + xtal + ".bin"
}

// EflashLoader returns the secondary loader for chip and xtal. Bundled
// images win; otherwise data/<chip>/ next to the executable is searched.
func EflashLoader(chip, xtal string) ([]byte, error) {
	data, err := fs.ReadFile(loaders, path.Join("eflash_loader", chip, loaderName(xtal)))
	if err == nil {
		return data, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrLoaderNotFound, chip, xtal)
	}
	return LoadFromDir(filepath.Join(filepath.Dir(exe), "data"), chip, xtal)
}

// LoadFromDir reads <dir>/<chip>/eflash_loader_<xtal>.bin.
func LoadFromDir(dir, chip, xtal string) ([]byte, error) {
	p := filepath.Join(dir, chip, loaderName(xtal))
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrLoaderNotFound, p)
		}
		return nil, err
	}
	return data, nil
}
