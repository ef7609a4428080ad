package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TrimExt drops the final extension of a base name ("a.b.mp3" -> "a.b").
func TrimExt(name string) string {
	lastDot := strings.LastIndex(name, ".")
	if lastDot <= 0 {
		return name
	}
	return name[:lastDot]
}

// IsPlainName reports whether name is a single path element that cannot
// escape its directory.
func IsPlainName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name
}

// RemoveIn deletes the named files under dir. Missing files are ignored.
func RemoveIn(dir string, names []string) error {
	var errs []error
	for _, name := range names {
		if !IsPlainName(name) {
			errs = append(errs, fmt.Errorf("refusing to remove %q", name))
			continue
		}
		err := os.Remove(filepath.Join(dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
