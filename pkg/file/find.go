package file

import (
	"os"
	"sort"
	"strings"
)

// FindByPrefix lists regular files directly under dir whose name starts with
// prefix and ends with ext. Names are returned sorted.
func FindByPrefix(dir, prefix, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var found []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
			found = append(found, name)
		}
	}
	sort.Strings(found)
	return found, nil
}
