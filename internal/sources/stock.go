package sources

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var stockExtensions = map[string]bool{".mp4": true, ".mov": true, ".webm": true}

// ListStock returns stock clip handles for the videos directly inside dir,
// sorted by name. A missing directory yields no clips.
func ListStock(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list stock clips: %w", err)
	}

	var handles []string
	for _, entry := range entries {
		if entry.IsDir() || !stockExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		handles = append(handles, Handle(SchemeStock, entry.Name()))
	}
	sort.Strings(handles)
	return handles, nil
}
