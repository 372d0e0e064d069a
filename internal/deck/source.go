// internal/deck/source.go
//
// Image discovery for the board builder.
// Responsibilities:
//   - Pick the image source: IMAGES_DIR on disk, or the embedded default set.
//   - Enumerate image files and split them into fronts and covers.
//   - Group front images by motif so near-duplicate filenames collapse.
//
// Naming convention:
//   - A filename containing "cover" (any case) is a back-face image.
//   - Every other image is a front candidate; a single trailing digit in the
//     stem is a variant suffix ("plum1.svg", "plum2.svg" → motif "plum").

package deck

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/robalobadob/memory/apps/go-server/assets"
)

// imageExts lists the file extensions treated as card images.
var imageExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".svg":  {},
	".webp": {},
}

// Source returns the image filesystem for dir, or the embedded defaults when dir is empty.
func Source(dir string) (fs.FS, error) {
	if dir == "" {
		return assets.Images(), nil
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("images dir: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("images dir %s: not a directory", dir)
	}
	return os.DirFS(dir), nil
}

// Catalog is the result of scanning an image source.
type Catalog struct {
	Motifs map[string][]string // motif key -> variant file names (sorted)
	Covers []string            // cover file names (sorted)
}

// MotifCount returns the number of distinct motifs.
func (c *Catalog) MotifCount() int { return len(c.Motifs) }

// Scan enumerates the top level of fsys and classifies every image file.
// Subdirectories and non-image files are skipped.
func Scan(fsys fs.FS) (*Catalog, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read images: %w", err)
	}

	cat := &Catalog{Motifs: make(map[string][]string)}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !isImage(name) {
			continue
		}
		if IsCover(name) {
			cat.Covers = append(cat.Covers, name)
			continue
		}
		key := MotifKey(name)
		if key == "" {
			continue
		}
		cat.Motifs[key] = append(cat.Motifs[key], name)
	}

	sort.Strings(cat.Covers)
	for k := range cat.Motifs {
		sort.Strings(cat.Motifs[k])
	}
	return cat, nil
}

// IsCover reports whether name denotes a back-face image.
func IsCover(name string) bool {
	return strings.Contains(strings.ToLower(name), "cover")
}

// MotifKey returns the lowercased stem of name with one trailing digit removed.
// A single-character digit stem ("7.png") is kept as is.
func MotifKey(name string) string {
	stem := strings.TrimSuffix(name, path.Ext(name))
	stem = strings.ToLower(stem)
	if n := len(stem); n > 1 && stem[n-1] >= '0' && stem[n-1] <= '9' {
		stem = stem[:n-1]
	}
	return stem
}

func isImage(name string) bool {
	_, ok := imageExts[strings.ToLower(path.Ext(name))]
	return ok
}
