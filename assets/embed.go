package assets

import (
	"embed"
	"io/fs"
)

//go:embed images/*.svg
var FS embed.FS

// Images returns the embedded default card images rooted at images/.
func Images() fs.FS {
	sub, err := fs.Sub(FS, "images")
	if err != nil {
		// images/ is compiled in; Sub only fails on an invalid path.
		panic(err)
	}
	return sub
}
