package httprouter

import (
	"io/fs"
	"net/http"
	"os"
	"strings"
)

// visibleFS exposes regular, non-hidden files only. Dot-prefixed names cover
// in-flight temp files, and directories are never listed.
type visibleFS struct {
	fsys fs.FS
}

func (v visibleFS) Open(name string) (fs.File, error) {
	if name == "." {
		return nil, fs.ErrNotExist
	}

	for part := range strings.SplitSeq(name, "/") {
		if strings.HasPrefix(part, ".") {
			return nil, fs.ErrNotExist
		}
	}

	f, err := v.fsys.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		_ = f.Close()

		return nil, fs.ErrNotExist
	}

	return f, nil
}

func publicFiles(dir string) http.Handler {
	return http.FileServerFS(visibleFS{fsys: os.DirFS(dir)})
}
