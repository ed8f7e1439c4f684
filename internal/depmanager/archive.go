package depmanager

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

var errNoMembers = errors.New("archive has none of the wanted binaries")

// extract copies the wanted binaries out of the archive at path into destDir.
// Members are matched by base name wherever they sit in the archive. The archive
// format comes from the download URL.
func extract(path, url, destDir string, want []BinaryName) error {
	targets := make(map[string]struct{}, len(want))
	for _, name := range want {
		targets[string(name)] = struct{}{}
	}

	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip(path, destDir, targets)
	case strings.HasSuffix(url, ".tar.xz"):
		return withFile(path, func(f *os.File) error {
			r, err := xz.NewReader(f)
			if err != nil {
				return fmt.Errorf("xz reader: %w", err)
			}

			return extractTar(r, destDir, targets)
		})
	case strings.HasSuffix(url, ".tar.gz"):
		return withFile(path, func(f *os.File) error {
			r, err := gzip.NewReader(f)
			if err != nil {
				return fmt.Errorf("gzip reader: %w", err)
			}
			defer r.Close()

			return extractTar(r, destDir, targets)
		})
	default:
		return fmt.Errorf("unsupported archive %q", filepath.Base(url))
	}
}

func withFile(path string, fn func(*os.File) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	return fn(f)
}

func extractZip(path, destDir string, targets map[string]struct{}) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	found := 0

	for _, f := range zr.File {
		name := filepath.Base(f.Name)
		if _, ok := targets[name]; !ok || f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}

		err = writeExecutable(filepath.Join(destDir, name), rc)
		rc.Close()

		if err != nil {
			return err
		}

		if found++; found == len(targets) {
			return nil
		}
	}

	if found == 0 {
		return errNoMembers
	}

	return nil
}

func extractTar(r io.Reader, destDir string, targets map[string]struct{}) error {
	tr := tar.NewReader(r)
	found := 0

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		name := filepath.Base(hdr.Name)
		if _, ok := targets[name]; !ok || hdr.Typeflag != tar.TypeReg {
			continue
		}

		if err := writeExecutable(filepath.Join(destDir, name), tr); err != nil {
			return err
		}

		if found++; found == len(targets) {
			return nil
		}
	}

	if found == 0 {
		return errNoMembers
	}

	return nil
}

// writeExecutable replaces dst with the contents of r.
func writeExecutable(dst string, r io.Reader) error {
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, execPerm)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dst), err)
	}

	_, copyErr := io.Copy(out, r)
	closeErr := out.Close()

	if err := errors.Join(copyErr, closeErr); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(dst), err)
	}

	return nil
}
