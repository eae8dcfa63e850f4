// pkg/bootstrap/bundle.go
package bootstrap

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// ExtractBundle unpacks a winget-cli archive (.tar.xz, .tar.gz or .tar)
// into dir. Entries that would land outside dir are rejected.
func ExtractBundle(archive, dir string, logger *slog.Logger) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("opening bundle: %w", err)
	}
	defer f.Close()

	var tarReader *tar.Reader
	switch {
	case strings.HasSuffix(archive, ".xz"):
		xzReader, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		tarReader = tar.NewReader(xzReader)
	case strings.HasSuffix(archive, ".gz"):
		gzReader, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzReader.Close()
		tarReader = tar.NewReader(gzReader)
	default:
		tarReader = tar.NewReader(f)
	}

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	files := 0
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		cleanPath := strings.TrimPrefix(header.Name, "./")
		if cleanPath == "" || cleanPath == "." {
			continue
		}
		target := filepath.Join(root, filepath.FromSlash(cleanPath))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("bundle entry %q escapes %s", header.Name, dir)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeEntry(target, tarReader, header); err != nil {
				return err
			}
			files++
		default:
			logger.Debug("skipping bundle entry", "name", cleanPath, "type", string(header.Typeflag))
		}
	}
	logger.Info("bundled winget extracted", "dir", dir, "files", files)
	return nil
}

func writeEntry(target string, r io.Reader, header *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)|0o600)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", target, err)
	}
	written, err := io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing file %s: %w", target, err)
	}
	if written != header.Size {
		return fmt.Errorf("file size mismatch for %s: expected %d, got %d", target, header.Size, written)
	}
	return nil
}
