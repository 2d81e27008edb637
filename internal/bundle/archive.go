package bundle

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"testing/fstest"

	"github.com/klauspost/compress/gzip"
)

// Size ceilings for a release pulled from S3.
const (
	maxBundleSize    int64 = 50 << 20 // compressed archive
	maxSingleFile    int64 = 10 << 20
	maxTotalExtract  int64 = 100 << 20
	maxSignatureSize int64 = 16 << 10
)

// readWithHash reads at most maxSize bytes from r and returns them with
// their sha256.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(io.LimitReader(r, maxSize+1), h))
	switch {
	case err != nil:
		return nil, "", err
	case int64(len(data)) > maxSize:
		return nil, "", fmt.Errorf("content exceeds max size (limit %d bytes)", maxSize)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// extractTarGz unpacks a release into memory. Anything other than
// regular files and directories fails the whole release.
func extractTarGz(data []byte) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gr.Close()

	x := extractor{files: fstest.MapFS{}}
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return x.files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}
		if err := x.add(hdr, tr); err != nil {
			return nil, err
		}
	}
}

type extractor struct {
	files fstest.MapFS
	total int64
}

func (x *extractor) add(hdr *tar.Header, body io.Reader) error {
	name, err := entryName(hdr.Name)
	if err != nil || name == "" {
		return err
	}
	switch hdr.Typeflag {
	case tar.TypeDir:
		return nil
	case tar.TypeReg:
	default:
		return fmt.Errorf("unsupported file type in archive: %s (type=%d)", name, hdr.Typeflag)
	}

	if hdr.Size > maxSingleFile {
		return fmt.Errorf("file %s exceeds max size (%d > %d)", name, hdr.Size, maxSingleFile)
	}
	content, err := io.ReadAll(io.LimitReader(body, maxSingleFile+1))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(content)) > maxSingleFile {
		return fmt.Errorf("file %s exceeds max size after read", name)
	}
	if x.total += int64(len(content)); x.total > maxTotalExtract {
		return fmt.Errorf("total extracted size exceeds limit (max %d)", maxTotalExtract)
	}
	x.files[name] = &fstest.MapFile{
		Data:    content,
		Mode:    hdr.FileInfo().Mode().Perm(),
		ModTime: hdr.ModTime,
	}
	return nil
}

// entryName cleans an archive path. The archive root yields "".
func entryName(raw string) (string, error) {
	name := path.Clean(raw)
	switch {
	case name == "." || name == "":
		return "", nil
	case path.IsAbs(name):
		return "", fmt.Errorf("absolute path in archive: %s", raw)
	case strings.Contains(name, ".."):
		return "", fmt.Errorf("path traversal in archive: %s", raw)
	}
	return name, nil
}
