package bundle

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceDisk    Source = "disk"
	SourceS3      Source = "s3"
)

// releaseFile optionally describes a release; only the version is read.
const releaseFile = "release.json"

type Snapshot struct {
	FS       fs.FS
	Hash     string
	Version  string
	Source   Source
	LoadedAt time.Time
}

type release struct {
	Version string `json:"version"`
}

// readVersion returns the version from release.json, or "" when the
// bundle carries none.
func readVersion(fsys fs.FS) (string, error) {
	data, err := fs.ReadFile(fsys, releaseFile)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", xerrors.Wrapf(err, "read %s", releaseFile)
	}
	var rel release
	if err := json.Unmarshal(data, &rel); err != nil {
		return "", xerrors.Wrapf(err, "parse %s", releaseFile)
	}
	return rel.Version, nil
}

// FromDir snapshots a bundle directory on disk. The directory is read
// live, so a client rebuild is picked up without a swap.
func FromDir(dir string) (*Snapshot, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "client bundle dir %s", dir)
	}
	if !info.IsDir() {
		return nil, xerrors.Newf("client bundle path %s is not a directory", dir)
	}
	fsys := os.DirFS(dir)
	version, err := readVersion(fsys)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		FS:       fsys,
		Version:  version,
		Source:   SourceDisk,
		LoadedAt: time.Now().UTC(),
	}, nil
}
