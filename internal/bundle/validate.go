package bundle

import (
	"io/fs"

	"github.com/keithlinneman/linnemanlabs-ssr/internal/xerrors"
)

// Validate checks a release before it is swapped in: the filesystem must
// hold at least one file and every name in required must be a non-empty
// regular file.
func Validate(snap *Snapshot, required []string) error {
	if snap == nil || snap.FS == nil {
		return xerrors.New("validate: bundle has no filesystem")
	}

	for _, name := range required {
		info, err := fs.Stat(snap.FS, name)
		if err != nil {
			return xerrors.Wrapf(err, "validate: required file %s", name)
		}
		if info.IsDir() || info.Size() == 0 {
			return xerrors.Newf("validate: required file %s is empty or a directory", name)
		}
	}

	files := 0
	err := fs.WalkDir(snap.FS, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files++
		}
		return nil
	})
	if err != nil {
		return xerrors.Wrap(err, "validate: walk bundle")
	}
	if files == 0 {
		return xerrors.New("validate: bundle is empty")
	}
	return nil
}
