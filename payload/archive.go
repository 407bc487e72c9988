package payload

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// NewArchive walks sourceDir and zips it into a fresh temp file named
// dragit-<uuid>-<random>.zip, returning a Payload over the result. The
// archive is produced lazily when an outbound directory transfer is
// dispatched, before its stream is opened; the swarm driver runs it on the
// worker pool so it never blocks the network task (spec §4.4, §5).
func NewArchive(sourceDir string) (Payload, error) {
	tmp, err := os.CreateTemp("", fmt.Sprintf("dragit-%s-*.zip", uuid.NewString()))
	if err != nil {
		return Payload{}, fmt.Errorf("payload: create temp archive: %w", err)
	}
	defer tmp.Close()

	zw := zip.NewWriter(tmp)
	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		return addFileToZip(zw, path, filepath.ToSlash(rel))
	})
	closeErr := zw.Close()

	if walkErr != nil {
		os.Remove(tmp.Name())
		return Payload{}, fmt.Errorf("payload: archive %s: %w", sourceDir, walkErr)
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return Payload{}, fmt.Errorf("payload: finalize archive %s: %w", sourceDir, closeErr)
	}

	return NewArchivePayload(tmp.Name()), nil
}

func addFileToZip(zw *zip.Writer, path, name string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}
