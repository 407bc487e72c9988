// Package payload models what is actually sent or received on the wire: a
// single regular file, or a directory archived to a temporary zip. Neither
// kind knows anything about peers or protocols; it only knows how to expose
// a byte stream, a total size, and a content hash.
package payload

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Kind mirrors event.TransferKind without importing the event package
// (payload must stay a leaf so event, transfer, and swarm can all depend on
// it without a cycle).
type Kind byte

const (
	KindFile Kind = iota
	KindDirectory
)

// Payload is the local representation of a send/receive target. File wraps
// a path on disk directly; Archive wraps a path to a temporary zip produced
// from a source directory (see NewArchive). On the receive side, Path is
// the final on-disk location after a successful VERIFY.
type Payload struct {
	kind Kind
	// Path is the regular file path (File) or the temp/final zip path
	// (Archive).
	Path string
	// cleanup, when non-nil, removes any temporary artifact (e.g. the zip)
	// backing this payload. It is a no-op for a plain File.
	cleanup func() error
}

// NewFile wraps an existing regular file as a File payload.
func NewFile(path string) Payload {
	return Payload{kind: KindFile, Path: path}
}

// NewArchivePayload wraps an already-produced zip path as an Archive
// payload, attaching cleanup so Close removes the temp file.
func NewArchivePayload(zipPath string) Payload {
	return Payload{
		kind: KindDirectory,
		Path: zipPath,
		cleanup: func() error {
			err := os.Remove(zipPath)
			if os.IsNotExist(err) {
				return nil
			}
			return err
		},
	}
}

// Kind reports whether this is a plain file or a directory archive.
func (p Payload) Kind() Kind { return p.kind }

// OpenReadStream opens the payload's bytes for streaming, in the exact form
// they will be (or were) transmitted: for an Archive, that is the archive
// bytes, never the source tree.
func (p Payload) OpenReadStream() (io.ReadCloser, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, fmt.Errorf("payload: open %s: %w", p.Path, err)
	}
	return f, nil
}

// TotalSize stats the backing file for its size in bytes.
func (p Payload) TotalSize() (uint64, error) {
	fi, err := os.Stat(p.Path)
	if err != nil {
		return 0, fmt.Errorf("payload: stat %s: %w", p.Path, err)
	}
	if fi.Size() < 0 {
		return 0, fmt.Errorf("payload: negative size for %s", p.Path)
	}
	return uint64(fi.Size()), nil
}

// Hash computes the hex SHA-1 over the exact bytes OpenReadStream would
// yield, by fully reading the stream once. Callers on the send side call
// this before WRITE_META; callers on the receive side call it after
// STREAM_BODY to VERIFY.
func (p Payload) Hash() (string, error) {
	r, err := p.OpenReadStream()
	if err != nil {
		return "", err
	}
	defer r.Close()

	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("payload: hash %s: %w", p.Path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Close releases any temporary artifact backing this payload (a no-op for
// a plain File payload).
func (p Payload) Close() error {
	if p.cleanup == nil {
		return nil
	}
	return p.cleanup()
}
