// Package wire implements the /transfer/1.1 and /discovery/1.0 framing:
// small newline-terminated text records, followed (for a transfer) by the
// raw payload bytes with no further framing — the substream close signals
// end-of-payload. See spec §4.1 and §6.
package wire

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultMaxPayloadSize is the configured maximum for the Size field of a
// Metadata record (spec §4.1): 16 GiB.
const DefaultMaxPayloadSize uint64 = 16 << 30

// hashHexLen is the length of a hex-encoded SHA-1 digest.
const hashHexLen = 40

// TransferType is the wire encoding of the payload kind: 0=File,
// 1=Directory (spec §6).
type TransferType byte

const (
	TypeFile      TransferType = 0
	TypeDirectory TransferType = 1
)

func (t TransferType) valid() bool { return t == TypeFile || t == TypeDirectory }

// Metadata is the on-wire record preceding payload bytes: name, hash
// (hex SHA-1 of the full payload), size in bytes, and transfer type.
type Metadata struct {
	Name string
	Hash string
	Size uint64
	Type TransferType
}

// WriteTo writes the three newline-terminated text fields followed by the
// one-byte transfer type, per spec §6.
func (m Metadata) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var n int64

	for _, field := range []string{m.Name, m.Hash, strconv.FormatUint(m.Size, 10)} {
		written, err := bw.WriteString(field + "\n")
		n += int64(written)
		if err != nil {
			return n, fmt.Errorf("wire: write metadata field: %w", err)
		}
	}
	if err := bw.WriteByte(byte(m.Type)); err != nil {
		return n, fmt.Errorf("wire: write transfer type: %w", err)
	}
	n++
	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("wire: flush metadata: %w", err)
	}
	return n, nil
}

// ReadMetadata reads and validates a Metadata record from r. name is
// sanitized to its basename (or, if empty, generated from the hash) before
// being returned, so callers never have to sanitize again themselves.
func ReadMetadata(r *bufio.Reader, maxSize uint64) (Metadata, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxPayloadSize
	}

	name, err := readLine(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("wire: read name: %w", err)
	}
	if !utf8.ValidString(name) {
		return Metadata{}, errors.New("wire: name is not valid utf-8")
	}

	hash, err := readLine(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("wire: read hash: %w", err)
	}
	if _, err := hex.DecodeString(hash); err != nil || len(hash) != hashHexLen {
		return Metadata{}, fmt.Errorf("wire: malformed hash %q", hash)
	}

	sizeStr, err := readLine(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("wire: read size: %w", err)
	}
	size, err := strconv.ParseUint(sizeStr, 10, 64)
	if err != nil {
		return Metadata{}, fmt.Errorf("wire: malformed size %q: %w", sizeStr, err)
	}
	if size > maxSize {
		return Metadata{}, fmt.Errorf("wire: size %d exceeds maximum %d", size, maxSize)
	}

	typeByte, err := r.ReadByte()
	if err != nil {
		return Metadata{}, fmt.Errorf("wire: read transfer type: %w", err)
	}
	transferType := TransferType(typeByte)
	if !transferType.valid() {
		return Metadata{}, fmt.Errorf("wire: unknown transfer type %d", typeByte)
	}

	return Metadata{
		Name: Sanitize(name, hash),
		Hash: hash,
		Size: size,
		Type: transferType,
	}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
