package wire

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
)

// Answer is the receiver's accept/deny reply, echoing the hash it is
// responding to so the sender can correlate it (and, per spec §9's
// redesign flag, reject the transfer as transport corruption if the echo
// does not match what it sent).
type Answer struct {
	Accepted bool
	Hash     string
}

// WriteTo writes the one-byte accept/deny flag followed by the
// newline-terminated hash echo, per spec §6.
func (a Answer) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var flag byte
	if a.Accepted {
		flag = 0x01
	}
	if err := bw.WriteByte(flag); err != nil {
		return 0, fmt.Errorf("wire: write answer flag: %w", err)
	}
	n, err := bw.WriteString(a.Hash + "\n")
	if err != nil {
		return int64(n) + 1, fmt.Errorf("wire: write answer hash: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return int64(n) + 1, fmt.Errorf("wire: flush answer: %w", err)
	}
	return int64(n) + 1, nil
}

// ReadAnswer reads a fixed small record: one byte 0x00/0x01 plus a
// newline-terminated hash echo.
func ReadAnswer(r *bufio.Reader) (Answer, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return Answer{}, fmt.Errorf("wire: read answer flag: %w", err)
	}
	hash, err := readLine(r)
	if err != nil {
		return Answer{}, fmt.Errorf("wire: read answer hash: %w", err)
	}
	if _, err := hex.DecodeString(hash); err != nil || len(hash) != hashHexLen {
		return Answer{}, fmt.Errorf("wire: malformed answer hash %q", hash)
	}
	return Answer{Accepted: flag == 0x01, Hash: hash}, nil
}
