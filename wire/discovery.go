package wire

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// DiscoveryRecord is the /discovery/1.0 payload each side writes
// independently on a fresh connection: hostname plus a one-byte OS code
// (spec §6). The OS byte values (0=Linux,1=Windows,2=Macos,3=Other,
// 4=Unknown) are defined in the peer package; this package stays
// dependency-free of peer so it can be unit tested in isolation.
type DiscoveryRecord struct {
	Hostname string
	OS       byte
}

// WriteTo writes "hostname\n" followed by the one-byte OS code.
func (d DiscoveryRecord) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	buf.WriteString(d.Hostname)
	buf.WriteByte('\n')
	buf.WriteByte(d.OS)
	n, err := w.Write(buf.Bytes())
	if err != nil {
		return int64(n), fmt.Errorf("wire: write discovery record: %w", err)
	}
	return int64(n), nil
}

// ReadDiscoveryRecord reads a DiscoveryRecord from r.
func ReadDiscoveryRecord(r *bufio.Reader) (DiscoveryRecord, error) {
	hostname, err := readLine(r)
	if err != nil {
		return DiscoveryRecord{}, fmt.Errorf("wire: read hostname: %w", err)
	}
	osByte, err := r.ReadByte()
	if err != nil {
		return DiscoveryRecord{}, fmt.Errorf("wire: read os byte: %w", err)
	}
	return DiscoveryRecord{Hostname: hostname, OS: osByte}, nil
}
