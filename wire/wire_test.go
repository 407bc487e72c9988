package wire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleHash = "f32b67c7e26342af42efabc674d441dca0a281c5"

func TestMetadataRoundTrip(t *testing.T) {
	want := Metadata{Name: "hello.txt", Hash: sampleHash, Size: 3, Type: TypeFile}

	var buf bytes.Buffer
	_, err := want.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadMetadata(bufio.NewReader(&buf), 0)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestMetadataSanitizesPathSeparators(t *testing.T) {
	m := Metadata{Name: "../../etc/passwd", Hash: sampleHash, Size: 0, Type: TypeFile}
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadMetadata(bufio.NewReader(&buf), 0)
	require.NoError(t, err)
	require.Equal(t, "passwd", got.Name)
}

func TestMetadataEmptyNameFallsBackToHash(t *testing.T) {
	m := Metadata{Name: "", Hash: sampleHash, Size: 0, Type: TypeFile}
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadMetadata(bufio.NewReader(&buf), 0)
	require.NoError(t, err)
	require.NotEmpty(t, got.Name)
	require.False(t, strings.ContainsAny(got.Name, `/\`))
}

func TestMetadataRejectsOversizedPayload(t *testing.T) {
	m := Metadata{Name: "big.bin", Hash: sampleHash, Size: 100, Type: TypeFile}
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)

	_, err = ReadMetadata(bufio.NewReader(&buf), 10)
	require.Error(t, err)
}

func TestMetadataRejectsUnknownTransferType(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("name\n")
	buf.WriteString(sampleHash + "\n")
	buf.WriteString("0\n")
	buf.WriteByte(7)

	_, err := ReadMetadata(bufio.NewReader(&buf), 0)
	require.Error(t, err)
}

func TestAnswerRoundTrip(t *testing.T) {
	for _, accepted := range []bool{true, false} {
		a := Answer{Accepted: accepted, Hash: sampleHash}
		var buf bytes.Buffer
		_, err := a.WriteTo(&buf)
		require.NoError(t, err)

		got, err := ReadAnswer(bufio.NewReader(&buf))
		require.NoError(t, err)
		require.Equal(t, a, got)
	}
}

func TestDiscoveryRecordRoundTrip(t *testing.T) {
	d := DiscoveryRecord{Hostname: "workstation", OS: 0}
	var buf bytes.Buffer
	_, err := d.WriteTo(&buf)
	require.NoError(t, err)

	got, err := ReadDiscoveryRecord(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, d, got)
}

func TestSanitizeIsIdempotent(t *testing.T) {
	cases := []string{"a/b/c.txt", "..\\..\\windows\\system32", "", "   ", "plain.txt"}
	for _, c := range cases {
		once := Sanitize(c, sampleHash)
		twice := Sanitize(once, sampleHash)
		require.Equal(t, once, twice, "input %q", c)
		require.NotEmpty(t, once)
		require.False(t, strings.ContainsAny(once, `/\`))
	}
}
