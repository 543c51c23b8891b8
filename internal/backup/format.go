package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	// FormatName identifies carbon snapshot files in their header line.
	FormatName = "carbon-backup"

	// FormatVersion is the current snapshot layout.
	FormatVersion = 1

	// MaxDecompressedSize bounds the payload read back from a snapshot.
	MaxDecompressedSize = 256 << 20
)

// Header is the plain JSON first line of a snapshot file. It can be read
// without touching the compressed payload that follows it.
type Header struct {
	Format          string    `json:"format"`
	Version         int       `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	Checksum        string    `json:"checksum"`
	ExperimentCount int       `json:"experiment_count"`
}

// writeFile stores snap as a header line followed by the gzip payload.
// The checksum covers the compressed bytes.
func writeFile(path string, snap *Snapshot) (*Header, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling snapshot: %w", err)
	}

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	header := &Header{
		Format:          FormatName,
		Version:         FormatVersion,
		CreatedAt:       snap.CreatedAt,
		Checksum:        checksum(compressed.Bytes()),
		ExperimentCount: len(snap.Experiments),
	}
	headerLine, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating backup file: %w", err)
	}

	w := bufio.NewWriter(f)
	w.Write(headerLine)
	w.WriteByte('\n')
	w.Write(compressed.Bytes())
	if err := w.Flush(); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing backup file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("closing backup file: %w", err)
	}
	return header, nil
}

// readFile verifies the checksum of the snapshot at path and decodes it.
func readFile(path string) (*Header, *Snapshot, error) {
	header, compressed, err := readVerified(path)
	if err != nil {
		return nil, nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, nil, fmt.Errorf("opening gzip payload: %w", err)
	}
	defer gzr.Close()

	payload, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	if len(payload) > MaxDecompressedSize {
		return nil, nil, fmt.Errorf("snapshot exceeds %d bytes once decompressed", MaxDecompressedSize)
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	if len(snap.Experiments) != header.ExperimentCount {
		return nil, nil, fmt.Errorf("snapshot holds %d experiments, header says %d",
			len(snap.Experiments), header.ExperimentCount)
	}
	return header, &snap, nil
}

// ReadHeader returns the header of the snapshot at path without
// decompressing or verifying its payload.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening backup file: %w", err)
	}
	defer f.Close()
	return readHeader(bufio.NewReader(f))
}

// Verify checks the payload checksum of the snapshot at path.
func Verify(path string) (*Header, error) {
	header, _, err := readVerified(path)
	return header, err
}

func readVerified(path string) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening backup file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := readHeader(r)
	if err != nil {
		return nil, nil, err
	}
	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading payload: %w", err)
	}
	if got := checksum(compressed); got != header.Checksum {
		return nil, nil, fmt.Errorf("checksum mismatch: header has %s, payload is %s", header.Checksum, got)
	}
	return header, compressed, nil
}

func readHeader(r *bufio.Reader) (*Header, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Format != FormatName {
		return nil, fmt.Errorf("not a carbon backup (format %q)", header.Format)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported backup version %d", header.Version)
	}
	return &header, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
