// Package fileid derives content identifiers for ingest source files, so the
// same bytes dropped twice are recognised as one source.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

const prefix = "sha256:"

// FromReader returns the content ID of everything read from r.
func FromReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(h.Sum(nil)), nil
}

// File returns the content ID of the file at path. Renaming or moving the file
// does not change it.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	id, err := FromReader(f)
	if err != nil {
		return "", fmt.Errorf("hash source: %w", err)
	}
	return id, nil
}
