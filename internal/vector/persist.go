package vector

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// Blob layout, little endian:
//
//	magic [4]byte "VXF1"
//	dimension, count, rawSize, compressedSize uint32
//	payload (lz4 block, or raw floats when compressedSize is 0)
var blobMagic = [4]byte{'V', 'X', 'F', '1'}

const headerSize = 4 + 4*4

// Save writes the index to path atomically. The directory is created if needed.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	raw := float32SliceToBytes(f.data)
	dim, n := f.dimension, f.size()
	f.mu.RUnlock()

	payload := make([]byte, lz4.CompressBlockBound(len(raw)))
	c, err := lz4.CompressBlock(raw, payload, nil)
	if err != nil {
		return fmt.Errorf("compress index: %w", err)
	}
	compressedSize := uint32(c)
	if c == 0 || c >= len(raw) {
		payload, compressedSize = raw, 0
	} else {
		payload = payload[:c]
	}

	header := make([]byte, headerSize)
	copy(header, blobMagic[:])
	binary.LittleEndian.PutUint32(header[4:], uint32(dim))
	binary.LittleEndian.PutUint32(header[8:], uint32(n))
	binary.LittleEndian.PutUint32(header[12:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(header[16:], compressedSize)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("write index header: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write index data: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

// Load reads a flat index from path. A missing file returns an error matching os.ErrNotExist.
func Load(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	if [4]byte(header[:4]) != blobMagic {
		return nil, errors.New("not a vector index file")
	}
	dim := int(binary.LittleEndian.Uint32(header[4:]))
	n := int(binary.LittleEndian.Uint32(header[8:]))
	rawSize := int(binary.LittleEndian.Uint32(header[12:]))
	compressedSize := int(binary.LittleEndian.Uint32(header[16:]))
	if rawSize != dim*n*4 {
		return nil, fmt.Errorf("corrupt index: %d bytes for %d vectors of dimension %d", rawSize, n, dim)
	}

	var raw []byte
	if compressedSize == 0 {
		raw = make([]byte, rawSize)
		if _, err := io.ReadFull(file, raw); err != nil {
			return nil, fmt.Errorf("read index data: %w", err)
		}
	} else {
		compressed := make([]byte, compressedSize)
		if _, err := io.ReadFull(file, compressed); err != nil {
			return nil, fmt.Errorf("read index data: %w", err)
		}
		raw = make([]byte, rawSize)
		got, err := lz4.UncompressBlock(compressed, raw)
		if err != nil {
			return nil, fmt.Errorf("decompress index: %w", err)
		}
		if got != rawSize {
			return nil, errors.New("decompressed size mismatch")
		}
	}
	return &FlatIndex{dimension: dim, data: bytesToFloat32Slice(raw)}, nil
}

// LoadOrNew loads the index at path, or returns an empty one when the file does not exist.
func LoadOrNew(path string) (*FlatIndex, error) {
	idx, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewFlatIndex(0), nil
	}
	return idx, err
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
