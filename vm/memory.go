package vm

import (
	"math"

	"github.com/holiman/uint256"
)

// Memory is the byte-addressable execution memory. Its effective length is
// always a multiple of 32 bytes; any access past the current length grows it
// and exposes fresh zero bytes. Growth is monotonic.
type Memory struct {
	store []byte
}

// NewMemory returns a new zero-length memory.
func NewMemory() *Memory {
	return &Memory{}
}

// Len returns the effective length in bytes.
func (m *Memory) Len() uint64 {
	return uint64(len(m.store))
}

// Data returns the full backing slice. Callers must not modify the
// contents.
func (m *Memory) Data() []byte {
	return m.store
}

// ceil32 rounds x up to the next multiple of 32.
func ceil32(x uint64) uint64 {
	if r := x % 32; r != 0 {
		return x + 32 - r
	}
	return x
}

// resize grows the effective length to cover [offset, offset+size), rounded
// up to a word boundary. A zero size never expands memory.
func (m *Memory) resize(offset, size uint64) error {
	if size == 0 {
		return nil
	}
	// The word-aligned end must not wrap either: ceil32 adds up to 31.
	if offset > math.MaxUint64-size || offset+size > math.MaxUint64-31 {
		return ErrInvalidRange
	}
	if end := ceil32(offset + size); end > uint64(len(m.store)) {
		m.store = append(m.store, make([]byte, end-uint64(len(m.store)))...)
	}
	return nil
}

// Write copies data into memory at offset, growing it as needed.
func (m *Memory) Write(offset uint64, data []byte) error {
	if err := m.resize(offset, uint64(len(data))); err != nil {
		return err
	}
	copy(m.store[offset:], data)
	return nil
}

// Read returns a freshly allocated copy of size bytes at offset, growing
// memory first so the read always succeeds.
func (m *Memory) Read(offset, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if err := m.resize(offset, size); err != nil {
		return nil, err
	}
	ret := make([]byte, size)
	copy(ret, m.store[offset:offset+size])
	return ret, nil
}

// Load32 reads the 32-byte big-endian word at offset.
func (m *Memory) Load32(offset uint64) (uint256.Int, error) {
	if err := m.resize(offset, 32); err != nil {
		return uint256.Int{}, err
	}
	var val uint256.Int
	val.SetBytes32(m.store[offset : offset+32])
	return val, nil
}

// Store32 writes val at offset as 32 big-endian bytes.
func (m *Memory) Store32(offset uint64, val *uint256.Int) error {
	if err := m.resize(offset, 32); err != nil {
		return err
	}
	b := val.Bytes32()
	copy(m.store[offset:offset+32], b[:])
	return nil
}

// StoreByte writes the low byte of val at offset.
func (m *Memory) StoreByte(offset uint64, val byte) error {
	if err := m.resize(offset, 1); err != nil {
		return err
	}
	m.store[offset] = val
	return nil
}

// Copy performs an overlap-safe copy of size bytes from src to dst,
// growing memory to cover both ranges.
func (m *Memory) Copy(dst, src, size uint64) error {
	if size == 0 {
		return nil
	}
	if err := m.resize(src, size); err != nil {
		return err
	}
	if err := m.resize(dst, size); err != nil {
		return err
	}
	copy(m.store[dst:dst+size], m.store[src:src+size])
	return nil
}
