// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package evm

import (
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

// MaxMemorySize bounds the memory of a single frame. Without gas metering
// the host heap is the limiting resource, accesses beyond this size fail.
const MaxMemorySize = 256 * 1024

// Memory is the byte-addressed scratch memory of a call frame. It grows in
// words of 32 bytes.
type Memory struct {
	store []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) length() uint64 {
	return uint64(len(m.store))
}

// Len returns the current size of the memory in bytes.
func (m *Memory) Len() int {
	return len(m.store)
}

// Bytes returns the memory content. The result aliases the memory.
func (m *Memory) Bytes() []byte {
	return m.store
}

// expand grows the memory to cover [offset, offset+size). A zero size never
// expands the memory, independently of the offset.
func (m *Memory) expand(offset, size uint64) error {
	if size == 0 {
		return nil
	}
	needed := offset + size
	if needed < offset || needed > MaxMemorySize {
		return &loom.MemoryAccessError{Offset: offset, Length: size}
	}
	if m.length() < needed {
		needed = (needed + 31) / 32 * 32
		m.store = append(m.store, make([]byte, needed-m.length())...)
	}
	return nil
}

// getSlice obtains a slice of size bytes from the memory at the given offset,
// expanding the memory as needed. The returned slice is backed by the
// memory and is invalidated by any subsequent expansion.
func (m *Memory) getSlice(offset, size uint64) ([]byte, error) {
	if err := m.expand(offset, size); err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	return m.store[offset : offset+size], nil
}

func (m *Memory) set(offset uint64, value []byte) error {
	trg, err := m.getSlice(offset, uint64(len(value)))
	if err != nil {
		return err
	}
	copy(trg, value)
	return nil
}

func (m *Memory) setWord(offset uint64, value *uint256.Int) error {
	trg, err := m.getSlice(offset, 32)
	if err != nil {
		return err
	}
	value.WriteToSlice(trg)
	return nil
}

func (m *Memory) readWord(offset uint64, target *uint256.Int) error {
	data, err := m.getSlice(offset, 32)
	if err != nil {
		return err
	}
	target.SetBytes32(data)
	return nil
}

// setPadded writes size bytes of source starting at sourceOffset to the
// memory, padding with zeros where source is too short.
func (m *Memory) setPadded(offset, size uint64, source []byte, sourceOffset uint64) error {
	trg, err := m.getSlice(offset, size)
	if err != nil {
		return err
	}
	covered := 0
	if sourceOffset < uint64(len(source)) {
		covered = copy(trg, source[sourceOffset:])
	}
	clear(trg[covered:])
	return nil
}

// toOffsetSize converts a memory range given by stack words. A zero size
// yields an empty range at offset zero, independently of the offset.
func toOffsetSize(offset, size *uint256.Int) (uint64, uint64, error) {
	if size.IsZero() {
		return 0, 0, nil
	}
	if !offset.IsUint64() || !size.IsUint64() {
		return 0, 0, &loom.MemoryAccessError{Offset: offset.Uint64(), Length: size.Uint64()}
	}
	return offset.Uint64(), size.Uint64(), nil
}
