// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package loom

import "fmt"

// Buffer is a read-only byte sequence used for code, call data and return
// data of an EVM frame. A Buffer either owns its bytes or is a window into
// the live data of a host account. A window is only valid within a single
// host instruction: after a Buffer has been restored from its serialized
// form it is unbound and has to be re-bound with Rebind before its bytes can
// be accessed.
type Buffer struct {
	data    []byte
	aliased bool
	bound   bool
	key     Pubkey
	start   int
	end     int
}

// NewBuffer creates a Buffer owning a copy of the given data.
func NewBuffer(data []byte) Buffer {
	return Buffer{data: append([]byte(nil), data...), bound: true}
}

// EmptyBuffer returns an owned buffer of length zero.
func EmptyBuffer() Buffer {
	return Buffer{bound: true}
}

// BufferFromAccount creates a window into the data of the account with the
// given key. The range [start, end) must be within accountData.
func BufferFromAccount(key Pubkey, accountData []byte, start, end int) Buffer {
	if start < 0 || end < start || end > len(accountData) {
		panic(fmt.Sprintf("invalid account buffer range [%d, %d) for data of length %d", start, end, len(accountData)))
	}
	return Buffer{
		data:    accountData[start:end:end],
		aliased: true,
		bound:   true,
		key:     key,
		start:   start,
		end:     end,
	}
}

// UnboundBuffer creates a window description that is not yet attached to
// any account data. It is used when restoring serialized frames.
func UnboundBuffer(key Pubkey, start, end int) Buffer {
	return Buffer{aliased: true, key: key, start: start, end: end}
}

// Len returns the number of bytes of the buffer. It is also available for
// unbound buffers.
func (b Buffer) Len() int {
	if b.aliased {
		return b.end - b.start
	}
	return len(b.data)
}

// Bytes provides the content of the buffer. The result must not be
// modified. Accessing an unbound buffer is an invariant violation.
func (b Buffer) Bytes() []byte {
	if !b.bound {
		panic(ErrUnboundBuffer)
	}
	return b.data
}

// GetOrDefault returns the byte at the given position or zero if the
// position is beyond the end of the buffer.
func (b Buffer) GetOrDefault(index uint64) byte {
	data := b.Bytes()
	if index < uint64(len(data)) {
		return data[index]
	}
	return 0
}

func (b Buffer) IsBound() bool {
	return b.bound
}

// Account returns the key and range of the account window, if the buffer
// is one.
func (b Buffer) Account() (key Pubkey, start, end int, ok bool) {
	if !b.aliased {
		return Pubkey{}, 0, 0, false
	}
	return b.key, b.start, b.end, true
}

// Rebind attaches an account window to the current data of its account.
func (b *Buffer) Rebind(accountData []byte) error {
	if !b.aliased {
		return nil
	}
	if b.end > len(accountData) {
		return fmt.Errorf("account %v shrank to %d bytes, buffer needs [%d, %d)", b.key, len(accountData), b.start, b.end)
	}
	b.data = accountData[b.start:b.end:b.end]
	b.bound = true
	return nil
}

// Unbind drops the reference to foreign account data, keeping only the
// window description.
func (b *Buffer) Unbind() {
	if b.aliased {
		b.data = nil
		b.bound = false
	}
}
