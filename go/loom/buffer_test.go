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

import (
	"bytes"
	"errors"
	"testing"
)

func TestBuffer_OwnedBufferCopiesInput(t *testing.T) {
	data := []byte{1, 2, 3}
	buffer := NewBuffer(data)
	data[0] = 9
	if want, got := []byte{1, 2, 3}, buffer.Bytes(); !bytes.Equal(want, got) {
		t.Errorf("unexpected content, wanted %v, got %v", want, got)
	}
	if _, _, _, ok := buffer.Account(); ok {
		t.Errorf("owned buffer must not report an account window")
	}
}

func TestBuffer_GetOrDefaultPadsWithZeros(t *testing.T) {
	buffer := NewBuffer([]byte{1, 2})
	tests := map[uint64]byte{0: 1, 1: 2, 2: 0, 1 << 40: 0}
	for index, want := range tests {
		if got := buffer.GetOrDefault(index); want != got {
			t.Errorf("unexpected value at %d, wanted %d, got %d", index, want, got)
		}
	}
}

func TestBuffer_AccountWindowAliasesAccountData(t *testing.T) {
	key := Pubkey{1}
	data := []byte{0, 1, 2, 3, 4}
	buffer := BufferFromAccount(key, data, 1, 4)
	data[2] = 7
	if want, got := []byte{1, 7, 3}, buffer.Bytes(); !bytes.Equal(want, got) {
		t.Errorf("unexpected content, wanted %v, got %v", want, got)
	}
	gotKey, start, end, ok := buffer.Account()
	if !ok || gotKey != key || start != 1 || end != 4 {
		t.Errorf("unexpected window, got %v [%d,%d) %t", gotKey, start, end, ok)
	}
}

func TestBuffer_UnboundBufferPanicsOnAccess(t *testing.T) {
	buffer := UnboundBuffer(Pubkey{1}, 0, 2)
	if want, got := 2, buffer.Len(); want != got {
		t.Errorf("unexpected length, wanted %d, got %d", want, got)
	}
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrUnboundBuffer) {
			t.Errorf("expected panic with %v, got %v", ErrUnboundBuffer, r)
		}
	}()
	buffer.Bytes()
}

func TestBuffer_UnbindAndRebind(t *testing.T) {
	buffer := BufferFromAccount(Pubkey{1}, []byte{1, 2, 3}, 1, 3)
	buffer.Unbind()
	if buffer.IsBound() {
		t.Fatalf("buffer should be unbound")
	}
	if err := buffer.Rebind([]byte{4, 5}); err == nil {
		t.Errorf("rebinding to a shrunk account should fail")
	}
	if err := buffer.Rebind([]byte{4, 5, 6, 7}); err != nil {
		t.Fatalf("failed to rebind: %v", err)
	}
	if want, got := []byte{5, 6}, buffer.Bytes(); !bytes.Equal(want, got) {
		t.Errorf("unexpected content, wanted %v, got %v", want, got)
	}
}
