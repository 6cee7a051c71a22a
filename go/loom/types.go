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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address represents the 160-bit (20 bytes) address of an EVM account.
type Address [20]byte

// Pubkey is the 256-bit key of an account of the host ledger. EVM accounts,
// contracts and storage cells are backed by host accounts living at keys
// derived from their EVM address.
type Pubkey [32]byte

// Word represents an arbitrary 256-bit (32 byte) word in the EVM, e.g. the
// value of a storage slot.
type Word [32]byte

// Hash represents the 256-bit (32 bytes) hash of a code, a block, or a
// similar sequence of cryptographic summary information.
type Hash [32]byte

func (a Address) String() string {
	return fmt.Sprintf("0x%x", a[:])
}

func (a Address) MarshalText() ([]byte, error) {
	return bytesToText(a[:])
}

func (a *Address) UnmarshalText(data []byte) error {
	return textToBytes(a[:], data)
}

// ToGeth converts the address into the go-ethereum representation.
func (a Address) ToGeth() common.Address {
	return common.Address(a)
}

// AddressFromGeth converts a go-ethereum address.
func AddressFromGeth(a common.Address) Address {
	return Address(a)
}

func (k Pubkey) String() string {
	return fmt.Sprintf("0x%x", k[:])
}

func (k Pubkey) MarshalText() ([]byte, error) {
	return bytesToText(k[:])
}

func (k *Pubkey) UnmarshalText(data []byte) error {
	return textToBytes(k[:], data)
}

// Compare orders keys lexicographically. It is used wherever a deterministic
// iteration order over account keys is required.
func (k Pubkey) Compare(o Pubkey) int {
	return bytes.Compare(k[:], o[:])
}

func (w Word) String() string {
	return fmt.Sprintf("0x%x", w[:])
}

func (w Word) MarshalText() ([]byte, error) {
	return bytesToText(w[:])
}

func (w *Word) UnmarshalText(data []byte) error {
	return textToBytes(w[:], data)
}

func (h Hash) String() string {
	return fmt.Sprintf("0x%x", h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return bytesToText(h[:])
}

func (h *Hash) UnmarshalText(data []byte) error {
	return textToBytes(h[:], data)
}

func bytesToText(data []byte) ([]byte, error) {
	return []byte(fmt.Sprintf("0x%x", data)), nil
}

func textToBytes(trg []byte, data []byte) error {
	s := string(data)
	if !strings.HasPrefix(s, "0x") {
		return fmt.Errorf("invalid format, does not start with 0x: %v", s)
	}
	data, err := hex.DecodeString(s[2:])
	if err != nil {
		return err
	}
	if want, got := len(trg), len(data); want != got {
		return fmt.Errorf("invalid format, wanted %d bytes, got %d", want, got)
	}
	copy(trg[:], data)
	return nil
}
