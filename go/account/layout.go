// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package account

import (
	"encoding/binary"
	"fmt"

	"github.com/Fantom-foundation/Loom/go/loom"
)

// Tags stored in the first byte of accounts handled by this package.
const (
	TagEmpty          byte = 0x00
	TagHolder         byte = 0x22
	TagState          byte = 0x33
	TagStateFinalized byte = 0x34
)

const headerVersion = 0

// dataLayoutVersion is the first byte of the serialized Data blob.
const dataLayoutVersion = 1

// The header of a state account: tag, version and the offsets and lengths
// of the three blobs stored in the heap.
const (
	offsetData    = 2
	offsetState   = offsetData + 16
	offsetMachine = offsetState + 16
	heapOffset    = offsetMachine + 16
)

// The header of holder and finalized accounts: tag, owner, transaction
// hash and the length of the stored transaction.
const (
	holderOwnerOffset  = 1
	holderHashOffset   = holderOwnerOffset + 32
	holderLengthOffset = holderHashOffset + 32
	holderHeaderSize   = holderLengthOffset + 8
)

// MaxAccountSize bounds the size of continuation and holder accounts.
const MaxAccountSize = 10 << 20

// Tag returns the tag of an account owned by programID.
func Tag(programID loom.Pubkey, account *loom.OwnedAccount) (byte, error) {
	if account.Owner != programID {
		return 0, fmt.Errorf("account %v is not owned by program %v", account.Key, programID)
	}
	if len(account.Data) == 0 {
		return TagEmpty, nil
	}
	return account.Data[0], nil
}

type section struct {
	offset uint64
	length uint64
}

func readSection(data []byte, at int) section {
	return section{
		offset: binary.LittleEndian.Uint64(data[at:]),
		length: binary.LittleEndian.Uint64(data[at+8:]),
	}
}

func writeSection(data []byte, at int, s section) {
	binary.LittleEndian.PutUint64(data[at:], s.offset)
	binary.LittleEndian.PutUint64(data[at+8:], s.length)
}

// slice returns the bytes of a section, checking that it is located within
// the heap of the account.
func (s section) slice(data []byte) ([]byte, error) {
	end := s.offset + s.length
	if s.offset < heapOffset || end < s.offset || end > uint64(len(data)) {
		return nil, fmt.Errorf("section [%d, %d) outside of account heap of size %d", s.offset, end, len(data))
	}
	return data[s.offset:end], nil
}
