// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ledger

import (
	"encoding/binary"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

// Tags of the accounts maintained by the ledger.
const (
	TagBalance     byte = 0x3c
	TagContract    byte = 0x46
	TagStorageCell byte = 0x2d
	TagTree        byte = 0x48
)

const storageSeedVersion = 3

// All tagged accounts start with the tag followed by a revision counter
// that is incremented on every modification.
const (
	revisionOffset = 1
	bodyOffset     = revisionOffset + 4
)

// Balance accounts: address, chain id, nonce and balance.
const (
	balanceAddressOffset = bodyOffset
	balanceChainOffset   = balanceAddressOffset + 20
	balanceNonceOffset   = balanceChainOffset + 8
	balanceValueOffset   = balanceNonceOffset + 8
	balanceAccountSize   = balanceValueOffset + 32
)

// Contract accounts: address, chain id, timestamp marker, code length and
// the code itself.
const (
	contractAddressOffset = bodyOffset
	contractChainOffset   = contractAddressOffset + 20
	contractMarkerOffset  = contractChainOffset + 8
	contractCodeLenOffset = contractMarkerOffset + 8
	contractHeaderSize    = contractCodeLenOffset + 4
)

// Storage cells: a single word.
const (
	storageValueOffset = bodyOffset
	storageCellSize    = storageValueOffset + 32
)

func revision(data []byte) uint32 {
	return binary.LittleEndian.Uint32(data[revisionOffset:])
}

func setRevision(data []byte, revision uint32) {
	binary.LittleEndian.PutUint32(data[revisionOffset:], revision)
}

func incrementRevision(data []byte) {
	setRevision(data, revision(data)+1)
}

type balanceView []byte

func newBalanceAccount(address loom.Address, chainID uint64) balanceView {
	res := balanceView(make([]byte, balanceAccountSize))
	res[0] = TagBalance
	copy(res[balanceAddressOffset:], address[:])
	binary.LittleEndian.PutUint64(res[balanceChainOffset:], chainID)
	return res
}

func (b balanceView) nonce() uint64 {
	return binary.LittleEndian.Uint64(b[balanceNonceOffset:])
}

func (b balanceView) setNonce(nonce uint64) {
	binary.LittleEndian.PutUint64(b[balanceNonceOffset:], nonce)
}

func (b balanceView) balance() uint256.Int {
	var res uint256.Int
	res.SetBytes32(b[balanceValueOffset:balanceAccountSize])
	return res
}

func (b balanceView) setBalance(value *uint256.Int) {
	value.WriteToSlice(b[balanceValueOffset:balanceAccountSize])
}

type contractView []byte

func newContractAccount(address loom.Address, size int) contractView {
	res := contractView(make([]byte, max(size, contractHeaderSize)))
	res[0] = TagContract
	copy(res[contractAddressOffset:], address[:])
	return res
}

func (c contractView) chainID() uint64 {
	return binary.LittleEndian.Uint64(c[contractChainOffset:])
}

func (c contractView) marker() uint64 {
	return binary.LittleEndian.Uint64(c[contractMarkerOffset:])
}

func (c contractView) setMarker(block uint64) {
	binary.LittleEndian.PutUint64(c[contractMarkerOffset:], block)
}

func (c contractView) codeSize() int {
	return int(binary.LittleEndian.Uint32(c[contractCodeLenOffset:]))
}

// setCode requires the view to be large enough for the code.
func (c contractView) setCode(chainID uint64, code []byte) {
	binary.LittleEndian.PutUint64(c[contractChainOffset:], chainID)
	binary.LittleEndian.PutUint32(c[contractCodeLenOffset:], uint32(len(code)))
	copy(c[contractHeaderSize:], code)
}

func newStorageCell() []byte {
	res := make([]byte, storageCellSize)
	res[0] = TagStorageCell
	return res
}
