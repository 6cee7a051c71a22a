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
	"github.com/holiman/uint256"
)

// AccountDataSource provides live access to the data of host accounts. It is
// used to re-bind buffers aliasing account memory.
type AccountDataSource interface {
	AccountData(key Pubkey) ([]byte, error)
}

// AccountStorage is the read side of the host ledger. EVM entities are
// backed by host accounts whose keys are derived from EVM addresses.
type AccountStorage interface {
	AccountDataSource

	ProgramID() Pubkey
	Operator() Pubkey
	DefaultChainID() uint64
	IsValidChainID(chainID uint64) bool

	ContractPubkey(address Address) Pubkey
	BalancePubkey(address Address, chainID uint64) Pubkey
	StoragePubkey(address Address, index uint256.Int) Pubkey

	ContractChainID(address Address) uint64
	Nonce(address Address, chainID uint64) uint64
	Balance(address Address, chainID uint64) uint256.Int
	CodeSize(address Address) int
	// Code returns a buffer aliasing the data of the contract account.
	Code(address Address) Buffer
	Storage(address Address, index uint256.Int) Word

	BlockHash(number uint64) Hash
	BlockNumber() uint256.Int
	BlockTimestamp() uint256.Int

	ExternalAccount(key Pubkey) (*OwnedAccount, error)
}

// SyncedAccountStorage extends AccountStorage with immediate writes. It
// keeps its own journal to support nested snapshots.
type SyncedAccountStorage interface {
	AccountStorage

	IncrementNonce(address Address, chainID uint64) error
	Transfer(source, target Address, chainID uint64, value uint256.Int) error
	Burn(source Address, chainID uint64, value uint256.Int) error
	SetCode(address Address, chainID uint64, code []byte) error
	SetStorage(address Address, index uint256.Int, value Word) error

	// ExecuteExternalInstruction runs a host-native instruction. It fails
	// with a *DeferredCallError if the instruction must run in a separate
	// host invocation, unless force is set.
	ExecuteExternalInstruction(instruction Instruction, seeds [][][]byte, fee uint64, force bool) error
	ReturnData() []byte
	SetReturnData(data []byte)

	Snapshot()
	RevertSnapshot() error
	CommitSnapshot()
}
