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

// MaxCodeSize is the maximum size of deployed contract code (EIP-170).
const MaxCodeSize = 0x6000

// MaxInitCodeSize is the maximum size of init code (EIP-3860).
const MaxInitCodeSize = 2 * MaxCodeSize

// BlockHashWindow is the number of most recent blocks whose hashes are
// accessible to the EVM.
const BlockHashWindow = 256

// Database is the single boundary between the interpreter and persistent
// state. Two strategies implement it: a speculative one buffering all
// writes in an action log and a synced one writing through to the ledger.
//
// Snapshots are strictly nested. Reverting or committing without a matching
// Snapshot call is a fatal violation and panics.
type Database interface {
	ProgramID() Pubkey
	Operator() Pubkey
	DefaultChainID() uint64
	IsValidChainID(chainID uint64) bool
	// ContractChainID returns the chain a contract was deployed for, or the
	// default chain id for accounts without code.
	ContractChainID(address Address) (uint64, error)
	ContractPubkey(address Address) Pubkey

	Nonce(address Address, chainID uint64) (uint64, error)
	IncrementNonce(address Address, chainID uint64) error

	Balance(address Address, chainID uint64) (uint256.Int, error)
	Transfer(source, target Address, chainID uint64, value uint256.Int) error
	Burn(source Address, chainID uint64, value uint256.Int) error

	CodeSize(address Address) (int, error)
	Code(address Address) (Buffer, error)
	SetCode(address Address, chainID uint64, code []byte) error

	Storage(address Address, index uint256.Int) (Word, error)
	SetStorage(address Address, index uint256.Int, value Word) error
	TransientStorage(address Address, index uint256.Int) (Word, error)
	SetTransientStorage(address Address, index uint256.Int, value Word) error

	BlockHash(number uint256.Int) (Hash, error)
	// BlockNumber and BlockTimestamp record the observing contract, which
	// makes the current execution depend on the current block.
	BlockNumber(contract Address) (uint256.Int, error)
	BlockTimestamp(contract Address) (uint256.Int, error)

	// ReturnData is the return data of the last external instruction.
	ReturnData() []byte
	SetReturnData(data []byte)

	// ExternalAccount returns a copy of a host account, including the effects
	// of external instructions queued by the current transaction.
	ExternalAccount(key Pubkey) (*OwnedAccount, error)
	QueueExternalInstruction(instruction Instruction, seeds [][][]byte, fee uint64, emulated bool) error

	// PrecompileExtension runs host specific precompiles. The second result
	// is false if address is not an extension.
	PrecompileExtension(context *Context, address Address, input []byte, isStatic bool) ([]byte, bool, error)
	IsPrecompileExtension(address Address) bool

	Snapshot()
	RevertSnapshot() error
	CommitSnapshot()
}

// AccountExists follows EIP-161: an account exists if it has a non-zero
// nonce or a non-zero balance.
func AccountExists(db Database, address Address, chainID uint64) (bool, error) {
	nonce, err := db.Nonce(address, chainID)
	if err != nil || nonce > 0 {
		return nonce > 0, err
	}
	balance, err := db.Balance(address, chainID)
	if err != nil {
		return false, err
	}
	return !balance.IsZero(), nil
}

// CodeHash follows EIP-1052: the hash of the code, the hash of the empty
// code for existing accounts without code and zero otherwise.
func CodeHash(db Database, address Address, chainID uint64) (Hash, error) {
	code, err := db.Code(address)
	if err != nil {
		return Hash{}, err
	}
	if code.Len() > 0 {
		return Keccak256(code.Bytes()), nil
	}
	exists, err := AccountExists(db, address, chainID)
	if err != nil || !exists {
		return Hash{}, err
	}
	return EmptyCodeHash, nil
}
