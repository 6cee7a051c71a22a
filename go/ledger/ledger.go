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
	"fmt"

	"github.com/Fantom-foundation/Loom/go/account"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/exp/slices"
)

// SystemProgramID owns accounts not claimed by any other program.
var SystemProgramID = loom.Pubkey{}

// Ledger is an in-memory host ledger. It keeps host accounts by key and
// implements the account storage consumed by the executor states, along
// with the services needed to run transactions over several iterations.
// A Ledger is not safe for concurrent use.
type Ledger struct {
	config   Config
	chains   map[uint64]string
	accounts map[loom.Pubkey]*loom.OwnedAccount
	programs map[loom.Pubkey]loom.ExternalProgram
	deferred map[loom.Pubkey]struct{}
	hashes   map[uint64]loom.Hash

	journal       []journalEntry
	snapshots     []snapshot
	externalCalls uint64
	returnData    []byte

	log log.Logger
}

// New creates an empty ledger. The given programs can be invoked through
// external instructions.
func New(config Config, programs ...loom.ExternalProgram) *Ledger {
	res := &Ledger{
		config:   config,
		chains:   map[uint64]string{},
		accounts: map[loom.Pubkey]*loom.OwnedAccount{},
		programs: map[loom.Pubkey]loom.ExternalProgram{},
		deferred: map[loom.Pubkey]struct{}{},
		hashes:   map[uint64]loom.Hash{},
		log:      log.New("module", "ledger"),
	}
	for _, chain := range config.Chains {
		res.chains[chain.ID] = chain.Token
	}
	if _, found := res.chains[config.DefaultChainID]; !found {
		res.chains[config.DefaultChainID] = ""
	}
	for _, program := range programs {
		res.programs[program.ProgramID()] = program
	}
	return res
}

func (l *Ledger) Config() Config {
	return l.config
}

// DeferProgram makes instructions of the given program run in a separate
// host invocation, unless they are forced.
func (l *Ledger) DeferProgram(program loom.Pubkey) {
	l.deferred[program] = struct{}{}
}

// SetBlock advances the ledger to a new block.
func (l *Ledger) SetBlock(number, timestamp uint64) {
	l.config.BlockNumber = number
	l.config.BlockTimestamp = timestamp
}

// SetBlockHash overrides the hash reported for a block.
func (l *Ledger) SetBlockHash(number uint64, hash loom.Hash) {
	l.hashes[number] = hash
}

// Account returns the live host account with the given key.
func (l *Ledger) Account(key loom.Pubkey) (*loom.OwnedAccount, error) {
	res, found := l.accounts[key]
	if !found {
		return nil, fmt.Errorf("%w: %v", loom.ErrAccountNotFound, key)
	}
	return res, nil
}

// CreateAccount adds a host account, replacing an existing one.
func (l *Ledger) CreateAccount(key, owner loom.Pubkey, lamports uint64, data []byte) *loom.OwnedAccount {
	res := &loom.OwnedAccount{Key: key, Owner: owner, Lamports: lamports, Data: data, IsWritable: true}
	l.record(key)
	l.accounts[key] = res
	return res
}

// Keys lists all accounts in ascending order.
func (l *Ledger) Keys() []loom.Pubkey {
	res := make([]loom.Pubkey, 0, len(l.accounts))
	for key := range l.accounts {
		res = append(res, key)
	}
	slices.SortFunc(res, loom.Pubkey.Compare)
	return res
}

func (l *Ledger) AccountData(key loom.Pubkey) ([]byte, error) {
	res, err := l.Account(key)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// tagged returns the data of a program account with the given tag, or nil
// if there is no such account.
func (l *Ledger) tagged(key loom.Pubkey, tag byte) []byte {
	res, found := l.accounts[key]
	if !found || res.Owner != l.config.ProgramID || len(res.Data) == 0 || res.Data[0] != tag {
		return nil
	}
	return res.Data
}

func (l *Ledger) ProgramID() loom.Pubkey {
	return l.config.ProgramID
}

func (l *Ledger) Operator() loom.Pubkey {
	return l.config.Operator
}

// OperatorAddress is the EVM address credited with the gas paid by
// transactions.
func (l *Ledger) OperatorAddress() loom.Address {
	return l.config.OperatorAddress
}

func (l *Ledger) DefaultChainID() uint64 {
	return l.config.DefaultChainID
}

func (l *Ledger) IsValidChainID(chainID uint64) bool {
	_, found := l.chains[chainID]
	return found
}

func (l *Ledger) contract(address loom.Address) contractView {
	return contractView(l.tagged(l.ContractPubkey(address), TagContract))
}

func (l *Ledger) ContractChainID(address loom.Address) uint64 {
	contract := l.contract(address)
	if contract == nil || contract.codeSize() == 0 {
		return l.config.DefaultChainID
	}
	return contract.chainID()
}

func (l *Ledger) Nonce(address loom.Address, chainID uint64) uint64 {
	data := l.tagged(l.BalancePubkey(address, chainID), TagBalance)
	if data == nil {
		return 0
	}
	return balanceView(data).nonce()
}

func (l *Ledger) Balance(address loom.Address, chainID uint64) uint256.Int {
	data := l.tagged(l.BalancePubkey(address, chainID), TagBalance)
	if data == nil {
		return uint256.Int{}
	}
	return balanceView(data).balance()
}

func (l *Ledger) CodeSize(address loom.Address) int {
	contract := l.contract(address)
	if contract == nil {
		return 0
	}
	return contract.codeSize()
}

// Code returns a window into the contract account.
func (l *Ledger) Code(address loom.Address) loom.Buffer {
	contract := l.contract(address)
	if contract == nil || contract.codeSize() == 0 {
		return loom.EmptyBuffer()
	}
	return loom.BufferFromAccount(l.ContractPubkey(address), contract, contractHeaderSize, contractHeaderSize+contract.codeSize())
}

func (l *Ledger) Storage(address loom.Address, index uint256.Int) loom.Word {
	data := l.tagged(l.StoragePubkey(address, index), TagStorageCell)
	if data == nil {
		return loom.Word{}
	}
	return loom.Word(data[storageValueOffset:storageCellSize])
}

// BlockHash returns the hash set for the block, or a hash derived from the
// block number.
func (l *Ledger) BlockHash(number uint64) loom.Hash {
	if hash, found := l.hashes[number]; found {
		return hash
	}
	var buffer [8]byte
	binary.BigEndian.PutUint64(buffer[:], number)
	return loom.Keccak256([]byte("block"), buffer[:])
}

func (l *Ledger) BlockNumber() uint256.Int {
	return *uint256.NewInt(l.config.BlockNumber)
}

func (l *Ledger) BlockTimestamp() uint256.Int {
	return *uint256.NewInt(l.config.BlockTimestamp)
}

// ExternalAccount returns a copy of a host account. Missing accounts are
// reported as empty accounts of the system program.
func (l *Ledger) ExternalAccount(key loom.Pubkey) (*loom.OwnedAccount, error) {
	if res, found := l.accounts[key]; found {
		return res.Clone(), nil
	}
	return &loom.OwnedAccount{Key: key, Owner: SystemProgramID, IsWritable: true}, nil
}

// Revision fingerprints an account for the validation of continuations.
func (l *Ledger) Revision(key loom.Pubkey) (account.Revision, error) {
	res, found := l.accounts[key]
	if !found {
		return account.CounterRevision(0), nil
	}
	switch res.Owner {
	case l.config.ProgramID:
		if len(res.Data) >= bodyOffset {
			switch res.Data[0] {
			case TagBalance, TagContract, TagStorageCell, TagTree:
				return account.CounterRevision(revision(res.Data)), nil
			}
		}
		return account.CounterRevision(0), nil
	case SystemProgramID:
		return account.CounterRevision(0), nil
	}
	return account.ContentRevision(res.Owner, res.Lamports, res.Data), nil
}

// TimestampMarker is the last block in which a transaction depending on the
// block finished after using the contract.
func (l *Ledger) TimestampMarker(contract loom.Address) (uint64, error) {
	view := l.contract(contract)
	if view == nil {
		return 0, nil
	}
	return view.marker(), nil
}

// UpdateTimestampMarkers marks the contracts as used in the current block.
func (l *Ledger) UpdateTimestampMarkers(contracts []loom.Address) {
	for _, contract := range contracts {
		key := l.ContractPubkey(contract)
		if l.tagged(key, TagContract) == nil {
			continue
		}
		l.record(key)
		contractView(l.accounts[key].Data).setMarker(l.config.BlockNumber)
	}
}

func (l *Ledger) ReturnData() []byte {
	return l.returnData
}

func (l *Ledger) SetReturnData(data []byte) {
	l.returnData = slices.Clone(data)
}

// ExternalCallCount is the number of external instructions executed by
// the ledger so far.
func (l *Ledger) ExternalCallCount() uint64 {
	return l.externalCalls
}
