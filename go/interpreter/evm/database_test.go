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
	"maps"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

type balanceKey struct {
	address loom.Address
	chainID uint64
}

type slotKey struct {
	address loom.Address
	index   uint256.Int
}

type memState struct {
	balances  map[balanceKey]uint256.Int
	nonces    map[balanceKey]uint64
	codes     map[loom.Address][]byte
	chains    map[loom.Address]uint64
	storage   map[slotKey]loom.Word
	transient map[slotKey]loom.Word
}

func (s *memState) clone() *memState {
	return &memState{
		balances:  maps.Clone(s.balances),
		nonces:    maps.Clone(s.nonces),
		codes:     maps.Clone(s.codes),
		chains:    maps.Clone(s.chains),
		storage:   maps.Clone(s.storage),
		transient: maps.Clone(s.transient),
	}
}

// memDatabase is a minimal Database keeping everything in maps. Snapshots
// are full copies of the state.
type memDatabase struct {
	state     *memState
	snapshots []*memState
}

func newMemDatabase() *memDatabase {
	return &memDatabase{state: &memState{
		balances:  map[balanceKey]uint256.Int{},
		nonces:    map[balanceKey]uint64{},
		codes:     map[loom.Address][]byte{},
		chains:    map[loom.Address]uint64{},
		storage:   map[slotKey]loom.Word{},
		transient: map[slotKey]loom.Word{},
	}}
}

const testChainID = 1

func (d *memDatabase) setBalance(address loom.Address, value uint64) {
	d.state.balances[balanceKey{address, testChainID}] = *uint256.NewInt(value)
}

func (d *memDatabase) balance(address loom.Address) uint64 {
	value := d.state.balances[balanceKey{address, testChainID}]
	return value.Uint64()
}

func (d *memDatabase) setCode(address loom.Address, code []byte) {
	d.state.codes[address] = code
	d.state.chains[address] = testChainID
}

func (d *memDatabase) ProgramID() loom.Pubkey        { return loom.Pubkey{0xee} }
func (d *memDatabase) Operator() loom.Pubkey         { return loom.Pubkey{0xaa} }
func (d *memDatabase) DefaultChainID() uint64        { return testChainID }
func (d *memDatabase) IsValidChainID(id uint64) bool { return id == testChainID }
func (d *memDatabase) ContractPubkey(a loom.Address) loom.Pubkey {
	var key loom.Pubkey
	copy(key[:], a[:])
	return key
}

func (d *memDatabase) ContractChainID(address loom.Address) (uint64, error) {
	if id, found := d.state.chains[address]; found {
		return id, nil
	}
	return 0, loom.ErrAccountNotFound
}

func (d *memDatabase) Nonce(address loom.Address, chainID uint64) (uint64, error) {
	return d.state.nonces[balanceKey{address, chainID}], nil
}

func (d *memDatabase) IncrementNonce(address loom.Address, chainID uint64) error {
	d.state.nonces[balanceKey{address, chainID}]++
	return nil
}

func (d *memDatabase) Balance(address loom.Address, chainID uint64) (uint256.Int, error) {
	return d.state.balances[balanceKey{address, chainID}], nil
}

func (d *memDatabase) Transfer(source, target loom.Address, chainID uint64, value uint256.Int) error {
	if value.IsZero() || source == target {
		return nil
	}
	from := d.state.balances[balanceKey{source, chainID}]
	if from.Lt(&value) {
		return &loom.InsufficientBalanceError{Address: source, ChainID: chainID, Required: value}
	}
	to := d.state.balances[balanceKey{target, chainID}]
	from.Sub(&from, &value)
	to.Add(&to, &value)
	d.state.balances[balanceKey{source, chainID}] = from
	d.state.balances[balanceKey{target, chainID}] = to
	return nil
}

func (d *memDatabase) Burn(source loom.Address, chainID uint64, value uint256.Int) error {
	from := d.state.balances[balanceKey{source, chainID}]
	from.Sub(&from, &value)
	d.state.balances[balanceKey{source, chainID}] = from
	return nil
}

func (d *memDatabase) CodeSize(address loom.Address) (int, error) {
	return len(d.state.codes[address]), nil
}

func (d *memDatabase) Code(address loom.Address) (loom.Buffer, error) {
	return loom.NewBuffer(d.state.codes[address]), nil
}

func (d *memDatabase) SetCode(address loom.Address, chainID uint64, code []byte) error {
	if len(code) > loom.MaxCodeSize {
		return &loom.ContractCodeSizeLimitError{Address: address, Size: len(code)}
	}
	d.state.codes[address] = code
	d.state.chains[address] = chainID
	return nil
}

func (d *memDatabase) Storage(address loom.Address, index uint256.Int) (loom.Word, error) {
	return d.state.storage[slotKey{address, index}], nil
}

func (d *memDatabase) SetStorage(address loom.Address, index uint256.Int, value loom.Word) error {
	d.state.storage[slotKey{address, index}] = value
	return nil
}

func (d *memDatabase) TransientStorage(address loom.Address, index uint256.Int) (loom.Word, error) {
	return d.state.transient[slotKey{address, index}], nil
}

func (d *memDatabase) SetTransientStorage(address loom.Address, index uint256.Int, value loom.Word) error {
	d.state.transient[slotKey{address, index}] = value
	return nil
}

func (d *memDatabase) BlockHash(number uint256.Int) (loom.Hash, error) {
	return loom.Hash{byte(number.Uint64())}, nil
}

func (d *memDatabase) BlockNumber(loom.Address) (uint256.Int, error) {
	return *uint256.NewInt(100), nil
}

func (d *memDatabase) BlockTimestamp(loom.Address) (uint256.Int, error) {
	return *uint256.NewInt(1000), nil
}

func (d *memDatabase) ReturnData() []byte        { return nil }
func (d *memDatabase) SetReturnData(data []byte) {}

func (d *memDatabase) ExternalAccount(key loom.Pubkey) (*loom.OwnedAccount, error) {
	return &loom.OwnedAccount{Key: key}, nil
}

func (d *memDatabase) QueueExternalInstruction(loom.Instruction, [][][]byte, uint64, bool) error {
	return loom.ErrUnavailableExternalCall
}

func (d *memDatabase) PrecompileExtension(*loom.Context, loom.Address, []byte, bool) ([]byte, bool, error) {
	return nil, false, nil
}

func (d *memDatabase) IsPrecompileExtension(loom.Address) bool {
	return false
}

func (d *memDatabase) Snapshot() {
	d.snapshots = append(d.snapshots, d.state.clone())
}

func (d *memDatabase) RevertSnapshot() error {
	d.state = d.snapshots[len(d.snapshots)-1]
	d.snapshots = d.snapshots[:len(d.snapshots)-1]
	return nil
}

func (d *memDatabase) CommitSnapshot() {
	d.snapshots = d.snapshots[:len(d.snapshots)-1]
}
