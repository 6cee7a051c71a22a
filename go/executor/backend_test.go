// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package executor

import (
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
)

const testChainID = 1

var (
	testProgramID = loom.Pubkey{0x10}
	testOperator  = loom.Pubkey{0x20}
)

type balanceKey struct {
	address loom.Address
	chainID uint64
}

type storageKey struct {
	address loom.Address
	index   uint256.Int
}

type testWorld struct {
	nonces   map[balanceKey]uint64
	balances map[balanceKey]uint256.Int
	code     map[loom.Address][]byte
	chains   map[loom.Address]uint64
	storage  map[storageKey]loom.Word
	external map[loom.Pubkey]*loom.OwnedAccount
}

func (w *testWorld) clone() *testWorld {
	res := &testWorld{
		nonces:   maps.Clone(w.nonces),
		balances: maps.Clone(w.balances),
		code:     maps.Clone(w.code),
		chains:   maps.Clone(w.chains),
		storage:  maps.Clone(w.storage),
		external: map[loom.Pubkey]*loom.OwnedAccount{},
	}
	for key, account := range w.external {
		res.external[key] = account.Clone()
	}
	return res
}

// testBackend is an in-memory SyncedAccountStorage keeping full copies of
// its world for snapshots.
type testBackend struct {
	world       *testWorld
	snapshots   []*testWorld
	block       BlockParams
	returnData  []byte
	deferred    map[loom.Pubkey]bool
	executed    []loom.Instruction
	blockHashes map[uint64]loom.Hash
}

func newTestBackend() *testBackend {
	res := &testBackend{
		world: &testWorld{
			nonces:   map[balanceKey]uint64{},
			balances: map[balanceKey]uint256.Int{},
			code:     map[loom.Address][]byte{},
			chains:   map[loom.Address]uint64{},
			storage:  map[storageKey]loom.Word{},
			external: map[loom.Pubkey]*loom.OwnedAccount{},
		},
		deferred:    map[loom.Pubkey]bool{},
		blockHashes: map[uint64]loom.Hash{},
	}
	res.block.Number.SetUint64(1000)
	res.block.Timestamp.SetUint64(1_700_000_000)
	res.world.external[testOperator] = &loom.OwnedAccount{Key: testOperator, Lamports: 1_000_000}
	return res
}

func (b *testBackend) setBalance(address loom.Address, value uint64) {
	b.world.balances[balanceKey{address, testChainID}] = *uint256.NewInt(value)
}

func (b *testBackend) setCode(address loom.Address, chainID uint64, code []byte) {
	b.world.code[address] = code
	b.world.chains[address] = chainID
}

func (b *testBackend) AccountData(key loom.Pubkey) ([]byte, error) {
	account, found := b.world.external[key]
	if !found {
		return nil, loom.ErrAccountNotFound
	}
	return account.Data, nil
}

func (b *testBackend) ProgramID() loom.Pubkey { return testProgramID }
func (b *testBackend) Operator() loom.Pubkey  { return testOperator }
func (b *testBackend) DefaultChainID() uint64 { return testChainID }
func (b *testBackend) IsValidChainID(chainID uint64) bool {
	return chainID == testChainID || chainID == 2
}

func (b *testBackend) ContractPubkey(address loom.Address) loom.Pubkey {
	return loom.Pubkey(loom.Keccak256([]byte("contract"), address[:]))
}

func (b *testBackend) BalancePubkey(address loom.Address, chainID uint64) loom.Pubkey {
	return loom.Pubkey(loom.Keccak256([]byte("balance"), address[:], []byte{byte(chainID)}))
}

func (b *testBackend) StoragePubkey(address loom.Address, index uint256.Int) loom.Pubkey {
	slot := index.Bytes32()
	return loom.Pubkey(loom.Keccak256([]byte("storage"), address[:], slot[:]))
}

func (b *testBackend) ContractChainID(address loom.Address) uint64 {
	if chainID, found := b.world.chains[address]; found {
		return chainID
	}
	return testChainID
}

func (b *testBackend) Nonce(address loom.Address, chainID uint64) uint64 {
	return b.world.nonces[balanceKey{address, chainID}]
}

func (b *testBackend) Balance(address loom.Address, chainID uint64) uint256.Int {
	return b.world.balances[balanceKey{address, chainID}]
}

func (b *testBackend) CodeSize(address loom.Address) int {
	return len(b.world.code[address])
}

func (b *testBackend) Code(address loom.Address) loom.Buffer {
	return loom.NewBuffer(b.world.code[address])
}

func (b *testBackend) Storage(address loom.Address, index uint256.Int) loom.Word {
	return b.world.storage[storageKey{address, index}]
}

func (b *testBackend) BlockHash(number uint64) loom.Hash {
	return b.blockHashes[number]
}

func (b *testBackend) BlockNumber() uint256.Int    { return b.block.Number }
func (b *testBackend) BlockTimestamp() uint256.Int { return b.block.Timestamp }

func (b *testBackend) ExternalAccount(key loom.Pubkey) (*loom.OwnedAccount, error) {
	if account, found := b.world.external[key]; found {
		return account.Clone(), nil
	}
	return &loom.OwnedAccount{Key: key, Owner: SystemProgramID}, nil
}

func (b *testBackend) IncrementNonce(address loom.Address, chainID uint64) error {
	b.world.nonces[balanceKey{address, chainID}]++
	return nil
}

func (b *testBackend) Transfer(source, target loom.Address, chainID uint64, value uint256.Int) error {
	if err := b.Burn(source, chainID, value); err != nil {
		return err
	}
	balance := b.world.balances[balanceKey{target, chainID}]
	b.world.balances[balanceKey{target, chainID}] = *balance.Add(&balance, &value)
	return nil
}

func (b *testBackend) Burn(source loom.Address, chainID uint64, value uint256.Int) error {
	balance := b.world.balances[balanceKey{source, chainID}]
	if balance.Lt(&value) {
		return &loom.InsufficientBalanceError{Address: source, ChainID: chainID, Required: value}
	}
	b.world.balances[balanceKey{source, chainID}] = *balance.Sub(&balance, &value)
	return nil
}

func (b *testBackend) SetCode(address loom.Address, chainID uint64, code []byte) error {
	b.setCode(address, chainID, code)
	return nil
}

func (b *testBackend) SetStorage(address loom.Address, index uint256.Int, value loom.Word) error {
	b.world.storage[storageKey{address, index}] = value
	return nil
}

func (b *testBackend) ExecuteExternalInstruction(instruction loom.Instruction, seeds [][][]byte, fee uint64, force bool) error {
	if b.deferred[instruction.ProgramID] && !force {
		return &loom.DeferredCallError{State: &loom.InterruptedState{Instruction: instruction, Seeds: seeds, Lamports: fee}}
	}
	b.executed = append(b.executed, instruction)
	b.returnData = append([]byte("done:"), instruction.Data...)
	return nil
}

func (b *testBackend) ReturnData() []byte        { return b.returnData }
func (b *testBackend) SetReturnData(data []byte) { b.returnData = data }

func (b *testBackend) Snapshot() {
	b.snapshots = append(b.snapshots, b.world.clone())
}

func (b *testBackend) RevertSnapshot() error {
	b.world = b.snapshots[len(b.snapshots)-1]
	b.snapshots = b.snapshots[:len(b.snapshots)-1]
	return nil
}

func (b *testBackend) CommitSnapshot() {
	b.snapshots = b.snapshots[:len(b.snapshots)-1]
}

var _ loom.SyncedAccountStorage = (*testBackend)(nil)
var _ loom.Database = (*ExecutorState)(nil)
var _ loom.Database = (*SyncedExecutorState)(nil)
