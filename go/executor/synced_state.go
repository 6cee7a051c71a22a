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
)

// SyncedExecutorState is the direct Database. All mutations are written
// through to the backend immediately and snapshots are delegated to it.
// Only transient storage is kept in a local log, which is stored in the
// action log of the state data.
type SyncedExecutorState struct {
	backend loom.SyncedAccountStorage
	data    *ExecutorStateData
}

func NewSyncedExecutorState(backend loom.SyncedAccountStorage, data *ExecutorStateData) *SyncedExecutorState {
	return &SyncedExecutorState{backend: backend, data: data}
}

func (s *SyncedExecutorState) Data() *ExecutorStateData {
	return s.data
}

func (s *SyncedExecutorState) ProgramID() loom.Pubkey {
	return s.backend.ProgramID()
}

func (s *SyncedExecutorState) Operator() loom.Pubkey {
	return s.backend.Operator()
}

func (s *SyncedExecutorState) DefaultChainID() uint64 {
	return s.backend.DefaultChainID()
}

func (s *SyncedExecutorState) IsValidChainID(chainID uint64) bool {
	return s.backend.IsValidChainID(chainID)
}

func (s *SyncedExecutorState) ContractPubkey(address loom.Address) loom.Pubkey {
	return s.backend.ContractPubkey(address)
}

func (s *SyncedExecutorState) ContractChainID(address loom.Address) (uint64, error) {
	if IsExtension(address) {
		return s.DefaultChainID(), nil
	}
	return s.backend.ContractChainID(address), nil
}

func (s *SyncedExecutorState) Nonce(address loom.Address, chainID uint64) (uint64, error) {
	return s.backend.Nonce(address, chainID), nil
}

func (s *SyncedExecutorState) IncrementNonce(address loom.Address, chainID uint64) error {
	return s.backend.IncrementNonce(address, chainID)
}

func (s *SyncedExecutorState) Balance(address loom.Address, chainID uint64) (uint256.Int, error) {
	return s.backend.Balance(address, chainID), nil
}

func (s *SyncedExecutorState) Transfer(source, target loom.Address, chainID uint64, value uint256.Int) error {
	if value.IsZero() {
		return nil
	}
	if err := checkTransferTarget(s, source, target, chainID); err != nil {
		return err
	}
	if source == target {
		return nil
	}
	if balance := s.backend.Balance(source, chainID); balance.Lt(&value) {
		return &loom.InsufficientBalanceError{Address: source, ChainID: chainID, Required: value}
	}
	return s.backend.Transfer(source, target, chainID, value)
}

func (s *SyncedExecutorState) Burn(source loom.Address, chainID uint64, value uint256.Int) error {
	return s.backend.Burn(source, chainID, value)
}

func (s *SyncedExecutorState) CodeSize(address loom.Address) (int, error) {
	if IsExtension(address) {
		return 1, nil
	}
	return s.backend.CodeSize(address), nil
}

func (s *SyncedExecutorState) Code(address loom.Address) (loom.Buffer, error) {
	if IsExtension(address) {
		return loom.NewBuffer(extensionCode), nil
	}
	return s.backend.Code(address), nil
}

func (s *SyncedExecutorState) SetCode(address loom.Address, chainID uint64, code []byte) error {
	if err := checkCode(address, code); err != nil {
		return err
	}
	return s.backend.SetCode(address, chainID, code)
}

func (s *SyncedExecutorState) Storage(address loom.Address, index uint256.Int) (loom.Word, error) {
	return s.backend.Storage(address, index), nil
}

func (s *SyncedExecutorState) SetStorage(address loom.Address, index uint256.Int, value loom.Word) error {
	return s.backend.SetStorage(address, index, value)
}

func (s *SyncedExecutorState) TransientStorage(address loom.Address, index uint256.Int) (loom.Word, error) {
	return transientStorage(s.data.actions, address, index), nil
}

func (s *SyncedExecutorState) SetTransientStorage(address loom.Address, index uint256.Int, value loom.Word) error {
	s.data.actions = append(s.data.actions, SetTransientStorage(address, index, value))
	return nil
}

func (s *SyncedExecutorState) BlockHash(number uint256.Int) (loom.Hash, error) {
	current := s.backend.BlockNumber()
	return blockHash(s.backend, &number, &current), nil
}

func (s *SyncedExecutorState) BlockNumber(contract loom.Address) (uint256.Int, error) {
	s.data.markTimestamped(contract)
	return s.backend.BlockNumber(), nil
}

func (s *SyncedExecutorState) BlockTimestamp(contract loom.Address) (uint256.Int, error) {
	s.data.markTimestamped(contract)
	return s.backend.BlockTimestamp(), nil
}

func (s *SyncedExecutorState) ReturnData() []byte {
	return s.backend.ReturnData()
}

func (s *SyncedExecutorState) SetReturnData(data []byte) {
	s.backend.SetReturnData(data)
}

func (s *SyncedExecutorState) ExternalAccount(key loom.Pubkey) (*loom.OwnedAccount, error) {
	return s.backend.ExternalAccount(key)
}

// QueueExternalInstruction executes the instruction right away. If the
// backend defers it to a separate invocation, the returned
// *loom.DeferredCallError interrupts the execution.
func (s *SyncedExecutorState) QueueExternalInstruction(instruction loom.Instruction, seeds [][][]byte, fee uint64, _ bool) error {
	return s.backend.ExecuteExternalInstruction(instruction, seeds, fee, false)
}

func (s *SyncedExecutorState) PrecompileExtension(context *loom.Context, address loom.Address, input []byte, isStatic bool) ([]byte, bool, error) {
	return callExtension(s, context, address, input, isStatic)
}

func (s *SyncedExecutorState) IsPrecompileExtension(address loom.Address) bool {
	return IsExtension(address)
}

func (s *SyncedExecutorState) Snapshot() {
	s.data.checkpoints = append(s.data.checkpoints, len(s.data.actions))
	s.backend.Snapshot()
}

func (s *SyncedExecutorState) RevertSnapshot() error {
	checkpoints := s.data.checkpoints
	if len(checkpoints) == 0 {
		panic(loom.ErrInconsistentCallStack)
	}
	s.data.actions = s.data.actions[:checkpoints[len(checkpoints)-1]]
	s.data.checkpoints = checkpoints[:len(checkpoints)-1]
	return s.backend.RevertSnapshot()
}

func (s *SyncedExecutorState) CommitSnapshot() {
	checkpoints := s.data.checkpoints
	if len(checkpoints) == 0 {
		panic(loom.ErrInconsistentCallStack)
	}
	s.data.checkpoints = checkpoints[:len(checkpoints)-1]
	s.backend.CommitSnapshot()
}
