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
	"github.com/Fantom-foundation/Loom/go/interpreter/evm"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ExecutorState is the speculative Database. Reads start from the backend
// and are overlaid with the buffered action log, writes are appended to the
// log. Nothing becomes visible in the backend until the log is applied.
type ExecutorState struct {
	backend    loom.AccountStorage
	data       *ExecutorStateData
	programs   map[loom.Pubkey]loom.ExternalProgram
	returnData []byte
}

// NewExecutorState creates a speculative Database on top of backend. The
// system program is always available for emulation, additional programs
// may be given.
func NewExecutorState(backend loom.AccountStorage, data *ExecutorStateData, programs ...loom.ExternalProgram) *ExecutorState {
	res := &ExecutorState{
		backend:  backend,
		data:     data,
		programs: map[loom.Pubkey]loom.ExternalProgram{},
	}
	for _, program := range append([]loom.ExternalProgram{SystemProgram{}}, programs...) {
		res.programs[program.ProgramID()] = program
	}
	return res
}

// Data returns the persistent part of the state.
func (s *ExecutorState) Data() *ExecutorStateData {
	return s.data
}

func (s *ExecutorState) touchBalance(address loom.Address, chainID uint64) {
	s.data.touch(s.backend.BalancePubkey(address, chainID), 2)
}

func (s *ExecutorState) touchBalanceIndirect(address loom.Address, chainID uint64) {
	s.data.touch(s.backend.BalancePubkey(address, chainID), 1)
}

func (s *ExecutorState) touchContract(address loom.Address) {
	s.data.touch(s.backend.ContractPubkey(address), 2)
}

func (s *ExecutorState) touchStorage(address loom.Address, index uint256.Int) {
	s.data.touch(s.backend.StoragePubkey(address, index), 2)
}

func (s *ExecutorState) touchExternal(key loom.Pubkey) {
	s.data.touch(key, 2)
}

func (s *ExecutorState) ProgramID() loom.Pubkey {
	return s.backend.ProgramID()
}

func (s *ExecutorState) Operator() loom.Pubkey {
	return s.backend.Operator()
}

func (s *ExecutorState) DefaultChainID() uint64 {
	return s.backend.DefaultChainID()
}

func (s *ExecutorState) IsValidChainID(chainID uint64) bool {
	return s.backend.IsValidChainID(chainID)
}

func (s *ExecutorState) ContractPubkey(address loom.Address) loom.Pubkey {
	return s.backend.ContractPubkey(address)
}

func (s *ExecutorState) ContractChainID(address loom.Address) (uint64, error) {
	if IsExtension(address) || evm.IsPrecompile(address) {
		return s.DefaultChainID(), nil
	}
	s.touchContract(address)
	for i := len(s.data.actions) - 1; i >= 0; i-- {
		action := &s.data.actions[i]
		if action.Kind == ActionSetCode && action.Target == address {
			return action.ChainID, nil
		}
	}
	return s.backend.ContractChainID(address), nil
}

func (s *ExecutorState) Nonce(address loom.Address, chainID uint64) (uint64, error) {
	nonce := s.backend.Nonce(address, chainID)
	for i := range s.data.actions {
		action := &s.data.actions[i]
		if action.Kind == ActionIncrementNonce && action.Target == address && action.ChainID == chainID {
			if nonce == ^uint64(0) {
				return 0, loom.ErrIntegerOverflow
			}
			nonce++
		}
	}
	return nonce, nil
}

func (s *ExecutorState) IncrementNonce(address loom.Address, chainID uint64) error {
	s.data.actions = append(s.data.actions, IncrementNonce(address, chainID))
	return nil
}

func (s *ExecutorState) Balance(address loom.Address, chainID uint64) (uint256.Int, error) {
	s.touchBalance(address, chainID)
	return s.balance(address, chainID)
}

// balance replays all buffered transfers and burns of the account in the
// order they were recorded.
func (s *ExecutorState) balance(address loom.Address, chainID uint64) (uint256.Int, error) {
	balance := s.backend.Balance(address, chainID)
	for i := range s.data.actions {
		action := &s.data.actions[i]
		if action.ChainID != chainID {
			continue
		}
		switch action.Kind {
		case ActionTransfer:
			if action.Source == address {
				if _, overflow := balance.SubOverflow(&balance, &action.Value); overflow {
					return balance, loom.ErrIntegerOverflow
				}
			}
			if action.Target == address {
				if _, overflow := balance.AddOverflow(&balance, &action.Value); overflow {
					return balance, loom.ErrIntegerOverflow
				}
			}
		case ActionBurn:
			if action.Source == address {
				if _, overflow := balance.SubOverflow(&balance, &action.Value); overflow {
					return balance, loom.ErrIntegerOverflow
				}
			}
		}
	}
	return balance, nil
}

func (s *ExecutorState) Transfer(source, target loom.Address, chainID uint64, value uint256.Int) error {
	if value.IsZero() {
		return nil
	}
	if err := checkTransferTarget(s, source, target, chainID); err != nil {
		return err
	}
	if source == target {
		return nil
	}

	s.touchBalanceIndirect(source, chainID)
	balance, err := s.balance(source, chainID)
	if err != nil {
		return err
	}
	if balance.Lt(&value) {
		return &loom.InsufficientBalanceError{Address: source, ChainID: chainID, Required: value}
	}
	s.data.actions = append(s.data.actions, Transfer(source, target, chainID, value))
	return nil
}

func (s *ExecutorState) Burn(source loom.Address, chainID uint64, value uint256.Int) error {
	s.touchBalanceIndirect(source, chainID)
	balance, err := s.balance(source, chainID)
	if err != nil {
		return err
	}
	if balance.Lt(&value) {
		return &loom.InsufficientBalanceError{Address: source, ChainID: chainID, Required: value}
	}
	s.data.actions = append(s.data.actions, Burn(source, chainID, value))
	return nil
}

func (s *ExecutorState) CodeSize(address loom.Address) (int, error) {
	if IsExtension(address) {
		return 1, nil
	}
	if evm.IsPrecompile(address) {
		return 0, nil
	}
	s.touchContract(address)
	for i := len(s.data.actions) - 1; i >= 0; i-- {
		action := &s.data.actions[i]
		if action.Kind == ActionSetCode && action.Target == address {
			return len(action.Code), nil
		}
	}
	return s.backend.CodeSize(address), nil
}

func (s *ExecutorState) Code(address loom.Address) (loom.Buffer, error) {
	if IsExtension(address) {
		return loom.NewBuffer(extensionCode), nil
	}
	if evm.IsPrecompile(address) {
		return loom.EmptyBuffer(), nil
	}
	s.touchContract(address)
	for i := len(s.data.actions) - 1; i >= 0; i-- {
		action := &s.data.actions[i]
		if action.Kind == ActionSetCode && action.Target == address {
			return loom.NewBuffer(action.Code), nil
		}
	}
	return s.backend.Code(address), nil
}

func (s *ExecutorState) SetCode(address loom.Address, chainID uint64, code []byte) error {
	if err := checkCode(address, code); err != nil {
		return err
	}
	s.data.actions = append(s.data.actions, SetCode(address, chainID, slices.Clone(code)))
	return nil
}

func (s *ExecutorState) Storage(address loom.Address, index uint256.Int) (loom.Word, error) {
	s.touchStorage(address, index)
	for i := len(s.data.actions) - 1; i >= 0; i-- {
		action := &s.data.actions[i]
		if action.Kind == ActionSetStorage && action.Target == address && action.Index.Eq(&index) {
			return action.Word, nil
		}
	}
	return s.backend.Storage(address, index), nil
}

func (s *ExecutorState) SetStorage(address loom.Address, index uint256.Int, value loom.Word) error {
	s.data.actions = append(s.data.actions, SetStorage(address, index, value))
	return nil
}

func (s *ExecutorState) TransientStorage(address loom.Address, index uint256.Int) (loom.Word, error) {
	return transientStorage(s.data.actions, address, index), nil
}

func (s *ExecutorState) SetTransientStorage(address loom.Address, index uint256.Int, value loom.Word) error {
	s.data.actions = append(s.data.actions, SetTransientStorage(address, index, value))
	return nil
}

func (s *ExecutorState) BlockHash(number uint256.Int) (loom.Hash, error) {
	return blockHash(s.backend, &number, &s.data.BlockParams.Number), nil
}

func (s *ExecutorState) BlockNumber(contract loom.Address) (uint256.Int, error) {
	s.data.markTimestamped(contract)
	return s.data.BlockParams.Number, nil
}

func (s *ExecutorState) BlockTimestamp(contract loom.Address) (uint256.Int, error) {
	s.data.markTimestamped(contract)
	return s.data.BlockParams.Timestamp, nil
}

func (s *ExecutorState) ReturnData() []byte {
	return s.returnData
}

func (s *ExecutorState) SetReturnData(data []byte) {
	s.returnData = slices.Clone(data)
}

// ExternalAccount returns a copy of a host account. If buffered
// instructions modify the account, they are replayed on copies of all
// accounts they involve.
func (s *ExecutorState) ExternalAccount(key loom.Pubkey) (*loom.OwnedAccount, error) {
	s.touchExternal(key)

	modified := false
	for i := range s.data.actions {
		if s.data.actions[i].Writes(key) {
			modified = true
			break
		}
	}
	if !modified {
		return s.backend.ExternalAccount(key)
	}

	accounts := map[loom.Pubkey]*loom.OwnedAccount{}
	for i := range s.data.actions {
		action := &s.data.actions[i]
		if action.Kind != ActionExternalInstruction {
			continue
		}
		for _, meta := range action.Instruction.Accounts {
			if _, found := accounts[meta.Key]; found {
				continue
			}
			s.touchExternal(meta.Key)
			account, err := s.backend.ExternalAccount(meta.Key)
			if err != nil {
				return nil, err
			}
			accounts[meta.Key] = account
		}
	}

	for i := range s.data.actions {
		action := &s.data.actions[i]
		if action.Kind != ActionExternalInstruction {
			continue
		}
		program, found := s.programs[action.Instruction.ProgramID]
		if !found {
			return nil, &loom.UnknownExternalProgramError{Program: action.Instruction.ProgramID}
		}
		if err := program.Emulate(action.Instruction, accounts); err != nil {
			return nil, err
		}
	}
	return accounts[key].Clone(), nil
}

// QueueExternalInstruction buffers an instruction. Only instructions of
// programs that can be emulated are accepted, all others require the
// synced Database.
func (s *ExecutorState) QueueExternalInstruction(instruction loom.Instruction, seeds [][][]byte, fee uint64, emulated bool) error {
	if !emulated {
		return loom.ErrUnavailableExternalCall
	}
	if _, found := s.programs[instruction.ProgramID]; !found {
		return &loom.UnknownExternalProgramError{Program: instruction.ProgramID}
	}
	s.data.actions = append(s.data.actions, ExternalInstruction(instruction, seeds, fee, emulated))
	return nil
}

func (s *ExecutorState) PrecompileExtension(context *loom.Context, address loom.Address, input []byte, isStatic bool) ([]byte, bool, error) {
	return callExtension(s, context, address, input, isStatic)
}

func (s *ExecutorState) IsPrecompileExtension(address loom.Address) bool {
	return IsExtension(address)
}

func (s *ExecutorState) Snapshot() {
	s.data.checkpoints = append(s.data.checkpoints, len(s.data.actions))
}

func (s *ExecutorState) RevertSnapshot() error {
	length := s.popCheckpoint()
	s.data.actions = s.data.actions[:length]
	if len(s.data.checkpoints) == 0 && len(s.data.actions) != 0 {
		panic(loom.ErrInconsistentCallStack)
	}
	return nil
}

func (s *ExecutorState) CommitSnapshot() {
	s.popCheckpoint()
}

func (s *ExecutorState) popCheckpoint() int {
	checkpoints := s.data.checkpoints
	if len(checkpoints) == 0 {
		panic(loom.ErrInconsistentCallStack)
	}
	res := checkpoints[len(checkpoints)-1]
	s.data.checkpoints = checkpoints[:len(checkpoints)-1]
	return res
}

// TouchedAccounts returns the keys of all accounts accessed since the last
// Deconstruct, ordered by key.
func (s *ExecutorState) TouchedAccounts() []loom.Pubkey {
	res := maps.Keys(s.data.touched)
	slices.SortFunc(res, loom.Pubkey.Compare)
	return res
}

// checkTransferTarget rejects value sent to a contract of another chain.
func checkTransferTarget(db loom.Database, source, target loom.Address, chainID uint64) error {
	size, err := db.CodeSize(target)
	if err != nil || size == 0 {
		return err
	}
	targetChainID, err := db.ContractChainID(target)
	if err != nil {
		targetChainID = chainID
	}
	if targetChainID != chainID {
		return &loom.InvalidTransferTokenError{Address: source, ChainID: chainID}
	}
	return nil
}

func checkCode(address loom.Address, code []byte) error {
	if len(code) > 0 && code[0] == 0xEF {
		return &loom.ObjectFormatError{Address: address}
	}
	if len(code) > loom.MaxCodeSize {
		return &loom.ContractCodeSizeLimitError{Address: address, Size: len(code)}
	}
	return nil
}

func transientStorage(log []Action, address loom.Address, index uint256.Int) loom.Word {
	for i := len(log) - 1; i >= 0; i-- {
		action := &log[i]
		if action.Kind == ActionSetTransientStorage && action.Target == address && action.Index.Eq(&index) {
			return action.Word
		}
	}
	return loom.Word{}
}

// blockHash returns the hash of one of the BlockHashWindow blocks preceding
// current, and zero for all other numbers.
func blockHash(backend loom.AccountStorage, number, current *uint256.Int) loom.Hash {
	if !number.IsUint64() || number.Uint64() == ^uint64(0) {
		return loom.Hash{}
	}
	n, slot := number.Uint64(), current.Uint64()
	lower := uint64(0)
	if slot > loom.BlockHashWindow {
		lower = slot - loom.BlockHashWindow
	}
	if n >= slot || n < lower {
		return loom.Hash{}
	}
	return backend.BlockHash(n)
}
