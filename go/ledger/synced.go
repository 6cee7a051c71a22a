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
	"fmt"

	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ReturningProgram is an external program producing return data.
type ReturningProgram interface {
	loom.ExternalProgram
	ReturnData() []byte
}

type journalEntry struct {
	key     loom.Pubkey
	account *loom.OwnedAccount // < nil if the account did not exist
}

type snapshot struct {
	journal       int
	externalCalls uint64
}

// record saves the current version of an account before it is modified,
// as long as a snapshot is open.
func (l *Ledger) record(key loom.Pubkey) {
	if len(l.snapshots) == 0 {
		return
	}
	var previous *loom.OwnedAccount
	if account, found := l.accounts[key]; found {
		previous = account.Clone()
	}
	l.journal = append(l.journal, journalEntry{key: key, account: previous})
}

func (l *Ledger) Snapshot() {
	l.snapshots = append(l.snapshots, snapshot{journal: len(l.journal), externalCalls: l.externalCalls})
}

// RevertSnapshot restores all accounts modified since the last snapshot.
// Effects of external instructions can not be reverted; if one was executed
// since the snapshot, nothing is restored and an error is returned.
func (l *Ledger) RevertSnapshot() error {
	last := l.popSnapshot()
	if l.externalCalls != last.externalCalls {
		l.dropJournal()
		return loom.ErrRevertAfterExternalCall
	}
	l.restore(last)
	return nil
}

// DiscardSnapshot restores all accounts modified since the last snapshot,
// including those modified by external instructions. The host rolls back a
// failed invocation as a whole.
func (l *Ledger) DiscardSnapshot() {
	l.restore(l.popSnapshot())
}

func (l *Ledger) restore(last snapshot) {
	for i := len(l.journal) - 1; i >= last.journal; i-- {
		entry := l.journal[i]
		if entry.account == nil {
			delete(l.accounts, entry.key)
		} else {
			l.accounts[entry.key] = entry.account
		}
	}
	l.journal = l.journal[:last.journal]
	l.externalCalls = last.externalCalls
	l.dropJournal()
}

func (l *Ledger) CommitSnapshot() {
	l.popSnapshot()
	l.dropJournal()
}

// HasOpenSnapshots reports whether a synced execution is in progress.
func (l *Ledger) HasOpenSnapshots() bool {
	return len(l.snapshots) > 0
}

func (l *Ledger) popSnapshot() snapshot {
	if len(l.snapshots) == 0 {
		panic(loom.ErrInconsistentCallStack)
	}
	last := l.snapshots[len(l.snapshots)-1]
	l.snapshots = l.snapshots[:len(l.snapshots)-1]
	return last
}

func (l *Ledger) dropJournal() {
	if len(l.snapshots) == 0 {
		l.journal = l.journal[:0]
	}
}

// updateBalance applies update to the balance account, creating it if
// needed. Updates must not fail after modifying the view.
func (l *Ledger) updateBalance(address loom.Address, chainID uint64, update func(balanceView) error) error {
	key := l.BalancePubkey(address, chainID)
	data := l.tagged(key, TagBalance)
	if data == nil {
		if existing, found := l.accounts[key]; found {
			return &loom.AccountInvalidTagError{Key: key, Tag: existing.Data[0]}
		}
		data = newBalanceAccount(address, chainID)
		if err := update(balanceView(data)); err != nil {
			return err
		}
		incrementRevision(data)
		l.CreateAccount(key, l.config.ProgramID, 0, data)
		return nil
	}
	view := balanceView(slices.Clone(data))
	if err := update(view); err != nil {
		return err
	}
	incrementRevision(view)
	l.record(key)
	l.accounts[key].Data = view
	return nil
}

func (l *Ledger) IncrementNonce(address loom.Address, chainID uint64) error {
	return l.updateBalance(address, chainID, func(b balanceView) error {
		nonce := b.nonce()
		if nonce == ^uint64(0) {
			return fmt.Errorf("nonce of %v: %w", address, loom.ErrIntegerOverflow)
		}
		b.setNonce(nonce + 1)
		return nil
	})
}

func (l *Ledger) Transfer(source, target loom.Address, chainID uint64, value uint256.Int) error {
	if value.IsZero() || source == target {
		return nil
	}
	available := l.Balance(source, chainID)
	if available.Lt(&value) {
		return &loom.InsufficientBalanceError{Address: source, ChainID: chainID, Required: value}
	}
	if err := l.Mint(target, chainID, value); err != nil {
		return err
	}
	return l.Burn(source, chainID, value)
}

func (l *Ledger) Burn(source loom.Address, chainID uint64, value uint256.Int) error {
	if value.IsZero() {
		return nil
	}
	return l.updateBalance(source, chainID, func(b balanceView) error {
		balance := b.balance()
		if balance.Lt(&value) {
			return &loom.InsufficientBalanceError{Address: source, ChainID: chainID, Required: value}
		}
		balance.Sub(&balance, &value)
		b.setBalance(&balance)
		return nil
	})
}

// Mint credits value to the balance of address.
func (l *Ledger) Mint(address loom.Address, chainID uint64, value uint256.Int) error {
	if value.IsZero() {
		return nil
	}
	return l.updateBalance(address, chainID, func(b balanceView) error {
		balance := b.balance()
		if _, overflow := balance.AddOverflow(&balance, &value); overflow {
			return fmt.Errorf("balance of %v: %w", address, loom.ErrIntegerOverflow)
		}
		b.setBalance(&balance)
		return nil
	})
}

func (l *Ledger) SetCode(address loom.Address, chainID uint64, code []byte) error {
	return l.setCode(address, chainID, code, true)
}

// setCode stores code in the contract account. Unless grow is set, the
// account must have been allocated with sufficient size before.
func (l *Ledger) setCode(address loom.Address, chainID uint64, code []byte, grow bool) error {
	key := l.ContractPubkey(address)
	required := contractHeaderSize + len(code)
	data := l.tagged(key, TagContract)
	if data == nil {
		if existing, found := l.accounts[key]; found {
			return &loom.AccountInvalidTagError{Key: key, Tag: existing.Data[0]}
		}
	}
	if len(data) < required {
		if !grow {
			return fmt.Errorf("%w: contract %v needs %d bytes, has %d", loom.ErrSpaceAllocationFailure, address, required, len(data))
		}
		if data == nil {
			data = newContractAccount(address, required)
		} else {
			data = append(slices.Clone(data), make([]byte, required-len(data))...)
		}
	} else {
		data = slices.Clone(data)
	}
	view := contractView(data)
	view.setCode(chainID, code)
	incrementRevision(view)
	if _, found := l.accounts[key]; !found {
		l.CreateAccount(key, l.config.ProgramID, 0, view)
		return nil
	}
	l.record(key)
	l.accounts[key].Data = view
	return nil
}

func (l *Ledger) SetStorage(address loom.Address, index uint256.Int, value loom.Word) error {
	key := l.StoragePubkey(address, index)
	data := l.tagged(key, TagStorageCell)
	if data == nil {
		if existing, found := l.accounts[key]; found {
			return &loom.AccountInvalidTagError{Key: key, Tag: existing.Data[0]}
		}
		data = newStorageCell()
		copy(data[storageValueOffset:], value[:])
		incrementRevision(data)
		l.CreateAccount(key, l.config.ProgramID, 0, data)
		return nil
	}
	data = slices.Clone(data)
	copy(data[storageValueOffset:], value[:])
	incrementRevision(data)
	l.record(key)
	l.accounts[key].Data = data
	return nil
}

// ExecuteExternalInstruction runs an instruction of a registered program.
// Instructions of deferred programs are only executed if forced. The fee is
// moved from the operator to the account derived from the first seeds
// before the instruction runs.
func (l *Ledger) ExecuteExternalInstruction(instruction loom.Instruction, seeds [][][]byte, fee uint64, force bool) error {
	program, found := l.programs[instruction.ProgramID]
	if !found {
		return &loom.UnknownExternalProgramError{Program: instruction.ProgramID}
	}
	if _, deferred := l.deferred[instruction.ProgramID]; deferred && !force {
		l.log.Debug("External instruction deferred", "program", instruction.ProgramID)
		return &loom.DeferredCallError{State: &loom.InterruptedState{
			Instruction: instruction,
			Seeds:       seeds,
			Lamports:    fee,
		}}
	}
	if err := l.checkSignatures(instruction, seeds); err != nil {
		return err
	}

	accounts := map[loom.Pubkey]*loom.OwnedAccount{}
	writable := map[loom.Pubkey]bool{}
	load := func(key loom.Pubkey) (*loom.OwnedAccount, error) {
		if account, found := accounts[key]; found {
			return account, nil
		}
		account, err := l.ExternalAccount(key)
		if err != nil {
			return nil, err
		}
		accounts[key] = account
		return account, nil
	}
	for _, meta := range instruction.Accounts {
		account, err := load(meta.Key)
		if err != nil {
			return err
		}
		account.IsSigner = account.IsSigner || meta.IsSigner
		account.IsWritable = account.IsWritable && meta.IsWritable
		if meta.IsWritable {
			if account.Owner == l.config.ProgramID {
				return fmt.Errorf("account %v of the program is not writable by external instructions", meta.Key)
			}
			writable[meta.Key] = true
		}
	}

	if fee > 0 && len(seeds) > 0 {
		operator, err := load(l.config.Operator)
		if err != nil {
			return err
		}
		payee, err := load(Derive(l.config.ProgramID, seeds[0]))
		if err != nil {
			return err
		}
		if operator.Lamports < fee {
			return fmt.Errorf("operator can not pay fee of %d lamports: %w", fee, executor.ErrInsufficientFunds)
		}
		operator.Lamports -= fee
		payee.Lamports += fee
		writable[operator.Key] = true
		writable[payee.Key] = true
	}

	if err := program.Emulate(instruction, accounts); err != nil {
		return err
	}

	keys := maps.Keys(writable)
	slices.SortFunc(keys, loom.Pubkey.Compare)
	for _, key := range keys {
		account := accounts[key]
		account.IsSigner = false
		account.IsWritable = true
		l.record(key)
		l.accounts[key] = account
	}
	l.externalCalls++
	if returning, ok := program.(ReturningProgram); ok {
		l.SetReturnData(returning.ReturnData())
	}
	l.log.Trace("External instruction executed", "program", instruction.ProgramID, "accounts", len(accounts))
	return nil
}

func (l *Ledger) checkSignatures(instruction loom.Instruction, seeds [][][]byte) error {
	signed := map[loom.Pubkey]bool{l.config.Operator: true}
	for _, s := range seeds {
		signed[Derive(l.config.ProgramID, s)] = true
	}
	for _, meta := range instruction.Accounts {
		if meta.IsSigner && !signed[meta.Key] {
			return fmt.Errorf("missing signature of account %v", meta.Key)
		}
	}
	return nil
}
