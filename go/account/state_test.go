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
	"errors"
	"testing"

	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/interpreter/evm"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
	"go.uber.org/mock/gomock"
)

var testOrigin = loom.Address{0xaa}

func newTestStateAccount(t *testing.T) (*loom.OwnedAccount, *StateAccount) {
	t.Helper()
	tx := newTestTransaction(1)
	account := newTestHolder(t, tx)
	state, err := New(testProgramID, account, testOperator, tx, testOrigin, false)
	if err != nil {
		t.Fatalf("failed to create state account: %v", err)
	}
	return account, state
}

func TestStateAccount_FlushAndOpen(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockRevisionSource(ctrl)
	source.EXPECT().Revision(loom.Pubkey{1}).Return(CounterRevision(3), nil)
	source.EXPECT().Revision(loom.Pubkey{2}).Return(ContentRevision(loom.Pubkey{9}, 10, []byte{1}), nil)

	account, state := newTestStateAccount(t)
	if err := state.UpdateTouchedAccounts(source, map[loom.Pubkey]uint64{{1}: 2, {2}: 1}); err != nil {
		t.Fatalf("failed to update touched accounts: %v", err)
	}
	if _, err := state.UseGas(*uint256.NewInt(100)); err != nil {
		t.Fatalf("failed to use gas: %v", err)
	}
	if err := state.IncrementStepsExecuted(500); err != nil {
		t.Fatalf("failed to count steps: %v", err)
	}
	interrupted := &loom.InterruptedState{
		Instruction: loom.Instruction{ProgramID: loom.Pubkey{5}, Data: []byte{1}},
		Lamports:    3,
	}
	state.SetInterrupted(interrupted)
	state.MarkExternalCall()

	params := executor.BlockParams{Number: *uint256.NewInt(12), Timestamp: *uint256.NewInt(34)}
	if err := state.SaveExecution(executor.NewExecutorStateDataWithBlock(params), nil); err != nil {
		t.Fatalf("failed to save execution: %v", err)
	}
	if err := state.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	if account.Data[0] != TagState {
		t.Fatalf("unexpected tag %x", account.Data[0])
	}

	restored, err := Open(testProgramID, account)
	if err != nil {
		t.Fatalf("failed to open state account: %v", err)
	}
	data := restored.Data()
	if data.Origin != testOrigin || data.Owner != testOperator || data.Transaction.Hash != (loom.Hash{1}) {
		t.Errorf("unexpected identity: %v %v %v", data.Origin, data.Owner, data.Transaction.Hash)
	}
	if data.GasUsed.Uint64() != 100 || data.StepsExecuted != 500 || !data.ExternalCalls {
		t.Errorf("unexpected bookkeeping: gas %v, steps %d", data.GasUsed.Uint64(), data.StepsExecuted)
	}
	if data.Touched[loom.Pubkey{1}] != 2 || data.Touched[loom.Pubkey{2}] != 1 {
		t.Errorf("unexpected touched accounts: %v", data.Touched)
	}
	if data.Revisions[loom.Pubkey{1}] != CounterRevision(3) || data.Revisions[loom.Pubkey{2}].Kind != RevisionHash {
		t.Errorf("unexpected revisions: %v", data.Revisions)
	}
	if data.Interrupted == nil || data.Interrupted.Instruction.ProgramID != (loom.Pubkey{5}) || data.Interrupted.Lamports != 3 {
		t.Errorf("unexpected interrupted state: %+v", data.Interrupted)
	}

	stateData, err := restored.ExecutorState()
	if err != nil {
		t.Fatalf("failed to restore executor state: %v", err)
	}
	if stateData.BlockParams.Number.Uint64() != 12 {
		t.Errorf("unexpected block params %v", stateData.BlockParams)
	}
	if m, err := restored.Machine(evm.Config{}, nil); m != nil || err != nil {
		t.Errorf("unexpected machine %v, err %v", m, err)
	}
}

func TestStateAccount_FlushShrinksBlobsInPlace(t *testing.T) {
	account, state := newTestStateAccount(t)
	data := executor.NewExecutorStateDataWithBlock(executor.BlockParams{})
	if err := state.SaveExecution(data, nil); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := state.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	size := len(account.Data)

	state.Restart()
	if err := state.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	if len(account.Data) != size {
		t.Errorf("account resized from %d to %d", size, len(account.Data))
	}
	restored, err := Open(testProgramID, account)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if restored.HasExecution() {
		t.Errorf("execution survived restart")
	}
	if _, err := restored.ExecutorState(); !errors.Is(err, loom.ErrStateUninitialized) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStateAccount_CheckRevisionsIgnoresSingleTouches(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockRevisionSource(ctrl)
	source.EXPECT().Revision(loom.Pubkey{1}).Return(CounterRevision(1), nil)
	source.EXPECT().Revision(loom.Pubkey{2}).Return(CounterRevision(1), nil)

	_, state := newTestStateAccount(t)
	if err := state.UpdateTouchedAccounts(source, map[loom.Pubkey]uint64{{1}: 2, {2}: 1}); err != nil {
		t.Fatalf("failed to update: %v", err)
	}

	source.EXPECT().Revision(loom.Pubkey{1}).Return(CounterRevision(1), nil)
	if ok, err := state.CheckRevisions(source); !ok || err != nil {
		t.Errorf("unchanged accounts rejected: %v", err)
	}

	source.EXPECT().Revision(loom.Pubkey{1}).Return(CounterRevision(2), nil)
	if ok, err := state.CheckRevisions(source); ok || err != nil {
		t.Errorf("modified account not detected: %v", err)
	}
}

func TestStateAccount_RevisionsAreRecordedOnFirstTouch(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockRevisionSource(ctrl)
	source.EXPECT().Revision(loom.Pubkey{1}).Return(CounterRevision(4), nil)

	_, state := newTestStateAccount(t)
	for i := 0; i < 3; i++ {
		if err := state.UpdateTouchedAccounts(source, map[loom.Pubkey]uint64{{1}: 1}); err != nil {
			t.Fatalf("failed to update: %v", err)
		}
	}
	if got := state.Data().Touched[loom.Pubkey{1}]; got != 3 {
		t.Errorf("unexpected counter %d", got)
	}
}

func TestStateAccount_CheckTimestamps(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := NewMockRevisionSource(ctrl)
	source.EXPECT().TimestampMarker(loom.Address{1}).Return(uint64(10), nil).Times(2)
	source.EXPECT().TimestampMarker(loom.Address{2}).Return(uint64(11), nil).Times(2)

	_, state := newTestStateAccount(t)
	contracts := []loom.Address{{1}, {2}}
	if ok, err := state.CheckTimestamps(source, contracts, 11); !ok || err != nil {
		t.Errorf("markers of the current block rejected: %v", err)
	}
	if ok, err := state.CheckTimestamps(source, contracts, 10); ok || err != nil {
		t.Errorf("marker of a later block accepted: %v", err)
	}
}

func TestStateAccount_GasAccounting(t *testing.T) {
	_, state := newTestStateAccount(t)
	state.Transaction().PriorityFee = *uint256.NewInt(1)

	tokens, err := state.UseGas(*uint256.NewInt(300))
	if err != nil || tokens.Uint64() != 600 {
		t.Errorf("unexpected tokens %v, err %v", tokens.Uint64(), err)
	}
	priority, err := state.UsePriorityFee(*uint256.NewInt(300))
	if err != nil || priority.Uint64() != 300 {
		t.Errorf("unexpected priority fee %v, err %v", priority.Uint64(), err)
	}

	var oog *loom.OutOfGasError
	if _, err := state.UseGas(*uint256.NewInt(701)); !errors.As(err, &oog) || oog.Required.Uint64() != 1001 {
		t.Errorf("unexpected error: %v", err)
	}
	if state.Data().GasUsed.Uint64() != 300 {
		t.Errorf("failed use of gas changed used gas to %v", state.Data().GasUsed.Uint64())
	}

	refund, err := state.RefundUnusedGas()
	if err != nil {
		t.Fatalf("failed to refund: %v", err)
	}
	if want := uint64(700*2 + 700); refund.Uint64() != want {
		t.Errorf("unexpected refund, wanted %d, got %d", want, refund.Uint64())
	}
	if avail := state.GasAvailable(); !avail.IsZero() {
		t.Errorf("gas available after refund: %v", avail.Uint64())
	}
	if priority, _ := state.UsePriorityFee(*uint256.NewInt(10)); !priority.IsZero() {
		t.Errorf("priority fee charged beyond its limit: %v", priority.Uint64())
	}
}

func TestStateAccount_FinalizedAccountCanBeReused(t *testing.T) {
	account, state := newTestStateAccount(t)
	if err := state.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	state.Finalize()

	if _, err := Open(testProgramID, account); !errors.Is(err, loom.ErrTransactionFinalized) {
		t.Errorf("unexpected error opening finalized account: %v", err)
	}
	if _, err := New(testProgramID, account, testOperator, newTestTransaction(1), testOrigin, false); !errors.Is(err, loom.ErrTransactionFinalized) {
		t.Errorf("finished transaction started again: %v", err)
	}
	if _, err := New(testProgramID, account, loom.Pubkey{0x21}, newTestTransaction(2), testOrigin, false); err == nil {
		t.Errorf("account of other operator reused")
	}
	next, err := New(testProgramID, account, testOperator, newTestTransaction(2), testOrigin, false)
	if err != nil {
		t.Fatalf("failed to reuse finalized account: %v", err)
	}
	if err := next.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	if _, err := Open(testProgramID, account); err != nil {
		t.Errorf("failed to open reused account: %v", err)
	}
}

func TestStateAccount_OpenRejectsCorruptHeaders(t *testing.T) {
	account, state := newTestStateAccount(t)
	if err := state.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}

	version := *account.Clone()
	version.Data[1] = 7
	if _, err := Open(testProgramID, &version); !errors.Is(err, loom.ErrInvalidLayoutVersion) {
		t.Errorf("unexpected error for bad version: %v", err)
	}

	corrupt := *account.Clone()
	writeSection(corrupt.Data, offsetData, section{offset: uint64(len(corrupt.Data)), length: 1})
	if _, err := Open(testProgramID, &corrupt); err == nil {
		t.Errorf("section beyond account accepted")
	}

	var tagErr *loom.AccountInvalidTagError
	if _, err := Open(testProgramID, newTestHolder(t, nil)); !errors.As(err, &tagErr) {
		t.Errorf("holder opened as state account: %v", err)
	}
}
