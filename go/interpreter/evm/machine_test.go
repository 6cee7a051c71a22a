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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/mock/gomock"
)

var (
	origin   = loom.Address{0x01}
	contract = loom.Address{0x0c}
	callee   = loom.Address{0x0d}
)

// asm assembles code from opcodes, bytes and addresses.
func asm(parts ...any) []byte {
	var res []byte
	for _, part := range parts {
		switch v := part.(type) {
		case OpCode:
			res = append(res, byte(v))
		case int:
			res = append(res, byte(v))
		case []byte:
			res = append(res, v...)
		case loom.Address:
			res = append(res, v[:]...)
		default:
			panic("unsupported code part")
		}
	}
	return res
}

// returnTop stores the top of the stack at memory[0:32] and returns it.
var returnTop = asm(PUSH1, 0, MSTORE, PUSH1, 32, PUSH1, 0, RETURN)

func word(value uint64) []byte {
	res := uint256.NewInt(value).Bytes32()
	return res[:]
}

func callTx(target loom.Address, value uint64) *loom.Transaction {
	tx := &loom.Transaction{Target: &target}
	tx.Value.SetUint64(value)
	tx.GasLimit.SetUint64(1_000_000)
	return tx
}

func run(t *testing.T, db *memDatabase, tx *loom.Transaction) (loom.ExitStatus, uint64) {
	t.Helper()
	m, err := New(tx, origin, db, Config{})
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}
	status, steps, err := m.Execute(1_000_000, db)
	if err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	return status, steps
}

func TestMachine_ComputesAndReturnsResult(t *testing.T) {
	db := newMemDatabase()
	db.setCode(contract, asm(PUSH1, 2, PUSH1, 3, ADD, returnTop))
	status, steps := run(t, db, callTx(contract, 0))
	if status.Kind != loom.ExitReturn || !bytes.Equal(status.Data, word(5)) {
		t.Errorf("unexpected result, got %v %x", status.Kind, status.Data)
	}
	if want, got := uint64(8), steps; want != got {
		t.Errorf("unexpected number of steps, wanted %d, got %d", want, got)
	}
}

func TestMachine_StepLimitCanBeResumed(t *testing.T) {
	db := newMemDatabase()
	db.setCode(contract, asm(PUSH1, 2, PUSH1, 3, ADD, returnTop))
	m, err := New(callTx(contract, 0), origin, db, Config{})
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}
	status, steps, err := m.Execute(3, db)
	if err != nil || status.Kind != loom.ExitStepLimit || steps != 3 {
		t.Fatalf("expected step limit after 3 steps, got %v, %d, %v", status.Kind, steps, err)
	}
	status, steps, err = m.Execute(100, db)
	if err != nil || status.Kind != loom.ExitReturn || steps != 5 {
		t.Fatalf("expected return after 5 more steps, got %v, %d, %v", status.Kind, steps, err)
	}
	if !bytes.Equal(status.Data, word(5)) {
		t.Errorf("unexpected result %x", status.Data)
	}
	again, steps, err := m.Execute(100, db)
	if err != nil || steps != 0 || again.Kind != loom.ExitReturn {
		t.Errorf("terminated machine should report its final status, got %v, %d, %v", again.Kind, steps, err)
	}
}

func TestMachine_CallTransfersValue(t *testing.T) {
	a, b := loom.Address{0xa}, loom.Address{0xb}
	db := newMemDatabase()
	db.setBalance(a, 150)
	m, err := New(callTx(b, 100), a, db, Config{})
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}
	status, _, err := m.Execute(10, db)
	if err != nil || status.Kind != loom.ExitStop {
		t.Fatalf("unexpected result %v, %v", status.Kind, err)
	}
	if want, got := uint64(50), db.balance(a); want != got {
		t.Errorf("unexpected balance of source, wanted %d, got %d", want, got)
	}
	if want, got := uint64(100), db.balance(b); want != got {
		t.Errorf("unexpected balance of target, wanted %d, got %d", want, got)
	}
}

func TestMachine_InsufficientBalanceFailsConstruction(t *testing.T) {
	db := newMemDatabase()
	db.setBalance(origin, 10)
	_, err := New(callTx(contract, 11), origin, db, Config{})
	var target *loom.InsufficientBalanceError
	if !errors.As(err, &target) {
		t.Fatalf("expected insufficient balance error, got %v", err)
	}
	if len(db.snapshots) != 0 {
		t.Errorf("no snapshot should be left open")
	}
}

func TestMachine_CreateOnExistingAccountFails(t *testing.T) {
	db := newMemDatabase()
	db.setBalance(origin, 10)
	target := loom.AddressFromGeth(crypto.CreateAddress(origin.ToGeth(), 0))
	db.setCode(target, []byte{0x01})

	tx := &loom.Transaction{CallData: asm(STOP)}
	_, err := New(tx, origin, db, Config{})
	var deployErr *loom.DeployToExistingAccountError
	if !errors.As(err, &deployErr) || deployErr.Address != target {
		t.Fatalf("expected deploy to existing account error, got %v", err)
	}
	if len(db.snapshots) != 0 || db.state.nonces[balanceKey{target, testChainID}] != 0 {
		t.Errorf("database must not be modified")
	}
}

func TestMachine_CreateDeploysCode(t *testing.T) {
	db := newMemDatabase()
	tx := &loom.Transaction{CallData: asm(PUSH1, 0x2a, PUSH1, 0, MSTORE8, PUSH1, 1, PUSH1, 0, RETURN)}
	status, _ := run(t, db, tx)
	if status.Kind != loom.ExitReturn {
		t.Fatalf("unexpected status %v", status.Kind)
	}
	target := loom.AddressFromGeth(crypto.CreateAddress(origin.ToGeth(), 0))
	if want, got := []byte{0x2a}, db.state.codes[target]; !bytes.Equal(want, got) {
		t.Errorf("unexpected code, wanted %x, got %x", want, got)
	}
	if want, got := uint64(1), db.state.nonces[balanceKey{target, testChainID}]; want != got {
		t.Errorf("unexpected nonce of new contract, wanted %d, got %d", want, got)
	}
}

func TestMachine_InvalidOpcodeRevertsWithReason(t *testing.T) {
	db := newMemDatabase()
	db.setCode(contract, asm(PUSH1, 1, PUSH1, 0, SSTORE, INVALID))
	status, _ := run(t, db, callTx(contract, 0))
	if status.Kind != loom.ExitRevert {
		t.Fatalf("expected revert, got %v", status.Kind)
	}
	reason, ok := loom.ParseRevertMessage(status.Data)
	if !ok || !strings.Contains(reason, "invalid opcode") {
		t.Errorf("unexpected revert reason %q", reason)
	}
	if len(db.state.storage) != 0 {
		t.Errorf("storage update should have been reverted")
	}
}

func TestMachine_ErrorsAreConvertedIntoReverts(t *testing.T) {
	tests := map[string][]byte{
		"stack underflow": asm(ADD),
		"invalid jump":    asm(PUSH1, 3, JUMP, PUSH1, JUMPDEST),
		"memory limit":    asm(PUSH1, 1, PUSH4, []byte{0x10, 0, 0, 0}, MSTORE),
		"return data":     asm(PUSH1, 1, PUSH1, 0, PUSH1, 0, RETURNDATACOPY),
	}
	for name, code := range tests {
		t.Run(name, func(t *testing.T) {
			db := newMemDatabase()
			db.setCode(contract, code)
			status, _ := run(t, db, callTx(contract, 0))
			if status.Kind != loom.ExitRevert {
				t.Fatalf("expected revert, got %v", status.Kind)
			}
			if _, ok := loom.ParseRevertMessage(status.Data); !ok {
				t.Errorf("revert data is not an encoded reason: %x", status.Data)
			}
		})
	}
}

func TestMachine_JumpToValidDestination(t *testing.T) {
	db := newMemDatabase()
	db.setCode(contract, asm(PUSH1, 4, JUMP, INVALID, JUMPDEST, PUSH1, 7, returnTop))
	status, _ := run(t, db, callTx(contract, 0))
	if status.Kind != loom.ExitReturn || !bytes.Equal(status.Data, word(7)) {
		t.Errorf("unexpected result %v %x", status.Kind, status.Data)
	}
}

// callCode calls target without value and returns the success flag followed
// by the first word of the output.
func callCode(op OpCode, target loom.Address) []byte {
	args := asm(PUSH1, 32, PUSH1, 0, PUSH1, 0, PUSH1, 0)
	if op == CALL || op == CALLCODE {
		args = append(args, asm(PUSH1, 0)...)
	}
	return asm(
		args, PUSH20, target, PUSH2, []byte{0xff, 0xff}, op,
		PUSH1, 32, MSTORE,
		PUSH1, 64, PUSH1, 0, RETURN,
	)
}

func TestMachine_NestedCallReturnsOutput(t *testing.T) {
	db := newMemDatabase()
	db.setCode(callee, asm(PUSH1, 42, returnTop))
	db.setCode(contract, callCode(CALL, callee))
	status, _ := run(t, db, callTx(contract, 0))
	want := append(word(42), word(1)...)
	if status.Kind != loom.ExitReturn || !bytes.Equal(want, status.Data) {
		t.Errorf("unexpected result %v %x", status.Kind, status.Data)
	}
}

func TestMachine_NestedRevertIsIsolated(t *testing.T) {
	db := newMemDatabase()
	db.setCode(callee, asm(PUSH1, 1, PUSH1, 0, SSTORE, PUSH1, 0, PUSH1, 0, REVERT))
	db.setCode(contract, asm(PUSH1, 1, PUSH1, 1, SSTORE, callCode(CALL, callee)))
	status, _ := run(t, db, callTx(contract, 0))
	if status.Kind != loom.ExitReturn || !bytes.Equal(append(word(0), word(0)...), status.Data) {
		t.Errorf("unexpected result %v %x", status.Kind, status.Data)
	}
	if _, found := db.state.storage[slotKey{callee, *uint256.NewInt(0)}]; found {
		t.Errorf("storage update of reverted call is visible")
	}
	if _, found := db.state.storage[slotKey{contract, *uint256.NewInt(1)}]; !found {
		t.Errorf("storage update of calling contract is lost")
	}
}

func TestMachine_StaticCallRejectsStateChanges(t *testing.T) {
	db := newMemDatabase()
	db.setCode(callee, asm(PUSH1, 1, PUSH1, 0, SSTORE, STOP))
	db.setCode(contract, callCode(STATICCALL, callee))
	status, _ := run(t, db, callTx(contract, 0))
	if status.Kind != loom.ExitReturn || !bytes.Equal(word(0), status.Data[32:]) {
		t.Errorf("unexpected result %v %x", status.Kind, status.Data)
	}
	if len(db.state.storage) != 0 {
		t.Errorf("static call modified the storage")
	}
}

func TestMachine_DelegateCallRunsInCallerContext(t *testing.T) {
	db := newMemDatabase()
	db.setCode(callee, asm(ADDRESS, returnTop))
	db.setCode(contract, callCode(DELEGATECALL, callee))
	status, _ := run(t, db, callTx(contract, 0))
	want := make([]byte, 32)
	copy(want[12:], contract[:])
	if status.Kind != loom.ExitReturn || !bytes.Equal(want, status.Data[:32]) {
		t.Errorf("unexpected result %v %x", status.Kind, status.Data)
	}
}

func TestMachine_NestedCreatePushesAddress(t *testing.T) {
	initCode := asm(PUSH1, 0x2a, PUSH1, 0, MSTORE8, PUSH1, 1, PUSH1, 0, RETURN)
	size := len(initCode)
	db := newMemDatabase()
	db.setCode(contract, asm(
		PUSH10, initCode, PUSH1, 0, MSTORE,
		PUSH1, size, PUSH1, 32-size, PUSH1, 0, CREATE,
		returnTop,
	))
	status, _ := run(t, db, callTx(contract, 0))
	created := loom.AddressFromGeth(crypto.CreateAddress(contract.ToGeth(), 0))
	want := make([]byte, 32)
	copy(want[12:], created[:])
	if status.Kind != loom.ExitReturn || !bytes.Equal(want, status.Data) {
		t.Fatalf("unexpected result %v %x", status.Kind, status.Data)
	}
	if want, got := []byte{0x2a}, db.state.codes[created]; !bytes.Equal(want, got) {
		t.Errorf("unexpected code, wanted %x, got %x", want, got)
	}
	if want, got := uint64(1), db.state.nonces[balanceKey{contract, testChainID}]; want != got {
		t.Errorf("unexpected nonce of creator, wanted %d, got %d", want, got)
	}
}

func TestMachine_CallWithInsufficientBalancePushesZero(t *testing.T) {
	db := newMemDatabase()
	db.setCode(contract, asm(
		PUSH1, 0, PUSH1, 0, PUSH1, 0, PUSH1, 0, PUSH1, 1, PUSH20, callee, PUSH1, 0, CALL,
		returnTop,
	))
	status, _ := run(t, db, callTx(contract, 0))
	if status.Kind != loom.ExitReturn || !bytes.Equal(word(0), status.Data) {
		t.Errorf("unexpected result %v %x", status.Kind, status.Data)
	}
}

func TestMachine_PrecompileIsExecutedWithoutSteps(t *testing.T) {
	db := newMemDatabase()
	identity := loom.Address{19: 0x04}
	tx := callTx(identity, 0)
	tx.CallData = []byte{1, 2, 3}
	status, steps := run(t, db, tx)
	if status.Kind != loom.ExitReturn || !bytes.Equal(tx.CallData, status.Data) || steps != 0 {
		t.Errorf("unexpected result %v %x after %d steps", status.Kind, status.Data, steps)
	}
}

func TestMachine_ListenerObservesExecution(t *testing.T) {
	ctrl := gomock.NewController(t)
	listener := loom.NewMockEventListener(ctrl)

	var kinds []loom.EventKind
	listener.EXPECT().OnEvent(gomock.Any()).Do(func(event *loom.Event) {
		kinds = append(kinds, event.Kind)
	}).Times(4)

	db := newMemDatabase()
	db.setCode(contract, asm(PUSH1, 1, STOP))
	m, err := New(callTx(contract, 0), origin, db, Config{Listener: listener})
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}
	if _, _, err := m.Execute(10, db); err != nil {
		t.Fatalf("execution failed: %v", err)
	}
	want := []loom.EventKind{loom.EventBeginVM, loom.EventBeginStep, loom.EventBeginStep, loom.EventEndVM}
	if len(want) != len(kinds) {
		t.Fatalf("unexpected events %v", kinds)
	}
	for i := range want {
		if want[i] != kinds[i] {
			t.Errorf("unexpected event %d, wanted %v, got %v", i, want[i], kinds[i])
		}
	}
}

func TestMachine_JoinWithoutParentPanics(t *testing.T) {
	db := newMemDatabase()
	m, err := New(callTx(contract, 0), origin, db, Config{})
	if err != nil {
		t.Fatalf("failed to create machine: %v", err)
	}
	defer func() {
		if r := recover(); r != loom.ErrMissingParentFrame {
			t.Errorf("expected panic with %v, got %v", loom.ErrMissingParentFrame, r)
		}
	}()
	m.join()
}
