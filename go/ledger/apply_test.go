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
	"bytes"
	"errors"
	"testing"

	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

func TestLedger_AllocateGrowsAccountsInRounds(t *testing.T) {
	l := newTestLedger()
	l.config.MaxGrowth = 100
	code := bytes.Repeat([]byte{0x5b}, 250)
	actions := []executor.Action{executor.SetCode(addrA, 1, code)}

	if err := l.ApplyActions(actions); !errors.Is(err, loom.ErrSpaceAllocationFailure) {
		t.Errorf("actions applied without allocation: %v", err)
	}

	key := l.ContractPubkey(addrA)
	for round, want := range []int{100, 200, contractHeaderSize + 250} {
		ready, err := l.Allocate(actions)
		if err != nil {
			t.Fatalf("allocation failed: %v", err)
		}
		if wantReady := round == 2; ready != wantReady {
			t.Errorf("round %d: unexpected ready %t", round, ready)
		}
		data, _ := l.AccountData(key)
		if len(data) != want {
			t.Errorf("round %d: unexpected size %d, wanted %d", round, len(data), want)
		}
		if l.CodeSize(addrA) != 0 || l.ContractChainID(addrA) != l.DefaultChainID() {
			t.Errorf("allocation is observable")
		}
	}
	before, _ := l.Revision(key)
	if before.Counter != 0 {
		t.Errorf("allocation changed revision to %v", before)
	}

	if err := l.ApplyActions(actions); err != nil {
		t.Fatalf("failed to apply actions: %v", err)
	}
	if !bytes.Equal(l.Code(addrA).Bytes(), code) {
		t.Errorf("code not stored")
	}
	if ready, _ := l.Allocate(actions); !ready {
		t.Errorf("allocated account not ready")
	}
}

func TestLedger_AllocateRejectsOtherAccounts(t *testing.T) {
	l := newTestLedger()
	l.CreateAccount(l.ContractPubkey(addrA), l.ProgramID(), 0, []byte{TagBalance})
	var tagErr *loom.AccountInvalidTagError
	if _, err := l.Allocate([]executor.Action{executor.SetCode(addrA, 1, []byte{1})}); !errors.As(err, &tagErr) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLedger_ApplyActions(t *testing.T) {
	l := newTestLedger()
	l.Mint(addrA, 1, *uint256.NewInt(100))
	resource := Derive(l.ProgramID(), [][]byte{{9}})

	actions := []executor.Action{
		executor.Transfer(addrA, addrB, 1, *uint256.NewInt(40)),
		executor.Burn(addrA, 1, *uint256.NewInt(10)),
		executor.IncrementNonce(addrB, 1),
		executor.SetStorage(addrB, *uint256.NewInt(1), loom.Word{7}),
		executor.SetTransientStorage(addrB, *uint256.NewInt(1), loom.Word{8}),
		executor.SetCode(addrB, 1, []byte{0x00}),
		executor.ExternalInstruction(executor.SystemTransfer(l.Operator(), resource, 25), nil, 0, true),
	}
	if ready, err := l.Allocate(actions); !ready || err != nil {
		t.Fatalf("allocation not ready: %v", err)
	}
	if err := l.ApplyActions(actions); err != nil {
		t.Fatalf("failed to apply: %v", err)
	}

	if a, b := balanceOf(l, addrA, 1), balanceOf(l, addrB, 1); a != 50 || b != 40 {
		t.Errorf("unexpected balances %d, %d", a, b)
	}
	if l.Nonce(addrB, 1) != 1 {
		t.Errorf("nonce not incremented")
	}
	if l.Storage(addrB, *uint256.NewInt(1)) != (loom.Word{7}) {
		t.Errorf("storage not written")
	}
	if l.CodeSize(addrB) != 1 {
		t.Errorf("code not written")
	}
	if got, _ := l.Account(resource); got.Lamports != 25 {
		t.Errorf("external instruction not executed")
	}
}

func TestLedger_ApplyActionsReportsFailures(t *testing.T) {
	l := newTestLedger()
	actions := []executor.Action{executor.Transfer(addrA, addrB, 1, *uint256.NewInt(1))}
	var insufficient *loom.InsufficientBalanceError
	if err := l.ApplyActions(actions); !errors.As(err, &insufficient) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLedger_ApplyActionsIsAllOrNothing(t *testing.T) {
	l := newTestLedger()
	l.Mint(addrA, 1, *uint256.NewInt(100))
	resource := Derive(l.ProgramID(), [][]byte{{9}})
	operator, _ := l.Account(l.Operator())
	lamports := operator.Lamports

	actions := []executor.Action{
		executor.Transfer(addrA, addrB, 1, *uint256.NewInt(40)),
		executor.ExternalInstruction(executor.SystemTransfer(l.Operator(), resource, 25), nil, 0, true),
		executor.SetStorage(addrB, *uint256.NewInt(1), loom.Word{7}),
		executor.Transfer(addrA, addrB, 1, *uint256.NewInt(1000)),
	}
	var insufficient *loom.InsufficientBalanceError
	if err := l.ApplyActions(actions); !errors.As(err, &insufficient) {
		t.Fatalf("unexpected error: %v", err)
	}

	if a, b := balanceOf(l, addrA, 1), balanceOf(l, addrB, 1); a != 100 || b != 0 {
		t.Errorf("transfer kept, balances %d, %d", a, b)
	}
	if l.Storage(addrB, *uint256.NewInt(1)) != (loom.Word{}) {
		t.Errorf("storage write kept")
	}
	if _, err := l.Account(resource); !errors.Is(err, loom.ErrAccountNotFound) {
		t.Errorf("external instruction kept")
	}
	if operator, _ := l.Account(l.Operator()); operator.Lamports != lamports {
		t.Errorf("operator lamports changed to %d", operator.Lamports)
	}
	if l.ExternalCallCount() != 0 || l.HasOpenSnapshots() {
		t.Errorf("ledger left in invocation, calls %d", l.ExternalCallCount())
	}
}
