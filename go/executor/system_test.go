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
	"errors"
	"testing"

	"github.com/Fantom-foundation/Loom/go/loom"
)

func accountsOf(accounts ...*loom.OwnedAccount) map[loom.Pubkey]*loom.OwnedAccount {
	res := map[loom.Pubkey]*loom.OwnedAccount{}
	for _, account := range accounts {
		res[account.Key] = account
	}
	return res
}

func TestSystemProgram_CreateAccount(t *testing.T) {
	funder := &loom.OwnedAccount{Key: loom.Pubkey{1}, Lamports: 100}
	target := &loom.OwnedAccount{Key: loom.Pubkey{2}}
	owner := loom.Pubkey{3}

	err := SystemProgram{}.Emulate(SystemCreateAccount(funder.Key, target.Key, 40, 8, owner), accountsOf(funder, target))
	if err != nil {
		t.Fatalf("failed to create account: %v", err)
	}
	if funder.Lamports != 60 || target.Lamports != 40 || target.Owner != owner || len(target.Data) != 8 {
		t.Errorf("unexpected accounts %+v %+v", funder, target)
	}

	err = SystemProgram{}.Emulate(SystemCreateAccount(funder.Key, target.Key, 1, 0, owner), accountsOf(funder, target))
	if !errors.Is(err, ErrAccountAlreadyInitialized) {
		t.Errorf("expected already initialized, got %v", err)
	}
}

func TestSystemProgram_Transfer(t *testing.T) {
	tests := map[string]struct {
		from    loom.OwnedAccount
		amount  uint64
		wantErr error
	}{
		"ok":           {from: loom.OwnedAccount{Lamports: 10}, amount: 10},
		"insufficient": {from: loom.OwnedAccount{Lamports: 9}, amount: 10, wantErr: ErrInsufficientFunds},
		"with data":    {from: loom.OwnedAccount{Lamports: 10, Data: []byte{1}}, amount: 1, wantErr: ErrInvalidInstructionArgument},
		"not system":   {from: loom.OwnedAccount{Lamports: 10, Owner: loom.Pubkey{9}}, amount: 1, wantErr: ErrInsufficientFunds},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			from := test.from
			from.Key = loom.Pubkey{1}
			to := &loom.OwnedAccount{Key: loom.Pubkey{2}}
			err := SystemProgram{}.Emulate(SystemTransfer(from.Key, to.Key, test.amount), accountsOf(&from, to))
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("unexpected error, wanted %v, got %v", test.wantErr, err)
			}
			if err == nil && to.Lamports != test.amount {
				t.Errorf("unexpected lamports of target: %d", to.Lamports)
			}
		})
	}
}

func TestSystemProgram_AllocateAndAssign(t *testing.T) {
	account := &loom.OwnedAccount{Key: loom.Pubkey{1}}
	accounts := accountsOf(account)
	if err := (SystemProgram{}).Emulate(SystemAllocate(account.Key, 32), accounts); err != nil {
		t.Fatalf("failed to allocate: %v", err)
	}
	if err := (SystemProgram{}).Emulate(SystemAllocate(account.Key, 32), accounts); !errors.Is(err, ErrInvalidInstructionData) {
		t.Errorf("second allocation should fail, got %v", err)
	}
	if err := (SystemProgram{}).Emulate(SystemAssign(account.Key, loom.Pubkey{5}), accounts); err != nil {
		t.Fatalf("failed to assign: %v", err)
	}
	if account.Owner != (loom.Pubkey{5}) || len(account.Data) != 32 {
		t.Errorf("unexpected account %+v", account)
	}
	if err := (SystemProgram{}).Emulate(SystemAllocate(account.Key, MaxAccountDataSize+1), accounts); !errors.Is(err, ErrInvalidInstructionArgument) {
		t.Errorf("oversized allocation should fail, got %v", err)
	}
}

func TestSystemProgram_RejectsMalformedInstructions(t *testing.T) {
	tests := map[string]loom.Instruction{
		"empty":   {},
		"unknown": {Data: []byte{42, 0, 0, 0}},
		"short":   {Data: []byte{2, 0, 0, 0, 1}},
	}
	for name, instruction := range tests {
		t.Run(name, func(t *testing.T) {
			if err := (SystemProgram{}).Emulate(instruction, nil); !errors.Is(err, ErrInvalidInstructionData) {
				t.Errorf("expected invalid instruction data, got %v", err)
			}
		})
	}
	missing := SystemAssign(loom.Pubkey{1}, loom.Pubkey{2})
	if err := (SystemProgram{}).Emulate(missing, nil); !errors.Is(err, ErrMissingInstructionAccount) {
		t.Errorf("expected missing account, got %v", err)
	}
}
