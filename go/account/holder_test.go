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
	"bytes"
	"errors"
	"testing"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

var (
	testProgramID = loom.Pubkey{0x10}
	testOperator  = loom.Pubkey{0x20}
)

func newProgramAccount(key byte) *loom.OwnedAccount {
	return &loom.OwnedAccount{Key: loom.Pubkey{key}, Owner: testProgramID, IsWritable: true}
}

func newTestTransaction(hash byte) *loom.Transaction {
	chainID := uint64(1)
	target := loom.Address{0xbb}
	return &loom.Transaction{
		Type:     loom.DynamicFeeTransaction,
		Hash:     loom.Hash{hash},
		Nonce:    7,
		ChainID:  &chainID,
		GasPrice: *uint256.NewInt(2),
		GasLimit: *uint256.NewInt(1000),
		Target:   &target,
		Value:    *uint256.NewInt(5),
		CallData: []byte{1, 2, 3},
	}
}

func newTestHolder(t *testing.T, tx *loom.Transaction) *loom.OwnedAccount {
	t.Helper()
	account := newProgramAccount(0x01)
	holder, err := CreateHolder(testProgramID, account, testOperator)
	if err != nil {
		t.Fatalf("failed to create holder: %v", err)
	}
	if tx != nil {
		if err := holder.WriteTransaction(tx); err != nil {
			t.Fatalf("failed to write transaction: %v", err)
		}
	}
	return account
}

func TestHolder_StoresTransaction(t *testing.T) {
	tx := newTestTransaction(1)
	account := newTestHolder(t, tx)

	holder, err := OpenHolder(testProgramID, account)
	if err != nil {
		t.Fatalf("failed to open holder: %v", err)
	}
	if err := holder.ValidateOwner(testOperator); err != nil {
		t.Errorf("operator rejected: %v", err)
	}
	if err := holder.ValidateOwner(loom.Pubkey{0x21}); err == nil {
		t.Errorf("foreign operator accepted")
	}
	got, err := holder.Transaction()
	if err != nil {
		t.Fatalf("failed to read transaction: %v", err)
	}
	if got.Hash != tx.Hash || got.Nonce != tx.Nonce || *got.Target != *tx.Target || !bytes.Equal(got.CallData, tx.CallData) {
		t.Errorf("unexpected transaction, wanted %+v, got %+v", tx, got)
	}
	if got.GasLimit.Uint64() != 1000 || got.ChainIDOr(0) != 1 {
		t.Errorf("unexpected gas limit or chain id: %v %v", got.GasLimit.Uint64(), got.ChainIDOr(0))
	}
	if err := holder.ValidateTransaction(tx); err != nil {
		t.Errorf("stored transaction rejected: %v", err)
	}
	if err := holder.ValidateTransaction(newTestTransaction(2)); !errors.Is(err, loom.ErrHolderInvalidHash) {
		t.Errorf("unexpected error for other transaction: %v", err)
	}
}

func TestHolder_ShorterTransactionReplacesLongerOne(t *testing.T) {
	long := newTestTransaction(1)
	long.CallData = make([]byte, 100)
	account := newTestHolder(t, long)

	holder, _ := OpenHolder(testProgramID, account)
	short := newTestTransaction(2)
	if err := holder.WriteTransaction(short); err != nil {
		t.Fatalf("failed to write transaction: %v", err)
	}
	got, err := holder.Transaction()
	if err != nil {
		t.Fatalf("failed to read transaction: %v", err)
	}
	if got.Hash != short.Hash || !bytes.Equal(got.CallData, short.CallData) {
		t.Errorf("unexpected transaction %+v", got)
	}
}

func TestHolder_RejectsInvalidAccounts(t *testing.T) {
	foreign := &loom.OwnedAccount{Key: loom.Pubkey{1}, Owner: loom.Pubkey{0x99}, Data: []byte{TagHolder}}
	if _, err := OpenHolder(testProgramID, foreign); err == nil {
		t.Errorf("account of other program accepted")
	}

	state := newProgramAccount(1)
	state.Data = []byte{TagState}
	if _, err := OpenHolder(testProgramID, state); err == nil {
		t.Errorf("state account accepted as holder")
	}
	var tagErr *loom.AccountInvalidTagError
	if _, err := CreateHolder(testProgramID, state, testOperator); !errors.As(err, &tagErr) || tagErr.Tag != TagState {
		t.Errorf("unexpected error creating holder over state account: %v", err)
	}

	short := newProgramAccount(1)
	short.Data = []byte{TagHolder, 0}
	if _, err := OpenHolder(testProgramID, short); err == nil {
		t.Errorf("truncated holder accepted")
	}
}
