// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package loom

import (
	"github.com/holiman/uint256"
)

// TransactionType enumerates the supported transaction envelopes. Decoding
// of the envelopes happens before a Transaction reaches this package.
type TransactionType byte

const (
	LegacyTransaction TransactionType = iota
	AccessListTransaction
	DynamicFeeTransaction
	ScheduledTransaction
)

func (t TransactionType) String() string {
	switch t {
	case LegacyTransaction:
		return "legacy"
	case AccessListTransaction:
		return "access-list"
	case DynamicFeeTransaction:
		return "dynamic-fee"
	case ScheduledTransaction:
		return "scheduled"
	}
	return "unknown"
}

// Transaction is a parsed Ethereum transaction.
type Transaction struct {
	Type        TransactionType
	Hash        Hash
	Nonce       uint64
	ChainID     *uint64 `rlp:"nil"` // < nil for legacy transactions without replay protection
	GasPrice    uint256.Int
	PriorityFee uint256.Int // < max priority fee per gas, zero for legacy transactions
	GasLimit    uint256.Int
	Target      *Address `rlp:"nil"` // < nil for contract creation
	Value       uint256.Int
	CallData    []byte
	Scheduled   *ScheduledInfo `rlp:"nil"`
}

// ScheduledInfo links a scheduled transaction to the node of the
// transaction tree that spawned it.
type ScheduledInfo struct {
	Payer       Address
	TreeAccount Pubkey
	Index       uint16
}

// ChainIDOr returns the chain id of the transaction or def if the
// transaction does not name one.
func (t *Transaction) ChainIDOr(def uint64) uint64 {
	if t.ChainID == nil {
		return def
	}
	return *t.ChainID
}

func (t *Transaction) IsCreate() bool {
	return t.Target == nil
}

func (t *Transaction) IsScheduled() bool {
	return t.Scheduled != nil
}

// GasLimitInTokens is the amount charged up front for the base fee part of
// the transaction: gas limit times gas price.
func (t *Transaction) GasLimitInTokens() (uint256.Int, error) {
	var res uint256.Int
	if _, overflow := res.MulOverflow(&t.GasLimit, &t.GasPrice); overflow {
		return res, ErrIntegerOverflow
	}
	return res, nil
}

// PriorityFeeLimitInTokens is the maximum priority fee the transaction may
// pay: gas limit times max priority fee per gas.
func (t *Transaction) PriorityFeeLimitInTokens() (uint256.Int, error) {
	var res uint256.Int
	if _, overflow := res.MulOverflow(&t.GasLimit, &t.PriorityFee); overflow {
		return res, ErrIntegerOverflow
	}
	return res, nil
}
