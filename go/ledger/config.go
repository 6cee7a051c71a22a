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
	"github.com/Fantom-foundation/Loom/go/loom"
)

// Chain is a token of the ledger. Each chain id keeps separate balances.
type Chain struct {
	ID    uint64
	Token string
}

// Config describes the environment of a ledger.
type Config struct {
	ProgramID loom.Pubkey
	Operator  loom.Pubkey
	// OperatorAddress receives the gas paid by transactions.
	OperatorAddress loom.Address
	DefaultChainID  uint64
	Chains          []Chain
	BlockNumber     uint64
	BlockTimestamp  uint64
	// MaxGrowth is the number of bytes an account may grow by in one
	// allocation round.
	MaxGrowth int
}

func DefaultConfig() Config {
	return Config{
		ProgramID:       loom.Pubkey{0x10},
		Operator:        loom.Pubkey{0x20},
		OperatorAddress: loom.Address{0x20},
		DefaultChainID:  1,
		Chains:          []Chain{{ID: 1, Token: "LOOM"}},
		BlockNumber:     1,
		BlockTimestamp:  1_700_000_000,
		MaxGrowth:       10 * 1024,
	}
}
