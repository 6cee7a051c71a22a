// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Fantom-foundation/Loom/go/ledger"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/Fantom-foundation/Loom/go/processor/iterative"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Fixture describes a ledger, the configuration of the processor and a
// transaction to run on them. Amounts are decimal or 0x-prefixed hex
// strings.
type Fixture struct {
	Ledger      ledger.Config
	Processor   iterative.Config
	Holder      loom.Pubkey
	Accounts    []AccountFixture
	Transaction *TransactionFixture
}

type AccountFixture struct {
	Address loom.Address
	Balance string
	Nonce   uint64
	Code    hexutil.Bytes
	Storage map[string]loom.Word
}

type TransactionFixture struct {
	Hash        loom.Hash
	Origin      loom.Address
	Nonce       uint64
	ChainID     *uint64
	GasPrice    string
	PriorityFee string
	GasLimit    string
	Target      *loom.Address
	Value       string
	Data        hexutil.Bytes
}

// defaultHolder is the holder used by fixtures not naming one.
var defaultHolder = loom.Pubkey{0x48, 0x4f, 0x4c, 0x44}

// LoadFixture reads a fixture from a TOML file. Settings missing in the
// file keep their defaults.
func LoadFixture(path string) (*Fixture, error) {
	res := &Fixture{
		Ledger:    ledger.DefaultConfig(),
		Processor: iterative.DefaultConfig(),
		Holder:    defaultHolder,
	}
	if path == "" {
		return res, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta, err := toml.Decode(string(raw), res)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fixture %v: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown fixture keys: %v", undecoded)
	}
	if res.Transaction != nil && res.Transaction.Hash == (loom.Hash{}) {
		res.Transaction.Hash = loom.Keccak256(raw)
	}
	return res, nil
}

// Populate adds the accounts of the fixture to l.
func (f *Fixture) Populate(l *ledger.Ledger) error {
	chainID := l.DefaultChainID()
	for _, acc := range f.Accounts {
		balance, err := parseAmount(acc.Balance)
		if err != nil {
			return fmt.Errorf("invalid balance of %v: %w", acc.Address, err)
		}
		if err := l.Mint(acc.Address, chainID, balance); err != nil {
			return err
		}
		for i := uint64(0); i < acc.Nonce; i++ {
			if err := l.IncrementNonce(acc.Address, chainID); err != nil {
				return err
			}
		}
		if len(acc.Code) > 0 {
			if err := l.SetCode(acc.Address, chainID, acc.Code); err != nil {
				return err
			}
		}
		for key, value := range acc.Storage {
			index, err := parseAmount(key)
			if err != nil {
				return fmt.Errorf("invalid storage key %q of %v: %w", key, acc.Address, err)
			}
			if err := l.SetStorage(acc.Address, index, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Tx converts the transaction of the fixture.
func (t *TransactionFixture) Tx() (*loom.Transaction, error) {
	res := &loom.Transaction{
		Hash:     t.Hash,
		Nonce:    t.Nonce,
		ChainID:  t.ChainID,
		Target:   t.Target,
		CallData: t.Data,
	}
	for _, field := range []struct {
		name  string
		value string
		dest  *uint256.Int
	}{
		{"gas price", t.GasPrice, &res.GasPrice},
		{"priority fee", t.PriorityFee, &res.PriorityFee},
		{"gas limit", t.GasLimit, &res.GasLimit},
		{"value", t.Value, &res.Value},
	} {
		value, err := parseAmount(field.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %v: %w", field.name, err)
		}
		*field.dest = value
	}
	return res, nil
}

func parseAmount(s string) (uint256.Int, error) {
	if s == "" {
		return uint256.Int{}, nil
	}
	var (
		res *uint256.Int
		err error
	)
	if digits, found := strings.CutPrefix(s, "0x"); found {
		// uint256 rejects leading zeros, fixtures use padded words.
		trimmed := strings.TrimLeft(digits, "0")
		if trimmed == "" && digits != "" {
			trimmed = "0"
		}
		res, err = uint256.FromHex("0x" + trimmed)
	} else {
		res, err = uint256.FromDecimal(strings.ReplaceAll(s, "_", ""))
	}
	if err != nil {
		return uint256.Int{}, err
	}
	return *res, nil
}
