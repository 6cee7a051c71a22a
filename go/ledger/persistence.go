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
	"errors"
	"fmt"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const ErrOpenSnapshots = loom.ConstError("ledger can not be saved while snapshots are open")

var (
	accountPrefix = []byte("a:")
	blockKey      = []byte("block")
)

type accountRecord struct {
	Owner      loom.Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
}

type blockRecord struct {
	Number    uint64
	Timestamp uint64
}

// Save replaces the content of db with the accounts and the block of the
// ledger.
func (l *Ledger) Save(db *leveldb.DB) error {
	if l.HasOpenSnapshots() {
		return ErrOpenSnapshots
	}
	batch := new(leveldb.Batch)
	iter := db.NewIterator(util.BytesPrefix(accountPrefix), nil)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return err
	}

	for _, key := range l.Keys() {
		account := l.accounts[key]
		encoded, err := rlp.EncodeToBytes(&accountRecord{
			Owner:      account.Owner,
			Lamports:   account.Lamports,
			Data:       account.Data,
			Executable: account.Executable,
		})
		if err != nil {
			return err
		}
		batch.Put(append(append([]byte(nil), accountPrefix...), key[:]...), encoded)
	}
	block, err := rlp.EncodeToBytes(&blockRecord{Number: l.config.BlockNumber, Timestamp: l.config.BlockTimestamp})
	if err != nil {
		return err
	}
	batch.Put(blockKey, block)
	l.log.Debug("Ledger saved", "accounts", len(l.accounts), "block", l.config.BlockNumber)
	return db.Write(batch, &opt.WriteOptions{Sync: true})
}

// Load creates a ledger with the accounts stored in db. The block stored in
// db, if any, overrides the block of the config.
func Load(config Config, db *leveldb.DB, programs ...loom.ExternalProgram) (*Ledger, error) {
	res := New(config, programs...)

	encoded, err := db.Get(blockKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		var block blockRecord
		if err := rlp.DecodeBytes(encoded, &block); err != nil {
			return nil, fmt.Errorf("failed to decode block: %w", err)
		}
		res.SetBlock(block.Number, block.Timestamp)
	}

	iter := db.NewIterator(util.BytesPrefix(accountPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		raw := iter.Key()[len(accountPrefix):]
		if len(raw) != len(loom.Pubkey{}) {
			return nil, fmt.Errorf("invalid account key %x", iter.Key())
		}
		var record accountRecord
		if err := rlp.DecodeBytes(iter.Value(), &record); err != nil {
			return nil, fmt.Errorf("failed to decode account %x: %w", raw, err)
		}
		key := loom.Pubkey(raw)
		account := res.CreateAccount(key, record.Owner, record.Lamports, record.Data)
		account.Executable = record.Executable
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	res.log.Debug("Ledger loaded", "accounts", len(res.accounts), "block", res.config.BlockNumber)
	return res, nil
}
