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
	"encoding/binary"
	"fmt"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/rlp"
)

// Holder is an operator owned account carrying a transaction that is too
// large for a single host instruction. A holder is turned into a state
// account when the transaction starts and becomes a finalized marker when
// it ends, after which it can be reused for the next transaction.
type Holder struct {
	account *loom.OwnedAccount
}

// CreateHolder initializes an empty account owned by programID as holder
// of owner.
func CreateHolder(programID loom.Pubkey, account *loom.OwnedAccount, owner loom.Pubkey) (*Holder, error) {
	tag, err := Tag(programID, account)
	if err != nil {
		return nil, err
	}
	if tag != TagEmpty {
		return nil, &loom.AccountInvalidTagError{Key: account.Key, Tag: tag}
	}
	if len(account.Data) < holderHeaderSize {
		account.Data = append(account.Data, make([]byte, holderHeaderSize-len(account.Data))...)
	}
	writeHolderHeader(account.Data, TagHolder, owner, loom.Hash{})
	return &Holder{account: account}, nil
}

// OpenHolder accesses an initialized holder. Finalized state accounts are
// accepted as holders as well; they keep the transaction they finished.
func OpenHolder(programID loom.Pubkey, account *loom.OwnedAccount) (*Holder, error) {
	tag, err := Tag(programID, account)
	if err != nil {
		return nil, err
	}
	if tag != TagHolder && tag != TagStateFinalized {
		return nil, &loom.AccountInvalidTagError{Key: account.Key, Tag: tag}
	}
	if len(account.Data) < holderHeaderSize {
		return nil, fmt.Errorf("holder account %v too small: %d bytes", account.Key, len(account.Data))
	}
	return &Holder{account: account}, nil
}

func (h *Holder) Key() loom.Pubkey {
	return h.account.Key
}

func (h *Holder) Owner() loom.Pubkey {
	return loom.Pubkey(h.account.Data[holderOwnerOffset:holderHashOffset])
}

// TransactionHash is the hash of the stored, or for finalized accounts the
// last finished, transaction.
func (h *Holder) TransactionHash() loom.Hash {
	return loom.Hash(h.account.Data[holderHashOffset:holderLengthOffset])
}

// IsFinalized reports whether the account is a finalized state account.
func (h *Holder) IsFinalized() bool {
	return h.account.Data[0] == TagStateFinalized
}

func (h *Holder) ValidateOwner(operator loom.Pubkey) error {
	if owner := h.Owner(); owner != operator {
		return fmt.Errorf("holder %v is owned by %v, not by operator %v", h.account.Key, owner, operator)
	}
	return nil
}

// ValidateTransaction checks that the holder carries tx.
func (h *Holder) ValidateTransaction(tx *loom.Transaction) error {
	if h.TransactionHash() != tx.Hash {
		return fmt.Errorf("%w: holder %v, transaction %v", loom.ErrHolderInvalidHash, h.account.Key, tx.Hash)
	}
	return nil
}

// WriteTransaction stores tx in the holder, replacing a previous one.
func (h *Holder) WriteTransaction(tx *loom.Transaction) error {
	encoded, err := rlp.EncodeToBytes(tx)
	if err != nil {
		return err
	}
	size := holderHeaderSize + len(encoded)
	if size > MaxAccountSize {
		return fmt.Errorf("transaction of %d bytes exceeds holder capacity", len(encoded))
	}
	data := h.account.Data
	if len(data) < size {
		data = append(data, make([]byte, size-len(data))...)
	}
	writeHolderHeader(data, TagHolder, h.Owner(), tx.Hash)
	binary.LittleEndian.PutUint64(data[holderLengthOffset:], uint64(len(encoded)))
	copy(data[holderHeaderSize:], encoded)
	h.account.Data = data
	return nil
}

// Transaction decodes the stored transaction.
func (h *Holder) Transaction() (*loom.Transaction, error) {
	if h.IsFinalized() {
		return nil, fmt.Errorf("%w: %v", loom.ErrTransactionFinalized, h.TransactionHash())
	}
	length := binary.LittleEndian.Uint64(h.account.Data[holderLengthOffset:])
	if length > uint64(len(h.account.Data)-holderHeaderSize) {
		return nil, fmt.Errorf("holder %v declares %d transaction bytes beyond its size", h.account.Key, length)
	}
	tx := new(loom.Transaction)
	if err := rlp.DecodeBytes(h.account.Data[holderHeaderSize:holderHeaderSize+length], tx); err != nil {
		return nil, fmt.Errorf("failed to decode transaction of holder %v: %w", h.account.Key, err)
	}
	if tx.Hash != h.TransactionHash() {
		return nil, loom.ErrHolderInvalidHash
	}
	return tx, nil
}

func writeHolderHeader(data []byte, tag byte, owner loom.Pubkey, hash loom.Hash) {
	data[0] = tag
	copy(data[holderOwnerOffset:], owner[:])
	copy(data[holderHashOffset:], hash[:])
}
