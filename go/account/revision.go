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
)

//go:generate mockgen -source revision.go -destination revision_mock.go -package account

type RevisionKind byte

const (
	RevisionCounter RevisionKind = iota
	RevisionHash
)

// Revision fingerprints the observable content of a host account. Accounts
// of the program and of the system program carry a counter incremented on
// every modification; the content of all other accounts is hashed since
// their owners maintain no counter this program could rely on.
type Revision struct {
	Kind    RevisionKind
	Counter uint32
	Hash    loom.Hash
}

func CounterRevision(counter uint32) Revision {
	return Revision{Kind: RevisionCounter, Counter: counter}
}

// ContentRevision hashes the owner, lamports and data of an account.
func ContentRevision(owner loom.Pubkey, lamports uint64, data []byte) Revision {
	var buffer [8]byte
	binary.LittleEndian.PutUint64(buffer[:], lamports)
	return Revision{Kind: RevisionHash, Hash: loom.Keccak256(owner[:], buffer[:], data)}
}

func (r Revision) String() string {
	if r.Kind == RevisionHash {
		return fmt.Sprintf("hash(%v)", r.Hash)
	}
	return fmt.Sprintf("revision(%d)", r.Counter)
}

// RevisionSource provides the current fingerprints needed to validate a
// continuation.
type RevisionSource interface {
	// Revision returns the current revision of the account with the given
	// key. Missing accounts have revision zero.
	Revision(key loom.Pubkey) (Revision, error)
	// TimestampMarker returns the last block in which the contract at the
	// given address finished a transaction depending on the block.
	TimestampMarker(contract loom.Address) (uint64, error)
}
