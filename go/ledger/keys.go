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
	"encoding/binary"

	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

// Derive computes the key of a program account from its seeds. An
// instruction is signed for an account if its seeds are provided.
func Derive(programID loom.Pubkey, seeds [][]byte) loom.Pubkey {
	return loom.Pubkey(loom.Keccak256(append([][]byte{programID[:]}, seeds...)...))
}

func (l *Ledger) ContractPubkey(address loom.Address) loom.Pubkey {
	return Derive(l.config.ProgramID, executor.ContractSeeds(address))
}

func (l *Ledger) BalancePubkey(address loom.Address, chainID uint64) loom.Pubkey {
	var chain [8]byte
	binary.BigEndian.PutUint64(chain[:], chainID)
	return Derive(l.config.ProgramID, append(executor.ContractSeeds(address), chain[:]))
}

func (l *Ledger) StoragePubkey(address loom.Address, index uint256.Int) loom.Pubkey {
	key := index.Bytes32()
	return Derive(l.config.ProgramID, [][]byte{{storageSeedVersion}, []byte("Storage"), address[:], key[:]})
}
