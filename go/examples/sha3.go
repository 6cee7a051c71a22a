// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package examples

import (
	"github.com/Fantom-foundation/Loom/go/interpreter/evm"
	"github.com/Fantom-foundation/Loom/go/loom"
	"golang.org/x/crypto/sha3"
)

func GetSha3Example() Example {
	// Implement a loop computing x iterative hashes.
	code := []byte{
		// Parse the input parameter.
		byte(evm.PUSH1), 4,
		byte(evm.CALLDATALOAD),

		// Implement the loop header.
		byte(evm.JUMPDEST),
		byte(evm.DUP1),
		byte(evm.ISZERO),
		byte(evm.PUSH1), 24,
		byte(evm.JUMPI),

		// Compute one hash step.
		byte(evm.PUSH1), 32,
		byte(evm.PUSH1), 0,
		byte(evm.SHA3),
		byte(evm.PUSH1), 0,
		byte(evm.MSTORE),

		// Decrement loop iterator.
		byte(evm.PUSH1), 1,
		byte(evm.SWAP1),
		byte(evm.SUB),

		// Jump back to start of the loop.
		byte(evm.PUSH1), 3,
		byte(evm.JUMP),

		byte(evm.JUMPDEST),

		// Mask out everything but the last byte.
		byte(evm.PUSH1), 0,
		byte(evm.MLOAD),
		byte(evm.PUSH1), 255,
		byte(evm.AND),
		byte(evm.PUSH1), 0,
		byte(evm.MSTORE),

		// Return the result.
		byte(evm.PUSH1), 32,
		byte(evm.PUSH1), 0,
		byte(evm.RETURN),
	}

	return Example{
		Name:      "sha3",
		Code:      code,
		reference: sha3Ref,
	}
}

func sha3Ref(x int) int {
	var hash loom.Hash
	hasher := sha3.NewLegacyKeccak256()
	for i := 0; i < x; i++ {
		hasher.Reset()
		hasher.Write(hash[:])
		hasher.Sum(hash[0:0])
	}
	return int(hash[31])
}
