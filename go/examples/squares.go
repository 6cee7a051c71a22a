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
)

const (
	// jump destinations
	squaresLoop = 5
	squaresEnd  = 24

	// instructions executed per loop round and once per run
	squaresRoundSteps = 16
	squaresFixedSteps = 14
)

// GetSquaresExample sums the squares of 1..n by counting n down to zero.
// The entry point ignores the function selector.
func GetSquaresExample() Example {
	code := []byte{
		byte(evm.PUSH1), 4,
		byte(evm.CALLDATALOAD), // n
		byte(evm.PUSH1), 0,     // sum

		byte(evm.JUMPDEST), // [n, sum]
		byte(evm.DUP2),
		byte(evm.ISZERO),
		byte(evm.PUSH1), squaresEnd,
		byte(evm.JUMPI),
		byte(evm.DUP2),
		byte(evm.DUP1),
		byte(evm.MUL),
		byte(evm.ADD),
		byte(evm.SWAP1),
		byte(evm.PUSH1), 1,
		byte(evm.SWAP1),
		byte(evm.SUB),
		byte(evm.SWAP1),
		byte(evm.PUSH1), squaresLoop,
		byte(evm.JUMP),

		byte(evm.JUMPDEST), // [0, sum]
		byte(evm.PUSH1), 0,
		byte(evm.MSTORE),
		byte(evm.PUSH1), 32,
		byte(evm.PUSH1), 0,
		byte(evm.RETURN),
	}

	return Example{
		Name:      "squares",
		Code:      code,
		reference: squares,
	}
}

func squares(n int) int {
	sum := 0
	for i := 1; i <= n; i++ {
		sum += i * i
	}
	return sum
}
