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

// GetStaticOverheadExample returns its argument. Being the shortest
// contract producing a result, it measures what every transaction costs:
// admission, code analysis, memory expansion and result handling.
func GetStaticOverheadExample() Example {
	code := []byte{
		// memory[28:32] = calldata[32:36], the low bytes of the argument
		byte(evm.PUSH1), 4,
		byte(evm.PUSH1), 32,
		byte(evm.PUSH1), 28,
		byte(evm.CALLDATACOPY),
		// return memory[0:32]
		byte(evm.PUSH1), 32,
		byte(evm.PUSH1), 0,
		byte(evm.RETURN),
	}

	return Example{
		Name:      "static_overhead",
		Code:      code,
		reference: identity,
	}
}

func identity(x int) int {
	return x
}
