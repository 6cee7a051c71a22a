// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package evm

import (
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/core/vm"
)

// IsPrecompile reports whether address hosts one of the standard Ethereum
// precompiled contracts.
func IsPrecompile(address loom.Address) bool {
	_, found := vm.PrecompiledContractsCancun[address.ToGeth()]
	return found
}

// runPrecompile executes the precompiled contract at address. Precompiles
// are not metered.
func runPrecompile(address loom.Address, input []byte) ([]byte, error) {
	contract := vm.PrecompiledContractsCancun[address.ToGeth()]
	return contract.Run(input)
}
