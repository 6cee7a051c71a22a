// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package loom

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// revertSelector is the selector of the Solidity `Error(string)` function.
var revertSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

var revertArguments = func() abi.Arguments {
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: stringType}}
}()

// BuildRevertMessage produces the ABI encoding of Error(msg), the format
// Solidity uses for revert reasons.
func BuildRevertMessage(msg string) []byte {
	packed, err := revertArguments.Pack(msg)
	if err != nil {
		// packing a string can not fail
		panic(err)
	}
	return append(append(make([]byte, 0, len(revertSelector)+len(packed)), revertSelector...), packed...)
}

// ParseRevertMessage extracts the reason of an Error(string) encoded revert
// output. The second result is false if data is not such an encoding.
func ParseRevertMessage(data []byte) (string, bool) {
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return "", false
	}
	return reason, true
}
