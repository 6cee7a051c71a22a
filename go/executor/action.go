// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package executor

import (
	"fmt"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

// ActionKind enumerates the mutations recorded by a speculative execution.
type ActionKind byte

const (
	ActionExternalInstruction ActionKind = iota
	ActionTransfer
	ActionBurn
	ActionSetStorage
	ActionSetTransientStorage
	ActionIncrementNonce
	ActionSetCode
)

func (k ActionKind) String() string {
	switch k {
	case ActionExternalInstruction:
		return "external-instruction"
	case ActionTransfer:
		return "transfer"
	case ActionBurn:
		return "burn"
	case ActionSetStorage:
		return "set-storage"
	case ActionSetTransientStorage:
		return "set-transient-storage"
	case ActionIncrementNonce:
		return "increment-nonce"
	case ActionSetCode:
		return "set-code"
	}
	return fmt.Sprintf("ActionKind(%d)", byte(k))
}

// Action is a buffered state mutation. Only the fields relevant for the
// Kind are set. The order of actions in a log is significant: later actions
// shadow earlier ones for the same key.
type Action struct {
	Kind ActionKind

	// ActionExternalInstruction
	Instruction loom.Instruction
	Seeds       [][][]byte
	Fee         uint64
	Emulated    bool

	// Transfer, burn, nonce and code updates.
	Source  loom.Address
	Target  loom.Address
	ChainID uint64
	Value   uint256.Int
	Code    []byte

	// Storage updates use Target as the contract address.
	Index uint256.Int
	Word  loom.Word
}

func ExternalInstruction(instruction loom.Instruction, seeds [][][]byte, fee uint64, emulated bool) Action {
	return Action{Kind: ActionExternalInstruction, Instruction: instruction, Seeds: seeds, Fee: fee, Emulated: emulated}
}

func Transfer(source, target loom.Address, chainID uint64, value uint256.Int) Action {
	return Action{Kind: ActionTransfer, Source: source, Target: target, ChainID: chainID, Value: value}
}

func Burn(source loom.Address, chainID uint64, value uint256.Int) Action {
	return Action{Kind: ActionBurn, Source: source, ChainID: chainID, Value: value}
}

func SetStorage(address loom.Address, index uint256.Int, value loom.Word) Action {
	return Action{Kind: ActionSetStorage, Target: address, Index: index, Word: value}
}

func SetTransientStorage(address loom.Address, index uint256.Int, value loom.Word) Action {
	return Action{Kind: ActionSetTransientStorage, Target: address, Index: index, Word: value}
}

func IncrementNonce(address loom.Address, chainID uint64) Action {
	return Action{Kind: ActionIncrementNonce, Target: address, ChainID: chainID}
}

func SetCode(address loom.Address, chainID uint64, code []byte) Action {
	return Action{Kind: ActionSetCode, Target: address, ChainID: chainID, Code: code}
}

func (a *Action) String() string {
	switch a.Kind {
	case ActionExternalInstruction:
		return fmt.Sprintf("%v{program: %v, accounts: %d, fee: %d, emulated: %t}",
			a.Kind, a.Instruction.ProgramID, len(a.Instruction.Accounts), a.Fee, a.Emulated)
	case ActionTransfer:
		return fmt.Sprintf("%v{%v -> %v, chain: %d, value: %v}", a.Kind, a.Source, a.Target, a.ChainID, a.Value.Dec())
	case ActionBurn:
		return fmt.Sprintf("%v{%v, chain: %d, value: %v}", a.Kind, a.Source, a.ChainID, a.Value.Dec())
	case ActionSetStorage, ActionSetTransientStorage:
		return fmt.Sprintf("%v{%v[%v] = %v}", a.Kind, a.Target, a.Index.Hex(), a.Word)
	case ActionIncrementNonce:
		return fmt.Sprintf("%v{%v, chain: %d}", a.Kind, a.Target, a.ChainID)
	case ActionSetCode:
		return fmt.Sprintf("%v{%v, chain: %d, size: %d}", a.Kind, a.Target, a.ChainID, len(a.Code))
	}
	return a.Kind.String()
}

// Writes reports whether the action is an external instruction modifying
// the given host account.
func (a *Action) Writes(key loom.Pubkey) bool {
	if a.Kind != ActionExternalInstruction {
		return false
	}
	for _, meta := range a.Instruction.Accounts {
		if meta.Key == key && meta.IsWritable {
			return true
		}
	}
	return false
}
