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
	"fmt"

	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/loom"
)

// Allocate grows the accounts needed to apply actions. Each account grows
// by at most Config.MaxGrowth bytes per call. The result is true once all
// accounts have their required size. Growing an account does not change
// its revision.
func (l *Ledger) Allocate(actions []executor.Action) (bool, error) {
	required := map[loom.Pubkey]int{}
	var order []loom.Pubkey
	addresses := map[loom.Pubkey]loom.Address{}
	for i := range actions {
		action := &actions[i]
		if action.Kind != executor.ActionSetCode {
			continue
		}
		key := l.ContractPubkey(action.Target)
		if _, found := required[key]; !found {
			order = append(order, key)
		}
		required[key] = max(required[key], contractHeaderSize+len(action.Code))
		addresses[key] = action.Target
	}

	ready := true
	for _, key := range order {
		existing, found := l.accounts[key]
		size := 0
		if found {
			if l.tagged(key, TagContract) == nil {
				return false, &loom.AccountInvalidTagError{Key: key, Tag: existing.Data[0]}
			}
			size = len(existing.Data)
		}
		if size >= required[key] {
			continue
		}
		target := min(required[key], size+l.config.MaxGrowth)
		if target < contractHeaderSize {
			target = contractHeaderSize
		}
		if !found {
			l.CreateAccount(key, l.config.ProgramID, 0, newContractAccount(addresses[key], target))
		} else {
			l.record(key)
			existing.Data = append(existing.Data, make([]byte, target-size)...)
		}
		l.log.Trace("Account grown", "key", key, "size", target, "required", required[key])
		if target < required[key] {
			ready = false
		}
	}
	return ready, nil
}

// ApplyActions commits the action log of a speculative execution. The
// accounts must have been allocated before. Either all actions are applied
// or, if one fails, none is.
func (l *Ledger) ApplyActions(actions []executor.Action) error {
	l.Snapshot()
	for i := range actions {
		if err := l.apply(&actions[i]); err != nil {
			l.DiscardSnapshot()
			return fmt.Errorf("failed to apply %v: %w", &actions[i], err)
		}
	}
	l.CommitSnapshot()
	return nil
}

func (l *Ledger) apply(action *executor.Action) error {
	switch action.Kind {
	case executor.ActionExternalInstruction:
		return l.ExecuteExternalInstruction(action.Instruction, action.Seeds, action.Fee, true)
	case executor.ActionTransfer:
		return l.Transfer(action.Source, action.Target, action.ChainID, action.Value)
	case executor.ActionBurn:
		return l.Burn(action.Source, action.ChainID, action.Value)
	case executor.ActionSetStorage:
		return l.SetStorage(action.Target, action.Index, action.Word)
	case executor.ActionSetTransientStorage:
		return nil
	case executor.ActionIncrementNonce:
		return l.IncrementNonce(action.Target, action.ChainID)
	case executor.ActionSetCode:
		return l.setCode(action.Target, action.ChainID, action.Code, false)
	}
	return fmt.Errorf("unknown action kind %v", action.Kind)
}
