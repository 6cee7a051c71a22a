// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package iterative

import (
	"errors"
	"fmt"

	"github.com/Fantom-foundation/Loom/go/account"
	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/interpreter/evm"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

// maxAllocationRounds bounds the allocation of single invocations.
const maxAllocationRounds = 1 << 12

// finalize settles an iteration: it records the touched accounts, charges
// the gas of the iteration and either applies a terminal result or stores
// the execution for the next iteration.
func (p *Processor) finalize(state *account.StateAccount, data *executor.ExecutorStateData, m *evm.Machine, status loom.ExitStatus, executed uint64, single bool) (*Outcome, error) {
	tx := state.Transaction()
	_, touched, contracts := data.Deconstruct()
	if err := state.UpdateTouchedAccounts(p.ledger, touched); err != nil {
		return nil, err
	}
	if err := state.IncrementStepsExecuted(executed); err != nil {
		return nil, err
	}

	var gas uint256.Int
	gas.SetUint64(executed)
	gas.Mul(&gas, uint256.NewInt(p.config.StepGas))
	gas.Add(&gas, uint256.NewInt(p.config.IterationGas))
	if err := p.charge(state, gas); err != nil {
		var outOfGas *loom.OutOfGasError
		if !errors.As(err, &outOfGas) {
			return nil, err
		}
		p.log.Debug("Transaction out of gas", "hash", tx.Hash, "limit", tx.GasLimit.Dec())
		if err := p.charge(state, state.GasAvailable()); err != nil {
			return nil, err
		}
		if m != nil {
			m.Release()
			m = nil
		}
		data = p.abort(state, data, loom.Revert(loom.BuildRevertMessage(outOfGas.Error())))
		status = *data.ExitStatus()
		contracts = nil
	}

	p.log.Trace("Iteration executed", "hash", tx.Hash, "steps", executed, "total", state.StepsExecuted(), "gas", state.Data().GasUsed.Dec())
	outcome := &Outcome{
		Status:     status,
		Steps:      executed,
		StepsTotal: state.StepsExecuted(),
		GasUsed:    state.Data().GasUsed,
	}

	ready := status.IsTerminal() && (single || executed <= p.config.LastIterationMaxSteps)
	if ready && !state.IsSynced() {
		actions := data.Actions()
		allocated, err := p.allocate(actions, single)
		if err != nil {
			return nil, err
		}
		if allocated {
			if err := p.ledger.ApplyActions(actions); err != nil {
				p.log.Warn("Failed to apply result, reverting", "hash", tx.Hash, "err", err)
				status = loom.Revert(loom.BuildRevertMessage(err.Error()))
				outcome.Status = status
				contracts = nil
			}
		}
		ready = allocated
	}
	if !ready {
		if err := state.SaveExecution(data, m); err != nil {
			return nil, err
		}
		if err := state.Flush(); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	p.ledger.UpdateTimestampMarkers(contracts)
	if err := p.settle(state, status); err != nil {
		return nil, err
	}
	outcome.Finalized = true
	return outcome, nil
}

// allocate grows the accounts needed by the actions. Single invocations
// allocate until all accounts are ready.
func (p *Processor) allocate(actions []executor.Action, single bool) (bool, error) {
	for i := 0; i < maxAllocationRounds; i++ {
		ready, err := p.ledger.Allocate(actions)
		if err != nil || ready || !single {
			return ready, err
		}
	}
	return false, loom.ErrSpaceAllocationFailure
}

// charge records gas used by the transaction. The operator is paid by
// settle, its balance must not change between iterations.
func (p *Processor) charge(state *account.StateAccount, gas uint256.Int) error {
	if _, err := state.UseGas(gas); err != nil {
		return err
	}
	_, err := state.UsePriorityFee(gas)
	return err
}

// abort replaces the execution by one ending with status.
func (p *Processor) abort(state *account.StateAccount, data *executor.ExecutorStateData, status loom.ExitStatus) *executor.ExecutorStateData {
	p.unwind(state)
	res := executor.NewExecutorStateDataWithBlock(data.BlockParams)
	res.SetExitStatus(status)
	state.SetInterrupted(nil)
	return res
}

// unwind reverts the snapshots a synced execution holds on the ledger as
// far as possible. Changes made before an external call are kept.
func (p *Processor) unwind(state *account.StateAccount) {
	if !state.IsSynced() {
		return
	}
	for p.ledger.HasOpenSnapshots() {
		if err := p.ledger.RevertSnapshot(); err != nil {
			p.log.Warn("Synced changes kept", "hash", state.Transaction().Hash, "err", err)
		}
	}
}

// settle pays the operator, refunds the unused gas and turns the state
// account into a finalized marker. Scheduled transactions report to their
// tree instead of refunding the origin.
func (p *Processor) settle(state *account.StateAccount, status loom.ExitStatus) error {
	tx := state.Transaction()
	chainID := tx.ChainIDOr(p.ledger.DefaultChainID())
	gasUsed := state.Data().GasUsed
	var paid uint256.Int
	paid.Mul(&gasUsed, &tx.GasPrice)
	paid.Add(&paid, &state.Data().PriorityFeeUsed)
	if err := p.ledger.Mint(p.ledger.OperatorAddress(), chainID, paid); err != nil {
		return err
	}
	refund, err := state.RefundUnusedGas()
	if err != nil {
		return err
	}
	if tx.IsScheduled() {
		err = p.tree.EndTransaction(tx.Scheduled.TreeAccount, tx.Scheduled.Index, status, gasUsed, refund)
	} else {
		err = p.ledger.Mint(state.Origin(), chainID, refund)
	}
	if err != nil {
		return err
	}
	state.Finalize()
	p.log.Debug("Transaction finalized", "hash", tx.Hash, "status", status, "steps", state.StepsExecuted(), "gas", gasUsed.Dec(), "refund", refund.Dec())
	return nil
}

// Cancel ends a running transaction without applying its result. The gas
// used so far and the cost of canceling are charged. Transactions which
// executed external programs can not be canceled.
func (p *Processor) Cancel(holder loom.Pubkey, hash loom.Hash) (*Outcome, error) {
	acc, err := p.ledger.Account(holder)
	if err != nil {
		return nil, err
	}
	state, err := account.Open(p.ledger.ProgramID(), acc)
	if err != nil {
		return nil, err
	}
	tx := state.Transaction()
	if tx.Hash != hash {
		return nil, fmt.Errorf("%w: %v", loom.ErrHolderInvalidHash, hash)
	}
	if state.HasExternalCalls() {
		return nil, loom.ErrCancelAfterExternalCall
	}
	if !state.IsSynced() && p.ledger.HasOpenSnapshots() {
		return nil, ErrSyncedInProgress
	}
	p.unwind(state)

	cancel := func() (*Outcome, error) {
		gas := state.GasAvailable()
		if cost := uint256.NewInt(p.config.CancelGas); cost.Lt(&gas) {
			gas = *cost
		}
		if err := p.charge(state, gas); err != nil {
			return nil, err
		}
		status := loom.Cancel()
		outcome := &Outcome{
			Status:     status,
			Finalized:  true,
			StepsTotal: state.StepsExecuted(),
			GasUsed:    state.Data().GasUsed,
		}
		p.log.Debug("Transaction canceled", "hash", tx.Hash)
		if err := p.settle(state, status); err != nil {
			return nil, err
		}
		return outcome, nil
	}
	if state.IsSynced() {
		return cancel()
	}
	return p.atomically(acc, cancel)
}
