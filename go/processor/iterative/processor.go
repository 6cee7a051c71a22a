// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package iterative runs Ethereum transactions over several host
// invocations. The progress of a transaction is kept in a state account
// between iterations; every iteration validates that the accounts the
// transaction relied on are unchanged and restarts the transaction if not.
package iterative

import (
	"errors"
	"fmt"
	"math"

	"github.com/Fantom-foundation/Loom/go/account"
	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/interpreter/evm"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
)

// ErrSyncedInProgress is reported while a synced transaction keeps open
// snapshots on the ledger. No other transaction may touch the ledger then.
const ErrSyncedInProgress = loom.ConstError("a synced transaction is in progress")

// Ledger is the host ledger transactions are executed on.
type Ledger interface {
	loom.SyncedAccountStorage
	account.RevisionSource

	Account(key loom.Pubkey) (*loom.OwnedAccount, error)
	OperatorAddress() loom.Address
	Mint(address loom.Address, chainID uint64, value uint256.Int) error

	Allocate(actions []executor.Action) (bool, error)
	ApplyActions(actions []executor.Action) error
	UpdateTimestampMarkers(contracts []loom.Address)

	ExternalCallCount() uint64
	HasOpenSnapshots() bool
	DiscardSnapshot()
}

// Request describes one iteration of a transaction.
type Request struct {
	// Holder is the account keeping the transaction between iterations.
	Holder loom.Pubkey
	// Transaction is read from the holder if nil.
	Transaction *loom.Transaction
	Origin      loom.Address
	Steps       uint64
	// Synced selects the synced Database. It is fixed by the first
	// iteration.
	Synced bool
}

// Outcome reports the progress of a transaction after an iteration.
type Outcome struct {
	// Status is the step limit while the transaction runs. A terminal
	// status may be reported before the transaction is finalized if its
	// result could not be applied yet.
	Status    loom.ExitStatus
	Finalized bool
	Restarted bool
	// Steps is the number of steps executed by the iteration.
	Steps      uint64
	StepsTotal uint64
	GasUsed    uint256.Int
}

// Processor runs transactions on a ledger. A Processor is not safe for
// concurrent use.
type Processor struct {
	ledger   Ledger
	tree     TreeNotifier
	config   Config
	programs []loom.ExternalProgram
	evm      evm.Config
	log      log.Logger
}

// NewProcessor creates a processor. The tree may be nil if scheduled
// transactions are not supported. The given programs are emulated by
// speculative executions.
func NewProcessor(ledger Ledger, tree TreeNotifier, config Config, programs ...loom.ExternalProgram) (*Processor, error) {
	res := &Processor{
		ledger:   ledger,
		tree:     tree,
		config:   config,
		programs: programs,
		evm:      evm.Config{Listener: config.Listener, Logs: config.Logs},
		log:      log.New("module", "iterative"),
	}
	if config.AnalysisCacheSize > 0 {
		cache, err := evm.NewAnalysisCache(config.AnalysisCacheSize)
		if err != nil {
			return nil, err
		}
		res.evm.Analysis = cache
	}
	return res, nil
}

// Step runs one iteration of a transaction. The transaction begins if the
// holder is not a state account yet and continues otherwise.
func (p *Processor) Step(request Request) (*Outcome, error) {
	holder, err := p.ledger.Account(request.Holder)
	if err != nil {
		return nil, err
	}
	tag, err := account.Tag(p.ledger.ProgramID(), holder)
	if err != nil {
		return nil, err
	}
	if tag == account.TagState {
		return p.resume(holder, request)
	}
	return p.begin(holder, request, false)
}

// Run iterates a transaction until it is finalized. At most iterations
// steps are run.
func (p *Processor) Run(request Request, iterations int) (*Outcome, error) {
	for i := 0; i < iterations; i++ {
		outcome, err := p.Step(request)
		if err != nil || outcome.Finalized {
			return outcome, err
		}
	}
	return nil, fmt.Errorf("transaction not finished after %d iterations", iterations)
}

// Execute runs a transaction in a single invocation with the speculative
// Database and applies its result.
func (p *Processor) Execute(tx *loom.Transaction, origin loom.Address) (*Outcome, error) {
	return p.executeSingle(tx, origin, false)
}

// ExecuteSynced runs a transaction in a single invocation with the synced
// Database. External programs are executed right away.
func (p *Processor) ExecuteSynced(tx *loom.Transaction, origin loom.Address) (*Outcome, error) {
	return p.executeSingle(tx, origin, true)
}

func (p *Processor) executeSingle(tx *loom.Transaction, origin loom.Address, synced bool) (*Outcome, error) {
	scratch := &loom.OwnedAccount{Owner: p.ledger.ProgramID(), IsWritable: true}
	if _, err := account.CreateHolder(p.ledger.ProgramID(), scratch, p.ledger.Operator()); err != nil {
		return nil, err
	}
	request := Request{Transaction: tx, Origin: origin, Steps: math.MaxUint64, Synced: synced}
	return p.begin(scratch, request, true)
}

func (p *Processor) begin(holder *loom.OwnedAccount, request Request, single bool) (*Outcome, error) {
	if p.ledger.HasOpenSnapshots() {
		return nil, ErrSyncedInProgress
	}
	tx := request.Transaction
	if tx == nil {
		h, err := account.OpenHolder(p.ledger.ProgramID(), holder)
		if err != nil {
			return nil, err
		}
		if tx, err = h.Transaction(); err != nil {
			return nil, err
		}
	}
	if err := p.checkSteps(tx, request.Steps); err != nil {
		return nil, err
	}
	start := func() (*Outcome, error) {
		state, err := account.New(p.ledger.ProgramID(), holder, p.ledger.Operator(), tx, request.Origin, request.Synced)
		if err != nil {
			return nil, err
		}
		if err := p.admit(state); err != nil {
			return nil, err
		}
		p.log.Debug("Transaction started", "hash", tx.Hash, "origin", request.Origin, "synced", request.Synced)
		return p.iterate(state, request.Steps, single)
	}
	if request.Synced {
		return start()
	}
	return p.atomically(holder, start)
}

// atomically runs an invocation of a speculative transaction. If it fails,
// the ledger and the holder are restored. Synced transactions keep their
// own snapshots open across invocations and are not covered.
func (p *Processor) atomically(holder *loom.OwnedAccount, invocation func() (*Outcome, error)) (*Outcome, error) {
	saved := holder.Clone()
	p.ledger.Snapshot()
	outcome, err := invocation()
	if err != nil {
		p.ledger.DiscardSnapshot()
		*holder = *saved
		return nil, err
	}
	p.ledger.CommitSnapshot()
	return outcome, nil
}

// admit validates the transaction, charges its gas limit and increments
// the nonce of the origin. This happens once per transaction, restarts do
// not re-admit.
func (p *Processor) admit(state *account.StateAccount) error {
	tx := state.Transaction()
	origin := state.Origin()
	chainID := tx.ChainIDOr(p.ledger.DefaultChainID())
	if !p.ledger.IsValidChainID(chainID) {
		return &loom.InvalidChainIDError{ChainID: chainID}
	}
	if nonce := p.ledger.Nonce(origin, chainID); nonce != tx.Nonce || nonce == math.MaxUint64 {
		return &loom.InvalidNonceError{Origin: origin, Nonce: nonce, TxNonce: tx.Nonce}
	}

	charge, err := tx.GasLimitInTokens()
	if err != nil {
		return err
	}
	priority, err := tx.PriorityFeeLimitInTokens()
	if err != nil {
		return err
	}
	if _, overflow := charge.AddOverflow(&charge, &priority); overflow {
		return loom.ErrIntegerOverflow
	}
	if tx.IsScheduled() {
		if p.tree == nil {
			return fmt.Errorf("scheduled transaction %v without transaction trees", tx.Hash)
		}
		err = p.tree.StartTransaction(tx.Scheduled.TreeAccount, tx.Scheduled.Index, charge)
	} else {
		err = p.ledger.Burn(origin, chainID, charge)
	}
	if err != nil {
		return err
	}
	return p.ledger.IncrementNonce(origin, chainID)
}

func (p *Processor) resume(holder *loom.OwnedAccount, request Request) (*Outcome, error) {
	state, err := account.Open(p.ledger.ProgramID(), holder)
	if err != nil {
		return nil, err
	}
	tx := state.Transaction()
	if request.Transaction != nil && request.Transaction.Hash != tx.Hash {
		return nil, fmt.Errorf("%w: %v", loom.ErrHolderInvalidHash, request.Transaction.Hash)
	}
	if err := p.checkSteps(tx, request.Steps); err != nil {
		return nil, err
	}
	if !state.IsSynced() && p.ledger.HasOpenSnapshots() {
		return nil, ErrSyncedInProgress
	}

	if state.IsSynced() {
		return p.iterate(state, request.Steps, false)
	}
	return p.atomically(holder, func() (*Outcome, error) {
		restarted := false
		if state.HasExecution() {
			valid, err := p.validate(state)
			if err != nil {
				return nil, err
			}
			if !valid {
				p.log.Warn("Accounts changed since the last iteration, restarting", "hash", tx.Hash, "steps", state.StepsExecuted())
				state.Restart()
				restarted = true
			}
		}
		outcome, err := p.iterate(state, request.Steps, false)
		if err != nil {
			return nil, err
		}
		outcome.Restarted = restarted
		return outcome, nil
	})
}

// validate checks that the accounts relied on by the previous iterations
// are unchanged and that no contract depending on the block was used in a
// later block. This also applies to iterations which only apply a stored
// result.
func (p *Processor) validate(state *account.StateAccount) (bool, error) {
	data, err := state.ExecutorState()
	if err != nil {
		return false, err
	}
	if valid, err := state.CheckRevisions(p.ledger); err != nil || !valid {
		return false, err
	}
	return state.CheckTimestamps(p.ledger, data.TimestampedContracts(), data.BlockParams.Number.Uint64())
}

func (p *Processor) checkSteps(tx *loom.Transaction, steps uint64) error {
	if steps < p.config.MinSteps && !tx.GasPrice.IsZero() {
		return &loom.StepLimitError{Steps: steps, Minimum: p.config.MinSteps}
	}
	return nil
}

func (p *Processor) database(state *account.StateAccount, data *executor.ExecutorStateData) loom.Database {
	if state.IsSynced() {
		return executor.NewSyncedExecutorState(p.ledger, data)
	}
	return executor.NewExecutorState(p.ledger, data, p.programs...)
}

// iterate runs the interpreter for at most steps steps and settles the
// iteration.
func (p *Processor) iterate(state *account.StateAccount, steps uint64, single bool) (*Outcome, error) {
	calls := p.ledger.ExternalCallCount()
	data, m, err := p.restore(state)
	if err != nil {
		return nil, err
	}
	status, executed, m, err := p.run(state, data, m, steps, single)
	if p.ledger.ExternalCallCount() != calls {
		state.MarkExternalCall()
	}
	if err != nil {
		if m != nil {
			m.Release()
		}
		return nil, err
	}
	return p.finalize(state, data, m, status, executed, single)
}

// restore loads the execution of the previous iteration or creates a new
// one. Failures to set up the machine end the transaction with a revert.
func (p *Processor) restore(state *account.StateAccount) (*executor.ExecutorStateData, *evm.Machine, error) {
	if state.HasExecution() {
		data, err := state.ExecutorState()
		if err != nil {
			return nil, nil, err
		}
		m, err := state.Machine(p.evm, p.ledger)
		if err != nil {
			return nil, nil, err
		}
		if m == nil && data.ExitStatus() == nil {
			return nil, nil, fmt.Errorf("%w: machine of %v missing", loom.ErrStateUninitialized, state.Key())
		}
		return data, m, nil
	}

	data := executor.NewExecutorStateData(p.ledger)
	m, err := evm.New(state.Transaction(), state.Origin(), p.database(state, data), p.evm)
	if err != nil {
		if !isTransactionFailure(err) {
			return nil, nil, err
		}
		p.log.Debug("Transaction failed before execution", "hash", state.Transaction().Hash, "err", err)
		data.SetExitStatus(loom.Revert(loom.BuildRevertMessage(err.Error())))
		return data, nil, nil
	}
	return data, m, nil
}

func isTransactionFailure(err error) bool {
	var (
		balance  *loom.InsufficientBalanceError
		deploy   *loom.DeployToExistingAccountError
		token    *loom.InvalidTransferTokenError
		chain    *loom.InvalidChainIDError
		nonce    *loom.InvalidNonceError
		codeSize *loom.ContractCodeSizeLimitError
	)
	return errors.As(err, &balance) || errors.As(err, &deploy) || errors.As(err, &token) ||
		errors.As(err, &chain) || errors.As(err, &nonce) || errors.As(err, &codeSize) ||
		errors.Is(err, loom.ErrInitCodeTooLarge)
}

// run executes the machine. The returned machine is nil once the
// execution terminated. A stored terminal status is returned without
// running anything.
func (p *Processor) run(state *account.StateAccount, data *executor.ExecutorStateData, m *evm.Machine, steps uint64, single bool) (loom.ExitStatus, uint64, *evm.Machine, error) {
	if status := data.ExitStatus(); status != nil {
		return *status, 0, m, nil
	}
	db := p.database(state, data)
	if interrupted := state.Interrupted(); interrupted != nil {
		final, err := p.completeInterrupted(state, m, db, interrupted)
		if err != nil {
			return loom.ExitStatus{}, 0, m, err
		}
		if final != nil {
			data.SetExitStatus(*final)
			m.Release()
			return *final, 0, nil, nil
		}
	}

	total := uint64(0)
	for {
		status, executed, err := m.Execute(steps-total, db)
		total += executed
		if err != nil {
			return status, total, m, err
		}
		switch {
		case status.IsTerminal():
			data.SetExitStatus(status)
			m.Release()
			return status, total, nil, nil
		case status.Kind != loom.ExitInterrupted:
			return status, total, m, nil
		case !single:
			state.SetInterrupted(status.Interrupted)
			return status, total, m, nil
		}
		final, err := p.completeInterrupted(state, m, db, status.Interrupted)
		if err != nil {
			return loom.ExitStatus{}, total, m, err
		}
		if final != nil {
			data.SetExitStatus(*final)
			m.Release()
			return *final, total, nil, nil
		}
	}
}

// completeInterrupted executes a deferred external instruction and hands
// its return data to the waiting machine.
func (p *Processor) completeInterrupted(state *account.StateAccount, m *evm.Machine, db loom.Database, interrupted *loom.InterruptedState) (*loom.ExitStatus, error) {
	instruction := interrupted.Instruction
	if err := p.ledger.ExecuteExternalInstruction(instruction, interrupted.Seeds, interrupted.Lamports, true); err != nil {
		return nil, fmt.Errorf("deferred call of program %v failed: %w", instruction.ProgramID, err)
	}
	p.log.Debug("Deferred external call executed", "hash", state.Transaction().Hash, "program", instruction.ProgramID)
	state.SetInterrupted(nil)
	output, err := executor.EncodeCallResult(p.ledger.ReturnData())
	if err != nil {
		return nil, err
	}
	return m.CompleteInterrupted(db, output)
}
