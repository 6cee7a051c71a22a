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
	"errors"
	"fmt"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// MaxCallDepth is the maximum number of nested frames.
const MaxCallDepth = 1024

// ErrAwaitingExternalCall is returned by Execute if the machine was
// interrupted by an external call that has not been completed yet.
const ErrAwaitingExternalCall = loom.ConstError("machine awaits completion of an external call")

type reason byte

const (
	reasonCall reason = iota
	reasonCreate
)

// frame is the execution state of one call or create.
type frame struct {
	chainID    uint64
	context    loom.Context
	gasLimit   uint256.Int
	code       loom.Buffer
	callData   loom.Buffer
	returnData loom.Buffer

	// range of this frame's memory receiving the output of a nested call
	returnOffset uint64
	returnSize   uint64

	stack    *Stack
	memory   *Memory
	pc       uint64
	isStatic bool
	reason   reason

	// set while a precompile extension waits for a deferred external call
	awaitingExternal bool

	jumpDests jumpDests // < computed on first jump
}

func (f *frame) release() {
	if f.stack != nil {
		ReturnStack(f.stack)
		f.stack = nil
	}
}

// LogSink receives the EVM logs emitted by LOG0-LOG4. Logs of reverted
// frames are not withdrawn.
type LogSink func(address loom.Address, topics []loom.Hash, data []byte)

// Config holds optional collaborators of a Machine. None of them affects
// the outcome of an execution.
type Config struct {
	Listener loom.EventListener
	Logs     LogSink
	Analysis *AnalysisCache // < nil selects a shared default cache
}

// Machine is a resumable EVM interpreter. Nested calls are modeled as a
// vector of frames, the last one being the active frame. A Machine is not
// safe for concurrent use.
type Machine struct {
	origin   loom.Address
	gasPrice uint256.Int
	frames   []*frame
	started  bool
	final    *loom.ExitStatus // < set once a terminal status was reached
	config   Config
}

// New creates a Machine executing tx on behalf of origin. The value
// transfer, and for creations the nonce increment of the new contract, are
// performed on db before New returns. If New fails, db is left unchanged.
func New(tx *loom.Transaction, origin loom.Address, db loom.Database, config Config) (*Machine, error) {
	chainID := tx.ChainIDOr(db.DefaultChainID())

	balance, err := db.Balance(origin, chainID)
	if err != nil {
		return nil, err
	}
	if balance.Lt(&tx.Value) {
		return nil, &loom.InsufficientBalanceError{Address: origin, ChainID: chainID, Required: tx.Value}
	}

	m := &Machine{
		origin:   origin,
		gasPrice: tx.GasPrice,
		config:   config,
	}
	var root *frame
	if tx.IsCreate() {
		root, err = m.newCreateFrame(tx, chainID, origin, db)
	} else {
		root, err = m.newCallFrame(tx, chainID, origin, db)
	}
	if err != nil {
		return nil, err
	}
	m.frames = append(m.frames, root)
	return m, nil
}

func (m *Machine) newCallFrame(tx *loom.Transaction, chainID uint64, origin loom.Address, db loom.Database) (*frame, error) {
	target := *tx.Target

	db.Snapshot()
	if err := db.Transfer(origin, target, chainID, tx.Value); err != nil {
		return nil, revertOnError(db, err)
	}
	code, err := db.Code(target)
	if err != nil {
		return nil, revertOnError(db, err)
	}
	contractChainID, err := db.ContractChainID(target)
	if err != nil {
		contractChainID = chainID
	}

	return &frame{
		chainID: chainID,
		context: loom.Context{
			Caller:          origin,
			Contract:        target,
			ContractChainID: contractChainID,
			Value:           tx.Value,
			CodeAddress:     &target,
		},
		gasLimit:   tx.GasLimit,
		code:       code,
		callData:   loom.NewBuffer(tx.CallData),
		returnData: loom.EmptyBuffer(),
		stack:      NewStack(),
		memory:     NewMemory(),
		reason:     reasonCall,
	}, nil
}

func (m *Machine) newCreateFrame(tx *loom.Transaction, chainID uint64, origin loom.Address, db loom.Database) (*frame, error) {
	target := loom.AddressFromGeth(crypto.CreateAddress(origin.ToGeth(), tx.Nonce))
	if err := checkDeployTarget(db, target, origin, chainID); err != nil {
		return nil, err
	}

	db.Snapshot()
	if err := db.IncrementNonce(target, chainID); err != nil {
		return nil, revertOnError(db, err)
	}
	if err := db.Transfer(origin, target, chainID, tx.Value); err != nil {
		return nil, revertOnError(db, err)
	}

	return &frame{
		chainID: chainID,
		context: loom.Context{
			Caller:          origin,
			Contract:        target,
			ContractChainID: chainID,
			Value:           tx.Value,
		},
		gasLimit:   tx.GasLimit,
		code:       loom.NewBuffer(tx.CallData),
		callData:   loom.EmptyBuffer(),
		returnData: loom.EmptyBuffer(),
		stack:      NewStack(),
		memory:     NewMemory(),
		reason:     reasonCreate,
	}, nil
}

func checkDeployTarget(db loom.Database, target, caller loom.Address, chainID uint64) error {
	nonce, err := db.Nonce(target, chainID)
	if err != nil {
		return err
	}
	size, err := db.CodeSize(target)
	if err != nil {
		return err
	}
	if nonce != 0 || size != 0 {
		return &loom.DeployToExistingAccountError{Address: target, Caller: caller}
	}
	return nil
}

func revertOnError(db loom.Database, err error) error {
	if revertErr := db.RevertSnapshot(); revertErr != nil {
		return errors.Join(err, revertErr)
	}
	return err
}

// Context returns the context of the active frame.
func (m *Machine) Context() loom.Context {
	return m.top().context
}

// Depth returns the number of active frames.
func (m *Machine) Depth() int {
	return len(m.frames)
}

// SetListener replaces the event listener, e.g. after restoring a machine.
func (m *Machine) SetListener(listener loom.EventListener) {
	m.config.Listener = listener
}

func (m *Machine) top() *frame {
	return m.frames[len(m.frames)-1]
}

// fork makes a new child frame the active frame.
func (m *Machine) fork(r reason, chainID uint64, context loom.Context, code, callData loom.Buffer, gasLimit uint256.Int) *frame {
	parent := m.top()
	child := &frame{
		chainID:    chainID,
		context:    context,
		gasLimit:   gasLimit,
		code:       code,
		callData:   callData,
		returnData: loom.EmptyBuffer(),
		stack:      NewStack(),
		memory:     NewMemory(),
		isStatic:   parent.isStatic,
		reason:     r,
	}
	m.frames = append(m.frames, child)
	return child
}

// join removes the active frame and returns it. A join without a parent
// frame is a fatal violation of the call structure.
func (m *Machine) join() *frame {
	if len(m.frames) < 2 {
		panic(loom.ErrMissingParentFrame)
	}
	child := m.top()
	m.frames = m.frames[:len(m.frames)-1]
	child.release()
	return child
}

// Execute runs at most steps instructions. It returns the exit status and
// the number of executed instructions. ExitStepLimit indicates that the
// budget was exhausted; Execute may then be called again with a fresh
// budget. Errors are failures of the host, EVM level failures are reported
// as reverts.
func (m *Machine) Execute(steps uint64, db loom.Database) (loom.ExitStatus, uint64, error) {
	if m.final != nil {
		return *m.final, 0, nil
	}
	m.checkBound()
	if m.top().awaitingExternal {
		return loom.ExitStatus{}, 0, ErrAwaitingExternalCall
	}

	if !m.started {
		m.started = true
		root := m.top()
		m.emit(loom.EventBeginVM, root)
		if status, done, err := m.runRootPrecompile(db, root); done || err != nil {
			if err == nil && status.IsTerminal() {
				m.final = &status
			}
			return status, 0, err
		}
	}

	executed := uint64(0)
	for {
		if executed >= steps {
			return loom.StepLimit(), executed, nil
		}
		executed++

		f := m.top()
		op := OpCode(f.code.GetOrDefault(f.pc))
		m.emit(loom.EventBeginStep, f)

		res, err := m.step(db, f, op)
		if err != nil {
			res, err = m.revertFrame(db, loom.BuildRevertMessage(err.Error()))
			if err != nil {
				return loom.ExitStatus{}, executed, err
			}
		}

		switch res.kind {
		case controlContinue:
			m.top().pc++
		case controlNoop:
		case controlExit:
			if res.status.IsTerminal() {
				m.final = &res.status
			}
			return res.status, executed, nil
		}
	}
}

// runRootPrecompile handles transactions targeting precompiled contracts,
// which are executed without running the interpreter loop.
func (m *Machine) runRootPrecompile(db loom.Database, root *frame) (loom.ExitStatus, bool, error) {
	address := root.context.Contract
	var output []byte
	var err error
	switch {
	case IsPrecompile(address):
		output, err = runPrecompile(address, root.callData.Bytes())
	case db.IsPrecompileExtension(address):
		output, _, err = db.PrecompileExtension(&root.context, address, root.callData.Bytes(), root.isStatic)
		var deferred *loom.DeferredCallError
		if errors.As(err, &deferred) {
			root.awaitingExternal = true
			return loom.Interrupt(deferred.State), true, nil
		}
	default:
		return loom.ExitStatus{}, false, nil
	}
	if err != nil {
		res, err := m.revertFrame(db, loom.BuildRevertMessage(err.Error()))
		return res.status, true, err
	}
	res, err := m.exitFrame(db, loom.ExitReturn, output)
	return res.status, true, err
}

// CompleteInterrupted resumes a machine interrupted by a deferred external
// call, after the call was executed by the host. The output becomes the
// result of the precompile extension. If the interrupted call was the
// transaction itself, the final status is returned.
func (m *Machine) CompleteInterrupted(db loom.Database, output []byte) (*loom.ExitStatus, error) {
	m.checkBound()
	f := m.top()
	if !f.awaitingExternal {
		return nil, fmt.Errorf("no external call to complete")
	}
	f.awaitingExternal = false
	res, err := m.exitFrame(db, loom.ExitReturn, output)
	if err != nil {
		return nil, err
	}
	if res.kind == controlExit {
		m.final = &res.status
		return &res.status, nil
	}
	m.top().pc++
	return nil, nil
}

func (m *Machine) checkBound() {
	for _, f := range m.frames {
		if !f.code.IsBound() || !f.callData.IsBound() || !f.returnData.IsBound() {
			panic(loom.ErrUnboundBuffer)
		}
	}
}

type controlKind byte

const (
	controlContinue controlKind = iota // < advance to the next instruction
	controlNoop                        // < pc was already updated
	controlExit                        // < execution ended with status
)

type control struct {
	kind   controlKind
	status loom.ExitStatus
}

var (
	cont = control{kind: controlContinue}
	noop = control{kind: controlNoop}
)

// exitFrame ends the active frame successfully. For creations the output is
// deployed as code of the new contract.
func (m *Machine) exitFrame(db loom.Database, kind loom.ExitKind, output []byte) (control, error) {
	f := m.top()
	if f.reason == reasonCreate {
		if err := db.SetCode(f.context.Contract, f.context.ContractChainID, output); err != nil {
			return control{}, err
		}
	}
	db.CommitSnapshot()

	status := loom.ExitStatus{Kind: kind}
	if kind == loom.ExitReturn {
		status.Data = output
	}
	m.emitEnd(f, &status)

	if len(m.frames) == 1 {
		return control{kind: controlExit, status: status}, nil
	}

	child := m.join()
	parent := m.top()
	if child.reason == reasonCreate {
		parent.returnData = loom.EmptyBuffer()
		address := new(uint256.Int).SetBytes20(child.context.Contract[:])
		parent.stack.push(address)
	} else {
		parent.returnData = loom.NewBuffer(output)
		copyToReturnRange(parent, output)
		parent.stack.pushUndefined().SetOne()
	}
	return cont, nil
}

// revertFrame reverts the active frame. Nested frames report failure to
// their parent, the root frame ends the execution.
func (m *Machine) revertFrame(db loom.Database, output []byte) (control, error) {
	if err := db.RevertSnapshot(); err != nil {
		return control{}, err
	}
	f := m.top()
	status := loom.Revert(output)
	m.emitEnd(f, &status)

	if len(m.frames) == 1 {
		return control{kind: controlExit, status: status}, nil
	}

	child := m.join()
	parent := m.top()
	parent.returnData = loom.NewBuffer(output)
	if child.reason == reasonCall {
		copyToReturnRange(parent, output)
	}
	parent.stack.pushUndefined().Clear()
	return cont, nil
}

func copyToReturnRange(parent *frame, output []byte) {
	size := parent.returnSize
	if uint64(len(output)) < size {
		size = uint64(len(output))
	}
	if size > 0 {
		// the range was expanded when the call was made
		copy(parent.memory.store[parent.returnOffset:parent.returnOffset+size], output)
	}
}

func (m *Machine) emit(kind loom.EventKind, f *frame) {
	listener := m.config.Listener
	if listener == nil {
		return
	}
	event := loom.Event{
		Kind:    kind,
		Context: &f.context,
		Depth:   len(m.frames),
		PC:      f.pc,
		Opcode:  f.code.GetOrDefault(f.pc),
	}
	if kind == loom.EventBeginStep {
		event.Stack = f.stack.Words()
		event.Memory = f.memory.Bytes()
		event.ReturnData = f.returnData.Bytes()
	}
	listener.OnEvent(&event)
}

func (m *Machine) emitEnd(f *frame, status *loom.ExitStatus) {
	if listener := m.config.Listener; listener != nil {
		listener.OnEvent(&loom.Event{
			Kind:    loom.EventEndVM,
			Context: &f.context,
			Depth:   len(m.frames),
			PC:      f.pc,
			Status:  status,
		})
	}
}
