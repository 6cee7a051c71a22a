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

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// step executes a single instruction of the active frame.
func (m *Machine) step(db loom.Database, f *frame, op OpCode) (control, error) {
	if err := checkStackBounds(f.stack, op); err != nil {
		return control{}, err
	}
	s := f.stack

	switch {
	case PUSH1 <= op && op <= PUSH32:
		opPush(f, int(op-PUSH1)+1)
		return cont, nil
	case DUP1 <= op && op <= DUP16:
		s.dup(int(op - DUP1))
		return cont, nil
	case SWAP1 <= op && op <= SWAP16:
		s.swap(int(op-SWAP1) + 1)
		return cont, nil
	case LOG0 <= op && op <= LOG4:
		return cont, m.opLog(f, int(op-LOG0))
	}

	var err error
	switch op {
	case STOP:
		return m.exitFrame(db, loom.ExitStop, nil)
	case ADD:
		opAdd(s)
	case MUL:
		opMul(s)
	case SUB:
		opSub(s)
	case DIV:
		opDiv(s)
	case SDIV:
		opSDiv(s)
	case MOD:
		opMod(s)
	case SMOD:
		opSMod(s)
	case ADDMOD:
		opAddMod(s)
	case MULMOD:
		opMulMod(s)
	case EXP:
		opExp(s)
	case SIGNEXTEND:
		opSignExtend(s)
	case LT:
		opLt(s)
	case GT:
		opGt(s)
	case SLT:
		opSlt(s)
	case SGT:
		opSgt(s)
	case EQ:
		opEq(s)
	case ISZERO:
		opIszero(s)
	case AND:
		opAnd(s)
	case OR:
		opOr(s)
	case XOR:
		opXor(s)
	case NOT:
		opNot(s)
	case BYTE:
		opByte(s)
	case SHL:
		opShl(s)
	case SHR:
		opShr(s)
	case SAR:
		opSar(s)
	case SHA3:
		err = opSha3(f)
	case ADDRESS:
		pushAddress(s, f.context.Contract)
	case BALANCE:
		err = opBalance(db, f)
	case ORIGIN:
		pushAddress(s, m.origin)
	case CALLER:
		pushAddress(s, f.context.Caller)
	case CALLVALUE:
		s.push(&f.context.Value)
	case CALLDATALOAD:
		opCallDataLoad(f)
	case CALLDATASIZE:
		s.pushUndefined().SetUint64(uint64(f.callData.Len()))
	case CALLDATACOPY:
		err = opCopy(f, f.callData.Bytes())
	case CODESIZE:
		s.pushUndefined().SetUint64(uint64(f.code.Len()))
	case CODECOPY:
		err = opCopy(f, f.code.Bytes())
	case GASPRICE:
		s.push(&m.gasPrice)
	case EXTCODESIZE:
		err = opExtCodeSize(db, f)
	case EXTCODECOPY:
		err = opExtCodeCopy(db, f)
	case RETURNDATASIZE:
		s.pushUndefined().SetUint64(uint64(f.returnData.Len()))
	case RETURNDATACOPY:
		err = opReturnDataCopy(f)
	case EXTCODEHASH:
		err = opExtCodeHash(db, f)
	case BLOCKHASH:
		err = opBlockHash(db, f)
	case COINBASE, PREVRANDAO, BASEFEE, BLOBBASEFEE:
		s.pushUndefined().Clear()
	case TIMESTAMP:
		err = pushResult(s, func() (uint256.Int, error) { return db.BlockTimestamp(f.context.Contract) })
	case NUMBER:
		err = pushResult(s, func() (uint256.Int, error) { return db.BlockNumber(f.context.Contract) })
	case GASLIMIT, GAS:
		s.push(&f.gasLimit)
	case CHAINID:
		s.pushUndefined().SetUint64(f.chainID)
	case SELFBALANCE:
		err = pushResult(s, func() (uint256.Int, error) { return db.Balance(f.context.Contract, f.chainID) })
	case BLOBHASH:
		s.peek().Clear()
	case POP:
		s.pop()
	case MLOAD:
		err = opMload(f)
	case MSTORE:
		err = opMstore(f)
	case MSTORE8:
		err = opMstore8(f)
	case SLOAD:
		err = opSload(db, f)
	case SSTORE:
		err = opSstore(db, f)
	case TLOAD:
		err = opTload(db, f)
	case TSTORE:
		err = opTstore(db, f)
	case MCOPY:
		err = opMcopy(f)
	case JUMP:
		return m.opJump(f, s.pop())
	case JUMPI:
		destination, condition := s.pop(), s.pop()
		if condition.IsZero() {
			return cont, nil
		}
		return m.opJump(f, destination)
	case PC:
		s.pushUndefined().SetUint64(f.pc)
	case MSIZE:
		s.pushUndefined().SetUint64(uint64(f.memory.Len()))
	case JUMPDEST:
	case PUSH0:
		s.pushUndefined().Clear()
	case CREATE, CREATE2:
		return m.opCreate(db, f, op == CREATE2)
	case CALL, CALLCODE, DELEGATECALL, STATICCALL:
		return m.opCall(db, f, op)
	case RETURN:
		output, err := popOutput(f)
		if err != nil {
			return control{}, err
		}
		return m.exitFrame(db, loom.ExitReturn, output)
	case REVERT:
		output, err := popOutput(f)
		if err != nil {
			return control{}, err
		}
		return m.revertFrame(db, output)
	case SELFDESTRUCT:
		if err := opSelfDestruct(db, f); err != nil {
			return control{}, err
		}
		return m.exitFrame(db, loom.ExitSuicide, nil)
	default:
		return control{}, &loom.InvalidOpcodeError{Contract: f.context.Contract, Opcode: byte(op)}
	}
	return cont, err
}

func opPush(f *frame, n int) {
	var value [32]byte
	code := f.code.Bytes()
	if start := f.pc + 1; start < uint64(len(code)) {
		copy(value[:n], code[start:])
	}
	f.stack.pushUndefined().SetBytes(value[:n])
	f.pc += uint64(n)
}

func (m *Machine) opJump(f *frame, destination *uint256.Int) (control, error) {
	if f.jumpDests == nil {
		analysis := m.config.Analysis
		if analysis == nil {
			analysis = defaultAnalysisCache
		}
		f.jumpDests = analysis.get(f.code.Bytes())
	}
	if !destination.IsUint64() || !f.jumpDests.isValid(destination.Uint64()) {
		return control{}, &loom.InvalidJumpError{Contract: f.context.Contract, Destination: destination.Uint64()}
	}
	f.pc = destination.Uint64()
	return noop, nil
}

func pushAddress(s *Stack, address loom.Address) {
	s.pushUndefined().SetBytes20(address[:])
}

func pushResult(s *Stack, get func() (uint256.Int, error)) error {
	value, err := get()
	if err != nil {
		return err
	}
	s.push(&value)
	return nil
}

func toAddress(value *uint256.Int) loom.Address {
	return loom.Address(value.Bytes20())
}

func opAnd(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.And(a, b)
}

func opOr(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.Or(a, b)
}

func opNot(s *Stack) {
	a := s.peek()
	a.Not(a)
}

func opXor(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.Xor(a, b)
}

func opIszero(s *Stack) {
	top := s.peek()
	if top.IsZero() {
		top.SetOne()
	} else {
		top.Clear()
	}
}

func setBool(trg *uint256.Int, value bool) {
	if value {
		trg.SetOne()
	} else {
		trg.Clear()
	}
}

func opEq(s *Stack) {
	a := s.pop()
	b := s.peek()
	setBool(b, a.Eq(b))
}

func opLt(s *Stack) {
	a := s.pop()
	b := s.peek()
	setBool(b, a.Lt(b))
}

func opGt(s *Stack) {
	a := s.pop()
	b := s.peek()
	setBool(b, a.Gt(b))
}

func opSlt(s *Stack) {
	a := s.pop()
	b := s.peek()
	setBool(b, a.Slt(b))
}

func opSgt(s *Stack) {
	a := s.pop()
	b := s.peek()
	setBool(b, a.Sgt(b))
}

func opShr(s *Stack) {
	a := s.pop()
	b := s.peek()
	if a.LtUint64(256) {
		b.Rsh(b, uint(a.Uint64()))
	} else {
		b.Clear()
	}
}

func opShl(s *Stack) {
	a := s.pop()
	b := s.peek()
	if a.LtUint64(256) {
		b.Lsh(b, uint(a.Uint64()))
	} else {
		b.Clear()
	}
}

func opSar(s *Stack) {
	a := s.pop()
	b := s.peek()
	if a.GtUint64(256) {
		if b.Sign() >= 0 {
			b.Clear()
		} else {
			b.SetAllOne()
		}
		return
	}
	b.SRsh(b, uint(a.Uint64()))
}

func opSignExtend(s *Stack) {
	back, num := s.pop(), s.peek()
	num.ExtendSign(num, back)
}

func opByte(s *Stack) {
	th, val := s.pop(), s.peek()
	val.Byte(th)
}

func opAdd(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.Add(a, b)
}

func opSub(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.Sub(a, b)
}

func opMul(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.Mul(a, b)
}

func opMulMod(s *Stack) {
	a := s.pop()
	b := s.pop()
	n := s.peek()
	n.MulMod(a, b, n)
}

func opDiv(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.Div(a, b)
}

func opSDiv(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.SDiv(a, b)
}

func opMod(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.Mod(a, b)
}

func opAddMod(s *Stack) {
	a := s.pop()
	b := s.pop()
	n := s.peek()
	n.AddMod(a, b, n)
}

func opSMod(s *Stack) {
	a := s.pop()
	b := s.peek()
	b.SMod(a, b)
}

func opExp(s *Stack) {
	base, exponent := s.pop(), s.peek()
	exponent.Exp(base, exponent)
}

func opSha3(f *frame) error {
	offset, size := f.stack.pop(), f.stack.peek()
	o, l, err := toOffsetSize(offset, size)
	if err != nil {
		return err
	}
	data, err := f.memory.getSlice(o, l)
	if err != nil {
		return err
	}
	hash := loom.Keccak256(data)
	size.SetBytes32(hash[:])
	return nil
}

func opBalance(db loom.Database, f *frame) error {
	top := f.stack.peek()
	balance, err := db.Balance(toAddress(top), f.chainID)
	if err != nil {
		return err
	}
	*top = balance
	return nil
}

func opCallDataLoad(f *frame) {
	top := f.stack.peek()
	var value [32]byte
	data := f.callData.Bytes()
	if top.IsUint64() && top.Uint64() < uint64(len(data)) {
		copy(value[:], data[top.Uint64():])
	}
	top.SetBytes32(value[:])
}

// opCopy implements CALLDATACOPY and CODECOPY.
func opCopy(f *frame, source []byte) error {
	memOffset, dataOffset, size := f.stack.pop(), f.stack.pop(), f.stack.pop()
	offset, length, err := toOffsetSize(memOffset, size)
	if err != nil {
		return err
	}
	from, overflow := dataOffset.Uint64WithOverflow()
	if overflow {
		from = ^uint64(0)
	}
	return f.memory.setPadded(offset, length, source, from)
}

func opExtCodeSize(db loom.Database, f *frame) error {
	top := f.stack.peek()
	size, err := db.CodeSize(toAddress(top))
	if err != nil {
		return err
	}
	top.SetUint64(uint64(size))
	return nil
}

func opExtCodeCopy(db loom.Database, f *frame) error {
	address := toAddress(f.stack.pop())
	code, err := db.Code(address)
	if err != nil {
		return err
	}
	return opCopy(f, code.Bytes())
}

func opExtCodeHash(db loom.Database, f *frame) error {
	top := f.stack.peek()
	hash, err := loom.CodeHash(db, toAddress(top), f.chainID)
	if err != nil {
		return err
	}
	top.SetBytes32(hash[:])
	return nil
}

func opReturnDataCopy(f *frame) error {
	memOffset, dataOffset, size := f.stack.pop(), f.stack.pop(), f.stack.pop()
	from, overflow := dataOffset.Uint64WithOverflow()
	if overflow || !size.IsUint64() {
		return loom.ErrReturnDataOutOfRange
	}
	end := from + size.Uint64()
	if end < from || end > uint64(f.returnData.Len()) {
		return loom.ErrReturnDataOutOfRange
	}
	offset, length, err := toOffsetSize(memOffset, size)
	if err != nil {
		return err
	}
	return f.memory.setPadded(offset, length, f.returnData.Bytes(), from)
}

func opBlockHash(db loom.Database, f *frame) error {
	top := f.stack.peek()
	hash, err := db.BlockHash(*top)
	if err != nil {
		return err
	}
	top.SetBytes32(hash[:])
	return nil
}

func opMload(f *frame) error {
	top := f.stack.peek()
	offset, overflow := top.Uint64WithOverflow()
	if overflow {
		return &loom.MemoryAccessError{Offset: offset, Length: 32}
	}
	return f.memory.readWord(offset, top)
}

func opMstore(f *frame) error {
	addr, value := f.stack.pop(), f.stack.pop()
	offset, overflow := addr.Uint64WithOverflow()
	if overflow {
		return &loom.MemoryAccessError{Offset: offset, Length: 32}
	}
	return f.memory.setWord(offset, value)
}

func opMstore8(f *frame) error {
	addr, value := f.stack.pop(), f.stack.pop()
	offset, overflow := addr.Uint64WithOverflow()
	if overflow {
		return &loom.MemoryAccessError{Offset: offset, Length: 1}
	}
	return f.memory.set(offset, []byte{byte(value.Uint64())})
}

func opMcopy(f *frame) error {
	destAddr, srcAddr, size := f.stack.pop(), f.stack.pop(), f.stack.pop()
	if size.IsZero() {
		// zero size skips expansions although offsets may be off-bounds
		return nil
	}
	dest, length, err := toOffsetSize(destAddr, size)
	if err != nil {
		return err
	}
	src, _, err := toOffsetSize(srcAddr, size)
	if err != nil {
		return err
	}
	if err := f.memory.expand(src, length); err != nil {
		return err
	}
	if err := f.memory.expand(dest, length); err != nil {
		return err
	}
	copy(f.memory.store[dest:dest+length], f.memory.store[src:src+length])
	return nil
}

func opSload(db loom.Database, f *frame) error {
	top := f.stack.peek()
	value, err := db.Storage(f.context.Contract, *top)
	if err != nil {
		return err
	}
	top.SetBytes32(value[:])
	return nil
}

func opSstore(db loom.Database, f *frame) error {
	if f.isStatic {
		return loom.ErrStaticModeViolation
	}
	key, value := f.stack.pop(), f.stack.pop()
	return db.SetStorage(f.context.Contract, *key, loom.Word(value.Bytes32()))
}

func opTload(db loom.Database, f *frame) error {
	top := f.stack.peek()
	value, err := db.TransientStorage(f.context.Contract, *top)
	if err != nil {
		return err
	}
	top.SetBytes32(value[:])
	return nil
}

func opTstore(db loom.Database, f *frame) error {
	if f.isStatic {
		return loom.ErrStaticModeViolation
	}
	key, value := f.stack.pop(), f.stack.pop()
	return db.SetTransientStorage(f.context.Contract, *key, loom.Word(value.Bytes32()))
}

func (m *Machine) opLog(f *frame, numTopics int) error {
	if f.isStatic {
		return loom.ErrStaticModeViolation
	}
	offset, size := f.stack.pop(), f.stack.pop()
	topics := make([]loom.Hash, numTopics)
	for i := range topics {
		topics[i] = f.stack.pop().Bytes32()
	}
	o, l, err := toOffsetSize(offset, size)
	if err != nil {
		return err
	}
	data, err := f.memory.getSlice(o, l)
	if err != nil {
		return err
	}
	if m.config.Logs != nil {
		m.config.Logs(f.context.Contract, topics, append([]byte(nil), data...))
	}
	return nil
}

// popOutput reads the output of RETURN and REVERT from memory.
func popOutput(f *frame) ([]byte, error) {
	offset, size := f.stack.pop(), f.stack.pop()
	o, l, err := toOffsetSize(offset, size)
	if err != nil {
		return nil, err
	}
	data, err := f.memory.getSlice(o, l)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

func opSelfDestruct(db loom.Database, f *frame) error {
	if f.isStatic {
		return loom.ErrStaticModeViolation
	}
	beneficiary := toAddress(f.stack.pop())
	balance, err := db.Balance(f.context.Contract, f.chainID)
	if err != nil {
		return err
	}
	return db.Transfer(f.context.Contract, beneficiary, f.chainID, balance)
}

func (m *Machine) opCreate(db loom.Database, f *frame, withSalt bool) (control, error) {
	if f.isStatic {
		return control{}, loom.ErrStaticModeViolation
	}
	s := f.stack
	value, offset, size := *s.pop(), s.pop(), s.pop()
	var salt uint256.Int
	if withSalt {
		salt = *s.pop()
	}
	o, l, err := toOffsetSize(offset, size)
	if err != nil {
		return control{}, err
	}
	if l > loom.MaxInitCodeSize {
		return control{}, loom.ErrInitCodeTooLarge
	}
	initCode, err := f.memory.getSlice(o, l)
	if err != nil {
		return control{}, err
	}
	initCode = append([]byte(nil), initCode...)
	f.returnData = loom.EmptyBuffer()

	creator := f.context.Contract
	chainID := f.context.ContractChainID
	if ok, err := m.canEnter(db, creator, chainID, &value); err != nil || !ok {
		return pushFailure(s, err)
	}

	nonce, err := db.Nonce(creator, chainID)
	if err != nil {
		return control{}, err
	}
	var address loom.Address
	if withSalt {
		address = loom.AddressFromGeth(crypto.CreateAddress2(creator.ToGeth(), salt.Bytes32(), crypto.Keccak256(initCode)))
	} else {
		address = loom.AddressFromGeth(crypto.CreateAddress(creator.ToGeth(), nonce))
	}
	if err := db.IncrementNonce(creator, chainID); err != nil {
		return control{}, err
	}
	var collision *loom.DeployToExistingAccountError
	if err := checkDeployTarget(db, address, creator, chainID); errors.As(err, &collision) {
		return pushFailure(s, nil)
	} else if err != nil {
		return control{}, err
	}

	child := m.fork(reasonCreate, chainID, loom.Context{
		Caller:          creator,
		Contract:        address,
		ContractChainID: chainID,
		Value:           value,
	}, loom.NewBuffer(initCode), loom.EmptyBuffer(), f.gasLimit)
	m.emit(loom.EventBeginVM, child)

	db.Snapshot()
	if err := db.IncrementNonce(address, chainID); err != nil {
		return control{}, err
	}
	if err := db.Transfer(creator, address, chainID, value); err != nil {
		return control{}, err
	}
	return noop, nil
}

func (m *Machine) opCall(db loom.Database, f *frame, op OpCode) (control, error) {
	s := f.stack
	gas := *s.pop()
	address := toAddress(s.pop())
	var value uint256.Int
	if op == CALL || op == CALLCODE {
		value = *s.pop()
	}
	argsOffset, argsSize, retOffset, retSize := s.pop(), s.pop(), s.pop(), s.pop()

	if op == CALL && f.isStatic && !value.IsZero() {
		return control{}, loom.ErrStaticModeViolation
	}

	ao, al, err := toOffsetSize(argsOffset, argsSize)
	if err != nil {
		return control{}, err
	}
	args, err := f.memory.getSlice(ao, al)
	if err != nil {
		return control{}, err
	}
	args = append([]byte(nil), args...)
	ro, rl, err := toOffsetSize(retOffset, retSize)
	if err != nil {
		return control{}, err
	}
	if err := f.memory.expand(ro, rl); err != nil {
		return control{}, err
	}
	f.returnOffset, f.returnSize = ro, rl
	f.returnData = loom.EmptyBuffer()

	chainID := f.context.ContractChainID
	if ok, err := m.canEnter(db, f.context.Contract, chainID, &value); err != nil || !ok {
		return pushFailure(s, err)
	}

	code, err := db.Code(address)
	if err != nil {
		return control{}, err
	}

	var context loom.Context
	switch op {
	case CALL, STATICCALL:
		targetChainID, err := db.ContractChainID(address)
		if err != nil {
			targetChainID = chainID
		}
		context = loom.Context{
			Caller:          f.context.Contract,
			Contract:        address,
			ContractChainID: targetChainID,
			Value:           value,
		}
	case CALLCODE:
		context = loom.Context{
			Caller:          f.context.Contract,
			Contract:        f.context.Contract,
			ContractChainID: f.context.ContractChainID,
			Value:           value,
		}
	case DELEGATECALL:
		context = f.context
	}
	context.CodeAddress = &address

	gasLimit := gas
	if gasLimit.Gt(&f.gasLimit) {
		gasLimit = f.gasLimit
	}
	child := m.fork(reasonCall, chainID, context, code, loom.NewBuffer(args), gasLimit)
	if op == STATICCALL {
		child.isStatic = true
	}
	m.emit(loom.EventBeginVM, child)

	db.Snapshot()
	if op == CALL || op == CALLCODE {
		if err := db.Transfer(f.context.Contract, context.Contract, chainID, value); err != nil {
			return control{}, err
		}
	}
	return m.enterCall(db, child, address)
}

// canEnter checks the conditions under which a nested call or create fails
// without reverting the calling frame.
func (m *Machine) canEnter(db loom.Database, caller loom.Address, chainID uint64, value *uint256.Int) (bool, error) {
	if len(m.frames) >= MaxCallDepth {
		return false, nil
	}
	if value.IsZero() {
		return true, nil
	}
	balance, err := db.Balance(caller, chainID)
	if err != nil {
		return false, err
	}
	return !balance.Lt(value), nil
}

func pushFailure(s *Stack, err error) (control, error) {
	if err != nil {
		return control{}, err
	}
	s.pushUndefined().Clear()
	return cont, nil
}

// enterCall starts the execution of a freshly forked call frame. Precompiles
// complete immediately, all other code starts at pc 0.
func (m *Machine) enterCall(db loom.Database, child *frame, address loom.Address) (control, error) {
	switch {
	case IsPrecompile(address):
		output, err := runPrecompile(address, child.callData.Bytes())
		if err != nil {
			return control{}, err
		}
		return m.exitFrame(db, loom.ExitReturn, output)
	case db.IsPrecompileExtension(address):
		output, _, err := db.PrecompileExtension(&child.context, address, child.callData.Bytes(), child.isStatic)
		var deferred *loom.DeferredCallError
		if errors.As(err, &deferred) {
			child.awaitingExternal = true
			return control{kind: controlExit, status: loom.Interrupt(deferred.State)}, nil
		}
		if err != nil {
			return control{}, err
		}
		return m.exitFrame(db, loom.ExitReturn, output)
	}
	return noop, nil
}
