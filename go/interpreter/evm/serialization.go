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
	"fmt"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// machineLayoutVersion is the first byte of every serialized machine.
const machineLayoutVersion = 1

type bufferRecord struct {
	Aliased bool
	Key     loom.Pubkey
	Start   uint64
	End     uint64
	Data    []byte
}

func recordBuffer(b loom.Buffer) bufferRecord {
	if key, start, end, ok := b.Account(); ok {
		return bufferRecord{Aliased: true, Key: key, Start: uint64(start), End: uint64(end)}
	}
	return bufferRecord{Data: b.Bytes()}
}

func (r *bufferRecord) restore() loom.Buffer {
	if r.Aliased {
		return loom.UnboundBuffer(r.Key, int(r.Start), int(r.End))
	}
	return loom.NewBuffer(r.Data)
}

type frameRecord struct {
	ChainID          uint64
	Context          loom.Context
	GasLimit         uint256.Int
	Code             bufferRecord
	CallData         bufferRecord
	ReturnData       bufferRecord
	ReturnOffset     uint64
	ReturnSize       uint64
	Stack            []loom.Word
	Memory           []byte
	PC               uint64
	IsStatic         bool
	Reason           uint8
	AwaitingExternal bool
}

type machineRecord struct {
	Origin   loom.Address
	GasPrice uint256.Int
	Started  bool
	Frames   []frameRecord
}

// MarshalBinary serializes the machine. Buffers aliasing account data are
// recorded by account key and range only.
func (m *Machine) MarshalBinary() ([]byte, error) {
	if m.final != nil {
		return nil, fmt.Errorf("machine already terminated with status %v", m.final)
	}
	record := machineRecord{
		Origin:   m.origin,
		GasPrice: m.gasPrice,
		Started:  m.started,
		Frames:   make([]frameRecord, 0, len(m.frames)),
	}
	for _, f := range m.frames {
		words := f.stack.Words()
		stack := make([]loom.Word, len(words))
		for i := range words {
			stack[i] = words[i].Bytes32()
		}
		record.Frames = append(record.Frames, frameRecord{
			ChainID:          f.chainID,
			Context:          f.context,
			GasLimit:         f.gasLimit,
			Code:             recordBuffer(f.code),
			CallData:         recordBuffer(f.callData),
			ReturnData:       recordBuffer(f.returnData),
			ReturnOffset:     f.returnOffset,
			ReturnSize:       f.returnSize,
			Stack:            stack,
			Memory:           f.memory.Bytes(),
			PC:               f.pc,
			IsStatic:         f.isStatic,
			Reason:           uint8(f.reason),
			AwaitingExternal: f.awaitingExternal,
		})
	}
	encoded, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return nil, err
	}
	return append([]byte{machineLayoutVersion}, encoded...), nil
}

// Unmarshal restores a machine serialized by MarshalBinary. Account windows
// of the restored machine are unbound; Reattach has to be called before the
// machine can be executed.
func Unmarshal(data []byte, config Config) (*Machine, error) {
	if len(data) == 0 || data[0] != machineLayoutVersion {
		return nil, loom.ErrInvalidLayoutVersion
	}
	var record machineRecord
	if err := rlp.DecodeBytes(data[1:], &record); err != nil {
		return nil, fmt.Errorf("failed to decode machine: %w", err)
	}
	if len(record.Frames) == 0 {
		panic(loom.ErrInconsistentCallStack)
	}
	m := &Machine{
		origin:   record.Origin,
		gasPrice: record.GasPrice,
		started:  record.Started,
		config:   config,
	}
	for i := range record.Frames {
		r := &record.Frames[i]
		if len(r.Stack) > maxStackSize {
			return nil, loom.ErrStackOverflow
		}
		stack := NewStack()
		for _, word := range r.Stack {
			stack.pushUndefined().SetBytes32(word[:])
		}
		m.frames = append(m.frames, &frame{
			chainID:          r.ChainID,
			context:          r.Context,
			gasLimit:         r.GasLimit,
			code:             r.Code.restore(),
			callData:         r.CallData.restore(),
			returnData:       r.ReturnData.restore(),
			returnOffset:     r.ReturnOffset,
			returnSize:       r.ReturnSize,
			stack:            stack,
			memory:           &Memory{store: r.Memory},
			pc:               r.PC,
			isStatic:         r.IsStatic,
			reason:           reason(r.Reason),
			awaitingExternal: r.AwaitingExternal,
		})
	}
	return m, nil
}

// Detach drops all references to account data. The machine has to be
// re-attached before it is used again.
func (m *Machine) Detach() {
	for _, f := range m.frames {
		f.code.Unbind()
		f.callData.Unbind()
		f.returnData.Unbind()
	}
}

// Reattach binds all account windows of the machine to the current data of
// their accounts.
func (m *Machine) Reattach(source loom.AccountDataSource) error {
	for _, f := range m.frames {
		for _, buffer := range []*loom.Buffer{&f.code, &f.callData, &f.returnData} {
			key, _, _, ok := buffer.Account()
			if !ok {
				continue
			}
			data, err := source.AccountData(key)
			if err != nil {
				return fmt.Errorf("failed to re-attach buffer of account %v: %w", key, err)
			}
			if err := buffer.Rebind(data); err != nil {
				return err
			}
		}
	}
	return nil
}

// Release returns pooled resources of the machine. The machine must not be
// used afterwards.
func (m *Machine) Release() {
	for _, f := range m.frames {
		f.release()
	}
	m.frames = nil
}
