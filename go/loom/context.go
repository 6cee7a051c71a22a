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
	"github.com/holiman/uint256"
)

// Context identifies the logical EVM address space of a call frame. It is
// immutable for the lifetime of a frame.
type Context struct {
	Caller          Address
	Contract        Address
	ContractChainID uint64
	Value           uint256.Int
	CodeAddress     *Address `rlp:"nil"` // < nil while running init code
}

// ExitKind enumerates the ways an execution may end.
type ExitKind byte

const (
	ExitStop ExitKind = iota
	ExitReturn
	ExitRevert
	ExitSuicide
	ExitStepLimit
	ExitCancel
	ExitInterrupted
)

func (k ExitKind) String() string {
	switch k {
	case ExitStop:
		return "stop"
	case ExitReturn:
		return "return"
	case ExitRevert:
		return "revert"
	case ExitSuicide:
		return "suicide"
	case ExitStepLimit:
		return "step-limit"
	case ExitCancel:
		return "cancel"
	case ExitInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// ExitStatus summarizes the outcome of Machine.Execute. Data is set for
// Return and Revert, Interrupted only for ExitInterrupted.
type ExitStatus struct {
	Kind        ExitKind
	Data        []byte
	Interrupted *InterruptedState `rlp:"nil"`
}

func Stop() ExitStatus              { return ExitStatus{Kind: ExitStop} }
func Return(data []byte) ExitStatus { return ExitStatus{Kind: ExitReturn, Data: data} }
func Revert(data []byte) ExitStatus { return ExitStatus{Kind: ExitRevert, Data: data} }
func Suicide() ExitStatus           { return ExitStatus{Kind: ExitSuicide} }
func StepLimit() ExitStatus         { return ExitStatus{Kind: ExitStepLimit} }
func Cancel() ExitStatus            { return ExitStatus{Kind: ExitCancel} }
func Interrupt(state *InterruptedState) ExitStatus {
	return ExitStatus{Kind: ExitInterrupted, Interrupted: state}
}

// IsTerminal is false for statuses after which the execution can be
// resumed: the step limit and interrupted external calls.
func (s ExitStatus) IsTerminal() bool {
	return s.Kind != ExitStepLimit && s.Kind != ExitInterrupted
}

// Succeeded reports whether a terminal status denotes a successful
// transaction.
func (s ExitStatus) Succeeded() bool {
	switch s.Kind {
	case ExitStop, ExitReturn, ExitSuicide:
		return true
	}
	return false
}

func (s ExitStatus) String() string {
	switch s.Kind {
	case ExitStop, ExitReturn, ExitSuicide:
		return "succeed"
	case ExitRevert:
		return "revert"
	case ExitInterrupted:
		return "interrupted due to external call"
	case ExitStepLimit:
		return "step limit exceeded"
	case ExitCancel:
		return "cancel"
	}
	return "unknown"
}

// AccountMeta describes how an instruction of the host ledger accesses an
// account.
type AccountMeta struct {
	Key        Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a host-native instruction addressed to an external program.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// InterruptedState records an external instruction that could not be
// executed within the current host invocation.
type InterruptedState struct {
	Instruction Instruction
	Seeds       [][][]byte
	Lamports    uint64
}

// OwnedAccount is a detached copy of a host account.
type OwnedAccount struct {
	Key        Pubkey
	Owner      Pubkey
	Lamports   uint64
	Data       []byte
	Executable bool
	IsSigner   bool
	IsWritable bool
}

// Clone creates a deep copy of the account.
func (a *OwnedAccount) Clone() *OwnedAccount {
	res := *a
	res.Data = append([]byte(nil), a.Data...)
	return &res
}
