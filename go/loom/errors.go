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
	"fmt"

	"github.com/holiman/uint256"
)

// ConstError is an error type that can be used to define immutable
// error constants.
type ConstError string

func (e ConstError) Error() string {
	return string(e)
}

// EVM execution failures. Raised by instructions and converted into a revert
// of the current frame.
const (
	ErrStackOverflow        = ConstError("EVM stack overflow")
	ErrStackUnderflow       = ConstError("EVM stack underflow")
	ErrStaticModeViolation  = ConstError("EVM static mode violation")
	ErrReturnDataOutOfRange = ConstError("EVM RETURNDATACOPY out of bounds")
	ErrIntegerOverflow      = ConstError("checked integer math overflow")
	ErrCallDepthExceeded    = ConstError("EVM call depth exceeded")
	ErrInitCodeTooLarge     = ConstError("init code larger than allowed")
)

// Errors related to external programs of the host ledger.
const (
	ErrUnavailableExternalCall = ConstError("call of external programs is not available in this mode")
	ErrExternalCallDeferred    = ConstError("external program call deferred to a separate invocation")
	ErrRevertAfterExternalCall = ConstError("revert after an external program call is not supported")
	ErrExternalProgramSelf     = ConstError("program is not allowed to call itself")
)

// Continuation and account layout errors.
const (
	ErrAccountNotFound         = ConstError("account not found")
	ErrAccountNotDeclared      = ConstError("account was not declared for this instruction")
	ErrTransactionFinalized    = ConstError("transaction already finalized")
	ErrStateUninitialized      = ConstError("state account is uninitialized")
	ErrCancelAfterExternalCall = ConstError("transaction cannot be canceled after an external program call")
	ErrHolderInvalidHash       = ConstError("holder account contains a different transaction")
	ErrOperatorBalanceMissing  = ConstError("operator balance account is missing")
	ErrInvalidLayoutVersion    = ConstError("invalid serialization layout version")
)

// Fatal invariant violations. These indicate a defect of the engine and are
// raised with panic, never returned.
const (
	ErrInconsistentCallStack  = ConstError("fatal: inconsistent EVM call stack")
	ErrMissingParentFrame     = ConstError("fatal: join without a parent frame")
	ErrUnboundBuffer          = ConstError("fatal: buffer aliasing an account was not re-bound")
	ErrSpaceAllocationFailure = ConstError("fatal: account space allocation failed after terminal status")
)

// InsufficientBalanceError is reported when a transfer or burn exceeds the
// effective balance of the source account.
type InsufficientBalanceError struct {
	Address  Address
	ChainID  uint64
	Required uint256.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for transfer, account = %v, chain = %d, required = %v",
		e.Address, e.ChainID, e.Required.Dec())
}

// InvalidTransferTokenError is reported when value is sent to a contract
// deployed for a different chain id.
type InvalidTransferTokenError struct {
	Address Address
	ChainID uint64
}

func (e *InvalidTransferTokenError) Error() string {
	return fmt.Sprintf("invalid token for transfer, account = %v, chain = %d", e.Address, e.ChainID)
}

type DeployToExistingAccountError struct {
	Address Address
	Caller  Address
}

func (e *DeployToExistingAccountError) Error() string {
	return fmt.Sprintf("attempt to deploy to existing account %v, caller = %v", e.Address, e.Caller)
}

// ObjectFormatError rejects code starting with 0xEF (EIP-3541).
type ObjectFormatError struct {
	Address Address
}

func (e *ObjectFormatError) Error() string {
	return fmt.Sprintf("new contract code starting with the 0xEF byte (EIP-3541), contract = %v", e.Address)
}

// ContractCodeSizeLimitError rejects code larger than MaxCodeSize (EIP-170).
type ContractCodeSizeLimitError struct {
	Address Address
	Size    int
}

func (e *ContractCodeSizeLimitError) Error() string {
	return fmt.Sprintf("new contract code size exceeds 24kb (EIP-170), contract = %v, size = %d", e.Address, e.Size)
}

type InvalidNonceError struct {
	Origin  Address
	Nonce   uint64
	TxNonce uint64
}

func (e *InvalidNonceError) Error() string {
	return fmt.Sprintf("invalid nonce, origin %v nonce %d != transaction nonce %d", e.Origin, e.Nonce, e.TxNonce)
}

type InvalidChainIDError struct {
	ChainID uint64
}

func (e *InvalidChainIDError) Error() string {
	return fmt.Sprintf("invalid chain id %d", e.ChainID)
}

type OutOfGasError struct {
	Limit    uint256.Int
	Required uint256.Int
}

func (e *OutOfGasError) Error() string {
	return fmt.Sprintf("out of gas, limit = %v, required = %v", e.Limit.Dec(), e.Required.Dec())
}

type InvalidOpcodeError struct {
	Contract Address
	Opcode   byte
}

func (e *InvalidOpcodeError) Error() string {
	return fmt.Sprintf("EVM encountered invalid opcode, contract = %v, opcode = %X", e.Contract, e.Opcode)
}

type InvalidJumpError struct {
	Contract    Address
	Destination uint64
}

func (e *InvalidJumpError) Error() string {
	return fmt.Sprintf("EVM invalid jump destination = %d, contract = %v", e.Destination, e.Contract)
}

type MemoryAccessError struct {
	Offset uint64
	Length uint64
}

func (e *MemoryAccessError) Error() string {
	return fmt.Sprintf("EVM memory access at offset = %d with length = %d is out of limits", e.Offset, e.Length)
}

type AccountInvalidTagError struct {
	Key Pubkey
	Tag byte
}

func (e *AccountInvalidTagError) Error() string {
	return fmt.Sprintf("account %v - invalid tag %d", e.Key, e.Tag)
}

type UnknownExternalProgramError struct {
	Program Pubkey
}

func (e *UnknownExternalProgramError) Error() string {
	return fmt.Sprintf("unknown external program for emulation: %v", e.Program)
}

type StepLimitError struct {
	Steps   uint64
	Minimum uint64
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("step limit %d below minimum %d", e.Steps, e.Minimum)
}

// DeferredCallError is returned by a synced Database when an external
// instruction has to be executed in a separate host invocation. It carries
// everything needed to complete the call later.
type DeferredCallError struct {
	State *InterruptedState
}

func (e *DeferredCallError) Error() string {
	return fmt.Sprintf("%v, program = %v", ErrExternalCallDeferred, e.State.Instruction.ProgramID)
}

func (e *DeferredCallError) Unwrap() error {
	return ErrExternalCallDeferred
}
