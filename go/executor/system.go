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
	"encoding/binary"
	"fmt"

	"github.com/Fantom-foundation/Loom/go/loom"
)

// SystemProgramID is the key of the host's system program. It owns all
// accounts that were not assigned to another program.
var SystemProgramID = loom.Pubkey{}

const (
	ErrInsufficientFunds          = loom.ConstError("insufficient funds for instruction")
	ErrAccountAlreadyInitialized  = loom.ConstError("account already initialized")
	ErrInvalidInstructionData     = loom.ConstError("invalid instruction data")
	ErrInvalidInstructionArgument = loom.ConstError("invalid instruction argument")
	ErrMissingInstructionAccount  = loom.ConstError("instruction account is missing")
)

// MaxAccountDataSize is the largest data size of a host account.
const MaxAccountDataSize = 10 << 20

type systemInstruction uint32

const (
	systemCreateAccount systemInstruction = 0
	systemAssign        systemInstruction = 1
	systemTransfer      systemInstruction = 2
	systemAllocate      systemInstruction = 8
)

// SystemCreateAccount builds an instruction funding and initializing a new
// account owned by owner.
func SystemCreateAccount(funder, account loom.Pubkey, lamports, space uint64, owner loom.Pubkey) loom.Instruction {
	data := binary.LittleEndian.AppendUint32(nil, uint32(systemCreateAccount))
	data = binary.LittleEndian.AppendUint64(data, lamports)
	data = binary.LittleEndian.AppendUint64(data, space)
	data = append(data, owner[:]...)
	return loom.Instruction{
		ProgramID: SystemProgramID,
		Accounts: []loom.AccountMeta{
			{Key: funder, IsSigner: true, IsWritable: true},
			{Key: account, IsSigner: true, IsWritable: true},
		},
		Data: data,
	}
}

func SystemAssign(account, owner loom.Pubkey) loom.Instruction {
	data := binary.LittleEndian.AppendUint32(nil, uint32(systemAssign))
	data = append(data, owner[:]...)
	return loom.Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []loom.AccountMeta{{Key: account, IsSigner: true, IsWritable: true}},
		Data:      data,
	}
}

func SystemTransfer(from, to loom.Pubkey, lamports uint64) loom.Instruction {
	data := binary.LittleEndian.AppendUint32(nil, uint32(systemTransfer))
	data = binary.LittleEndian.AppendUint64(data, lamports)
	return loom.Instruction{
		ProgramID: SystemProgramID,
		Accounts: []loom.AccountMeta{
			{Key: from, IsSigner: true, IsWritable: true},
			{Key: to, IsWritable: true},
		},
		Data: data,
	}
}

func SystemAllocate(account loom.Pubkey, space uint64) loom.Instruction {
	data := binary.LittleEndian.AppendUint32(nil, uint32(systemAllocate))
	data = binary.LittleEndian.AppendUint64(data, space)
	return loom.Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []loom.AccountMeta{{Key: account, IsSigner: true, IsWritable: true}},
		Data:      data,
	}
}

// SystemProgram emulates the subset of the system program used by the
// precompile extensions: account creation, assignment, allocation and
// lamport transfers.
type SystemProgram struct{}

func (SystemProgram) ProgramID() loom.Pubkey {
	return SystemProgramID
}

func (SystemProgram) Emulate(instruction loom.Instruction, accounts map[loom.Pubkey]*loom.OwnedAccount) error {
	data := instruction.Data
	if len(data) < 4 {
		return ErrInvalidInstructionData
	}
	kind := systemInstruction(binary.LittleEndian.Uint32(data))
	data = data[4:]

	account := func(i int) (*loom.OwnedAccount, error) {
		if i >= len(instruction.Accounts) {
			return nil, ErrMissingInstructionAccount
		}
		res, found := accounts[instruction.Accounts[i].Key]
		if !found {
			return nil, fmt.Errorf("%w: %v", ErrMissingInstructionAccount, instruction.Accounts[i].Key)
		}
		return res, nil
	}

	switch kind {
	case systemCreateAccount:
		if len(data) != 8+8+32 {
			return ErrInvalidInstructionData
		}
		lamports := binary.LittleEndian.Uint64(data)
		space := binary.LittleEndian.Uint64(data[8:])
		owner := loom.Pubkey(data[16:])
		funder, err := account(0)
		if err != nil {
			return err
		}
		target, err := account(1)
		if err != nil {
			return err
		}
		if space > MaxAccountDataSize {
			return ErrInvalidInstructionArgument
		}
		if funder.Lamports < lamports {
			return ErrInsufficientFunds
		}
		if target.Lamports > 0 || len(target.Data) > 0 || target.Owner != SystemProgramID {
			return ErrAccountAlreadyInitialized
		}
		funder.Lamports -= lamports
		target.Lamports = lamports
		target.Owner = owner
		target.Data = make([]byte, space)

	case systemAssign:
		if len(data) != 32 {
			return ErrInvalidInstructionData
		}
		target, err := account(0)
		if err != nil {
			return err
		}
		if target.Owner != SystemProgramID {
			return ErrAccountAlreadyInitialized
		}
		target.Owner = loom.Pubkey(data)

	case systemTransfer:
		if len(data) != 8 {
			return ErrInvalidInstructionData
		}
		lamports := binary.LittleEndian.Uint64(data)
		from, err := account(0)
		if err != nil {
			return err
		}
		to, err := account(1)
		if err != nil {
			return err
		}
		if len(from.Data) > 0 {
			return ErrInvalidInstructionArgument
		}
		if from.Lamports < lamports || from.Owner != SystemProgramID {
			return ErrInsufficientFunds
		}
		from.Lamports -= lamports
		to.Lamports += lamports

	case systemAllocate:
		if len(data) != 8 {
			return ErrInvalidInstructionData
		}
		target, err := account(0)
		if err != nil {
			return err
		}
		space := binary.LittleEndian.Uint64(data)
		if space > MaxAccountDataSize {
			return ErrInvalidInstructionArgument
		}
		if len(target.Data) > 0 || target.Owner != SystemProgramID {
			return ErrInvalidInstructionData
		}
		target.Data = make([]byte, space)

	default:
		return ErrInvalidInstructionData
	}
	return nil
}
