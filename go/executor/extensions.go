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
	"errors"
	"fmt"
	"strings"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	// QueryAccountAddress exposes read access to host accounts.
	QueryAccountAddress = loom.Address{0xff, 19: 0x01}
	// CallProgramAddress lets contracts invoke programs of the host.
	CallProgramAddress = loom.Address{0xff, 19: 0x02}
)

// extensionCode is reported as code of extension addresses. Calls with
// value or code execution never reach it.
var extensionCode = []byte{0xFE}

const (
	ErrUnknownMethodSelector  = loom.ConstError("unknown method selector of precompile extension")
	ErrValueToExtension       = loom.ConstError("precompile extension does not accept value")
	ErrDelegatedExtensionCall = loom.ConstError("callcode or delegatecall of precompile extension")
	ErrInvalidAccountForCall  = loom.ConstError("account is not allowed in external instruction")
	ErrAccountDataOutOfRange  = loom.ConstError("account data range out of bounds")
)

// accountSeedVersion is the first seed of all accounts derived for a
// contract.
const accountSeedVersion = 3

// QueryAccountABI describes the interface of the query extension.
var QueryAccountABI = mustParseABI(`[
	{"type":"function","name":"info","stateMutability":"view",
	 "inputs":[{"name":"key","type":"bytes32"}],
	 "outputs":[{"name":"lamports","type":"uint64"},{"name":"owner","type":"bytes32"},
	            {"name":"executable","type":"bool"},{"name":"length","type":"uint64"}]},
	{"type":"function","name":"data","stateMutability":"view",
	 "inputs":[{"name":"key","type":"bytes32"},{"name":"offset","type":"uint64"},{"name":"length","type":"uint64"}],
	 "outputs":[{"name":"","type":"bytes"}]},
	{"type":"function","name":"contractKey","stateMutability":"view",
	 "inputs":[{"name":"contract","type":"address"}],
	 "outputs":[{"name":"","type":"bytes32"}]}
]`)

// CallProgramABI describes the interface of the call extension. Account
// flags carry the signer bit (1) and the writable bit (2).
var CallProgramABI = mustParseABI(`[
	{"type":"function","name":"execute","stateMutability":"nonpayable",
	 "inputs":[{"name":"lamports","type":"uint64"},{"name":"program","type":"bytes32"},
	           {"name":"keys","type":"bytes32[]"},{"name":"flags","type":"uint8[]"},{"name":"data","type":"bytes"}],
	 "outputs":[{"name":"","type":"bytes"}]},
	{"type":"function","name":"createResource","stateMutability":"nonpayable",
	 "inputs":[{"name":"salt","type":"bytes32"},{"name":"space","type":"uint64"},
	           {"name":"lamports","type":"uint64"},{"name":"owner","type":"bytes32"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"resourceKey","stateMutability":"view",
	 "inputs":[{"name":"salt","type":"bytes32"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"getReturnData","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"bytes"}]}
]`)

func mustParseABI(definition string) abi.ABI {
	res, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return res
}

// IsExtension reports whether address hosts a precompile extension.
func IsExtension(address loom.Address) bool {
	return address == QueryAccountAddress || address == CallProgramAddress
}

// callExtension dispatches a call to a precompile extension. The second
// result is false if address is not an extension.
func callExtension(db loom.Database, context *loom.Context, address loom.Address, input []byte, isStatic bool) ([]byte, bool, error) {
	switch address {
	case QueryAccountAddress:
		res, err := queryAccount(db, input)
		return res, true, err
	case CallProgramAddress:
		res, err := callProgram(db, context, address, input, isStatic)
		return res, true, err
	}
	return nil, false, nil
}

func decodeCall(contract abi.ABI, address loom.Address, input []byte) (*abi.Method, []any, error) {
	if len(input) < 4 {
		return nil, nil, fmt.Errorf("%w: %v, input too short", ErrUnknownMethodSelector, address)
	}
	method, err := contract.MethodById(input[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v, %x", ErrUnknownMethodSelector, address, input[:4])
	}
	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("invalid arguments for %v: %w", method.Name, err)
	}
	return method, args, nil
}

func queryAccount(db loom.Database, input []byte) ([]byte, error) {
	method, args, err := decodeCall(QueryAccountABI, QueryAccountAddress, input)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "info":
		account, err := db.ExternalAccount(args[0].([32]byte))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(account.Lamports, [32]byte(account.Owner), account.Executable, uint64(len(account.Data)))
	case "data":
		account, err := db.ExternalAccount(args[0].([32]byte))
		if err != nil {
			return nil, err
		}
		offset, length := args[1].(uint64), args[2].(uint64)
		end := offset + length
		if end < offset || end > uint64(len(account.Data)) {
			return nil, ErrAccountDataOutOfRange
		}
		return method.Outputs.Pack(account.Data[offset:end])
	case "contractKey":
		address := loom.AddressFromGeth(args[0].(common.Address))
		return method.Outputs.Pack([32]byte(db.ContractPubkey(address)))
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownMethodSelector, method.Name)
}

func callProgram(db loom.Database, context *loom.Context, address loom.Address, input []byte, isStatic bool) ([]byte, error) {
	if !context.Value.IsZero() {
		return nil, ErrValueToExtension
	}
	if context.Contract != address {
		return nil, ErrDelegatedExtensionCall
	}
	method, args, err := decodeCall(CallProgramABI, address, input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "execute":
		if isStatic {
			return nil, loom.ErrStaticModeViolation
		}
		lamports := args[0].(uint64)
		keys, flags := args[2].([][32]byte), args[3].([]uint8)
		if len(keys) != len(flags) {
			return nil, fmt.Errorf("%w: %d keys, %d flags", ErrInvalidInstructionArgument, len(keys), len(flags))
		}
		instruction := loom.Instruction{
			ProgramID: args[1].([32]byte),
			Data:      args[4].([]byte),
		}
		for i, key := range keys {
			instruction.Accounts = append(instruction.Accounts, loom.AccountMeta{
				Key:        key,
				IsSigner:   flags[i]&1 != 0,
				IsWritable: flags[i]&2 != 0,
			})
		}
		return executeInstruction(db, context, instruction, lamports)

	case "createResource":
		if isStatic {
			return nil, loom.ErrStaticModeViolation
		}
		salt := args[0].([32]byte)
		space, lamports, owner := args[1].(uint64), args[2].(uint64), loom.Pubkey(args[3].([32]byte))
		key := ResourceKey(db.ProgramID(), context.Caller, salt)
		if err := createResource(db, context.Caller, key, salt, space, lamports, owner); err != nil {
			return nil, err
		}
		return method.Outputs.Pack([32]byte(key))

	case "resourceKey":
		return method.Outputs.Pack([32]byte(ResourceKey(db.ProgramID(), context.Caller, args[0].([32]byte))))

	case "getReturnData":
		return method.Outputs.Pack(db.ReturnData())
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownMethodSelector, method.Name)
}

// executeInstruction forwards an instruction to the host, signed by the
// calling contract.
func executeInstruction(db loom.Database, context *loom.Context, instruction loom.Instruction, lamports uint64) ([]byte, error) {
	if instruction.ProgramID == db.ProgramID() {
		return nil, loom.ErrExternalProgramSelf
	}
	for _, meta := range instruction.Accounts {
		if meta.Key == db.Operator() || meta.Key == db.ProgramID() {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAccountForCall, meta.Key)
		}
	}

	db.SetReturnData(nil)
	seeds := [][][]byte{ContractSeeds(context.Caller)}
	if err := db.QueueExternalInstruction(instruction, seeds, lamports, false); err != nil {
		var deferred *loom.DeferredCallError
		if errors.As(err, &deferred) {
			return nil, err
		}
		return nil, fmt.Errorf("external instruction of program %v failed: %w", instruction.ProgramID, err)
	}
	return EncodeCallResult(db.ReturnData())
}

// EncodeCallResult encodes the return data of an executed instruction as
// result of the call extension.
func EncodeCallResult(returnData []byte) ([]byte, error) {
	return CallProgramABI.Methods["execute"].Outputs.Pack(returnData)
}

// createResource creates an account owned by owner at a key derived from
// the caller. Missing lamports are provided by the operator.
func createResource(db loom.Database, caller loom.Address, key loom.Pubkey, salt [32]byte, space, lamports uint64, owner loom.Pubkey) error {
	account, err := db.ExternalAccount(key)
	if err != nil {
		return err
	}
	if account.Lamports < lamports {
		transfer := SystemTransfer(db.Operator(), key, lamports-account.Lamports)
		if err := db.QueueExternalInstruction(transfer, nil, 0, true); err != nil {
			return err
		}
	}
	seeds := [][][]byte{ResourceSeeds(caller, salt)}
	if err := db.QueueExternalInstruction(SystemAllocate(key, space), seeds, 0, true); err != nil {
		return err
	}
	return db.QueueExternalInstruction(SystemAssign(key, owner), seeds, 0, true)
}

// ContractSeeds are the signer seeds of the host account of a contract.
func ContractSeeds(contract loom.Address) [][]byte {
	return [][]byte{{accountSeedVersion}, contract[:]}
}

// ResourceSeeds are the signer seeds of a resource account of a contract.
func ResourceSeeds(contract loom.Address, salt [32]byte) [][]byte {
	return [][]byte{{accountSeedVersion}, []byte("ContractData"), contract[:], salt[:]}
}

// ResourceKey derives the key of a resource account of a contract.
func ResourceKey(programID loom.Pubkey, contract loom.Address, salt [32]byte) loom.Pubkey {
	seeds := ResourceSeeds(contract, salt)
	return loom.Pubkey(loom.Keccak256(append([][]byte{programID[:]}, seeds...)...))
}
