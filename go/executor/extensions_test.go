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
	"bytes"
	"errors"
	"testing"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

func extensionContext(address loom.Address) *loom.Context {
	return &loom.Context{Caller: addrA, Contract: address}
}

func TestExtensions_AreRecognized(t *testing.T) {
	_, state := newTestState()
	for _, address := range []loom.Address{QueryAccountAddress, CallProgramAddress} {
		if !state.IsPrecompileExtension(address) {
			t.Errorf("%v should be an extension", address)
		}
		if size, _ := state.CodeSize(address); size != 1 {
			t.Errorf("unexpected code size of %v: %d", address, size)
		}
		if code, _ := state.Code(address); !bytes.Equal(code.Bytes(), []byte{0xFE}) {
			t.Errorf("unexpected code of %v: %x", address, code.Bytes())
		}
	}
	if _, handled, _ := state.PrecompileExtension(extensionContext(addrB), addrB, nil, false); handled {
		t.Errorf("regular address must not be handled")
	}
}

func TestQueryAccount_Info(t *testing.T) {
	backend, state := newTestState()
	key := loom.Pubkey{0x31}
	backend.world.external[key] = &loom.OwnedAccount{Key: key, Owner: loom.Pubkey{0x32}, Lamports: 77, Data: []byte{1, 2, 3, 4}}

	input, err := QueryAccountABI.Pack("info", [32]byte(key))
	if err != nil {
		t.Fatalf("failed to encode call: %v", err)
	}
	output, handled, err := state.PrecompileExtension(extensionContext(QueryAccountAddress), QueryAccountAddress, input, true)
	if err != nil || !handled {
		t.Fatalf("query failed: %v", err)
	}
	values, err := QueryAccountABI.Methods["info"].Outputs.Unpack(output)
	if err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if values[0].(uint64) != 77 || values[1].([32]byte) != [32]byte(loom.Pubkey{0x32}) || values[2].(bool) || values[3].(uint64) != 4 {
		t.Errorf("unexpected result %v", values)
	}
	if touched := state.Data().touched[key]; touched != 2 {
		t.Errorf("queried account should be touched, got %d", touched)
	}
}

func TestQueryAccount_Data(t *testing.T) {
	backend, state := newTestState()
	key := loom.Pubkey{0x31}
	backend.world.external[key] = &loom.OwnedAccount{Key: key, Data: []byte{1, 2, 3, 4}}

	input, _ := QueryAccountABI.Pack("data", [32]byte(key), uint64(1), uint64(2))
	output, _, err := state.PrecompileExtension(extensionContext(QueryAccountAddress), QueryAccountAddress, input, true)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	values, err := QueryAccountABI.Methods["data"].Outputs.Unpack(output)
	if err != nil || !bytes.Equal(values[0].([]byte), []byte{2, 3}) {
		t.Errorf("unexpected result %v, %v", values, err)
	}

	input, _ = QueryAccountABI.Pack("data", [32]byte(key), uint64(3), uint64(2))
	if _, _, err := state.PrecompileExtension(extensionContext(QueryAccountAddress), QueryAccountAddress, input, true); !errors.Is(err, ErrAccountDataOutOfRange) {
		t.Errorf("expected out of range error, got %v", err)
	}
}

func TestQueryAccount_UnknownSelector(t *testing.T) {
	_, state := newTestState()
	for _, input := range [][]byte{nil, {1, 2, 3, 4}} {
		_, _, err := state.PrecompileExtension(extensionContext(QueryAccountAddress), QueryAccountAddress, input, false)
		if !errors.Is(err, ErrUnknownMethodSelector) {
			t.Errorf("expected unknown selector for %x, got %v", input, err)
		}
	}
}

func TestCallProgram_RejectsInvalidContexts(t *testing.T) {
	_, state := newTestState()
	input, _ := CallProgramABI.Pack("execute", uint64(0), [32]byte{0x77}, [][32]byte{}, []uint8{}, []byte{})

	withValue := extensionContext(CallProgramAddress)
	withValue.Value = *uint256.NewInt(1)
	delegated := extensionContext(addrB)

	tests := map[string]struct {
		context  *loom.Context
		isStatic bool
		want     error
	}{
		"value":       {withValue, false, ErrValueToExtension},
		"delegated":   {delegated, false, ErrDelegatedExtensionCall},
		"static":      {extensionContext(CallProgramAddress), true, loom.ErrStaticModeViolation},
		"speculative": {extensionContext(CallProgramAddress), false, loom.ErrUnavailableExternalCall},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, _, err := state.PrecompileExtension(test.context, CallProgramAddress, input, test.isStatic)
			if !errors.Is(err, test.want) {
				t.Errorf("unexpected error, wanted %v, got %v", test.want, err)
			}
		})
	}
}

func TestCallProgram_RejectsProtectedAccounts(t *testing.T) {
	_, state := newTestSyncedState()
	self, _ := CallProgramABI.Pack("execute", uint64(0), [32]byte(testProgramID), [][32]byte{}, []uint8{}, []byte{})
	if _, _, err := state.PrecompileExtension(extensionContext(CallProgramAddress), CallProgramAddress, self, false); !errors.Is(err, loom.ErrExternalProgramSelf) {
		t.Errorf("expected self call error, got %v", err)
	}
	operator, _ := CallProgramABI.Pack("execute", uint64(0), [32]byte{0x77}, [][32]byte{testOperator}, []uint8{2}, []byte{})
	if _, _, err := state.PrecompileExtension(extensionContext(CallProgramAddress), CallProgramAddress, operator, false); !errors.Is(err, ErrInvalidAccountForCall) {
		t.Errorf("expected invalid account error, got %v", err)
	}
}

func TestCallProgram_ExecuteReturnsProgramOutput(t *testing.T) {
	backend, state := newTestSyncedState()
	input, _ := CallProgramABI.Pack("execute", uint64(3), [32]byte{0x77}, [][32]byte{{0x55}, {0x56}}, []uint8{3, 0}, []byte{9})
	output, _, err := state.PrecompileExtension(extensionContext(CallProgramAddress), CallProgramAddress, input, false)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if len(backend.executed) != 1 {
		t.Fatalf("instruction was not executed")
	}
	accounts := backend.executed[0].Accounts
	if !accounts[0].IsSigner || !accounts[0].IsWritable || accounts[1].IsSigner || accounts[1].IsWritable {
		t.Errorf("unexpected account flags %+v", accounts)
	}
	want, _ := EncodeCallResult([]byte("done:\x09"))
	if !bytes.Equal(want, output) {
		t.Errorf("unexpected output %x", output)
	}
}

func TestCallProgram_CreateResourceIsEmulated(t *testing.T) {
	backend, state := newTestState()
	salt := [32]byte{0x99}
	owner := loom.Pubkey{0x98}
	input, _ := CallProgramABI.Pack("createResource", salt, uint64(64), uint64(1000), [32]byte(owner))

	output, _, err := state.PrecompileExtension(extensionContext(CallProgramAddress), CallProgramAddress, input, false)
	if err != nil {
		t.Fatalf("failed to create resource: %v", err)
	}
	key := ResourceKey(testProgramID, addrA, salt)
	if !bytes.Equal(output, key[:]) {
		t.Errorf("unexpected resource key %x, wanted %v", output, key)
	}
	account, err := state.ExternalAccount(key)
	if err != nil {
		t.Fatalf("failed to get resource: %v", err)
	}
	if account.Lamports != 1000 || account.Owner != owner || len(account.Data) != 64 {
		t.Errorf("unexpected resource account %+v", account)
	}
	if _, found := backend.world.external[key]; found {
		t.Errorf("resource must not be created in the backend")
	}
	if got := len(state.Data().Actions()); got != 3 {
		t.Errorf("unexpected number of actions: %d", got)
	}

	keyInput, _ := CallProgramABI.Pack("resourceKey", salt)
	output, _, err = state.PrecompileExtension(extensionContext(CallProgramAddress), CallProgramAddress, keyInput, true)
	if err != nil || !bytes.Equal(output, key[:]) {
		t.Errorf("unexpected resource key %x, %v", output, err)
	}
}

func TestCallProgram_GetReturnData(t *testing.T) {
	backend, state := newTestSyncedState()
	backend.returnData = []byte{1, 2}
	input, _ := CallProgramABI.Pack("getReturnData")
	output, _, err := state.PrecompileExtension(extensionContext(CallProgramAddress), CallProgramAddress, input, true)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	values, err := CallProgramABI.Methods["getReturnData"].Outputs.Unpack(output)
	if err != nil || !bytes.Equal(values[0].([]byte), []byte{1, 2}) {
		t.Errorf("unexpected return data %v, %v", values, err)
	}
}
