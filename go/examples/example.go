// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

// Package examples provides contracts with an entry point of signature
// (int)->int together with reference functions computing the same result.
// They are run through the iterative processor to compare single and
// iterated execution.
package examples

import (
	"fmt"
	"math"

	"github.com/Fantom-foundation/Loom/go/account"
	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/ledger"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/Fantom-foundation/Loom/go/processor/iterative"
	"github.com/holiman/uint256"
)

// Example is an executable description of a contract and an entry point with a (int)->int signature.
type Example struct {
	Name      string
	Code      []byte
	function  uint32        // identifier of the function in the contract to be called
	reference func(int) int // a reference function computing the same function
}

type Result struct {
	Result     int
	Iterations int
	Steps      uint64
}

var (
	contractAddress = loom.Address{0xe0}
	callerAddress   = loom.Address{0xca}
	holderKey       = loom.Pubkey{0x40}
)

// maxIterations bounds iterated runs of examples.
const maxIterations = 1 << 20

// Run executes the example on a fresh ledger. The transaction is iterated
// with the given number of steps per iteration, or run in a single
// invocation if steps is zero.
func (e *Example) Run(argument int, steps uint64) (Result, error) {
	l := ledger.New(ledger.DefaultConfig(), executor.SystemProgram{})
	if err := l.SetCode(contractAddress, l.DefaultChainID(), e.Code); err != nil {
		return Result{}, err
	}
	holder := l.CreateAccount(holderKey, l.ProgramID(), 0, nil)
	if _, err := account.CreateHolder(l.ProgramID(), holder, l.Operator()); err != nil {
		return Result{}, err
	}

	config := iterative.DefaultConfig()
	config.MinSteps = 1
	processor, err := iterative.NewProcessor(l, l, config)
	if err != nil {
		return Result{}, err
	}

	// Free transactions are not charged, the limit only bounds the steps.
	tx := &loom.Transaction{
		Hash:     loom.Keccak256(e.Code),
		GasLimit: *uint256.NewInt(math.MaxInt64),
		Target:   &contractAddress,
		CallData: encodeArgument(e.function, argument),
	}

	var (
		outcome    *iterative.Outcome
		iterations int
	)
	if steps == 0 {
		iterations = 1
		if outcome, err = processor.Execute(tx, callerAddress); err != nil {
			return Result{}, err
		}
	} else {
		request := iterative.Request{Holder: holderKey, Transaction: tx, Origin: callerAddress, Steps: steps}
		for outcome == nil || !outcome.Finalized {
			if iterations++; iterations > maxIterations {
				return Result{}, fmt.Errorf("example %v not finished after %d iterations", e.Name, maxIterations)
			}
			if outcome, err = processor.Step(request); err != nil {
				return Result{}, err
			}
		}
	}

	if !outcome.Status.Succeeded() {
		return Result{}, fmt.Errorf("example %v failed with status %v", e.Name, outcome.Status)
	}
	result, err := decodeOutput(outcome.Status.Data)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Result:     result,
		Iterations: iterations,
		Steps:      outcome.StepsTotal,
	}, nil
}

// RunReference runs the reference function of this example to produce the expected result.
func (e *Example) RunReference(argument int) int {
	return e.reference(argument)
}

func encodeArgument(function uint32, arg int) []byte {
	// function selector followed by the argument padded to 32 bytes
	data := make([]byte, 4+32)

	data[0] = byte(function >> 24)
	data[1] = byte(function >> 16)
	data[2] = byte(function >> 8)
	data[3] = byte(function)

	data[4+28] = byte(arg >> 24)
	data[5+28] = byte(arg >> 16)
	data[6+28] = byte(arg >> 8)
	data[7+28] = byte(arg)

	return data
}

func decodeOutput(output []byte) (int, error) {
	if len(output) != 32 {
		return 0, fmt.Errorf("unexpected length of output; wanted 32, got %d", len(output))
	}
	return (int(output[28]) << 24) | (int(output[29]) << 16) | (int(output[30]) << 8) | (int(output[31]) << 0), nil
}

// All lists the available examples.
func All() []Example {
	return []Example{
		GetSquaresExample(),
		GetSha3Example(),
		GetStaticOverheadExample(),
		GetJumpdestAnalysisExample(),
		GetStopAnalysisExample(),
		GetPush1AnalysisExample(),
		GetPush32AnalysisExample(),
	}
}
