// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package iterative

import (
	"github.com/Fantom-foundation/Loom/go/interpreter/evm"
	"github.com/Fantom-foundation/Loom/go/loom"
)

// Config controls how transactions are split into iterations and what
// each iteration costs.
type Config struct {
	// MinSteps is the smallest step budget accepted for transactions with
	// a non-zero gas price.
	MinSteps uint64
	// LastIterationMaxSteps caps the steps of the iteration applying the
	// result. An iteration executing more steps holds its result back for
	// a further iteration.
	LastIterationMaxSteps uint64

	// IterationGas is charged for every iteration, StepGas for every
	// executed step.
	IterationGas uint64
	StepGas      uint64
	// CancelGas is charged when a transaction is canceled.
	CancelGas uint64

	// AnalysisCacheSize is the number of code analyses kept between
	// iterations.
	AnalysisCacheSize int

	Listener loom.EventListener `toml:"-"`
	Logs     evm.LogSink        `toml:"-"`
}

func DefaultConfig() Config {
	return Config{
		MinSteps:              500,
		LastIterationMaxSteps: 1,
		IterationGas:          5000,
		StepGas:               1,
		CancelGas:             15000,
		AnalysisCacheSize:     1024,
	}
}
