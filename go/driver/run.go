// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/Fantom-foundation/Loom/go/processor/iterative"
	"github.com/dsnet/golib/unitconv"
	"github.com/urfave/cli/v2"
)

var RunCmd = cli.Command{
	Action: doRun,
	Name:   "run",
	Usage:  "Run the transaction of a fixture",
	Flags: []cli.Flag{
		fixtureFlag,
		dbFlag,
		&cli.StringFlag{
			Name:  "mode",
			Usage: "one of iterative, single or synced",
			Value: "iterative",
		},
		&cli.BoolFlag{
			Name:  "synced",
			Usage: "run iterations with the synced database",
		},
		&cli.Uint64Flag{
			Name:  "steps",
			Usage: "number of steps per iteration",
			Value: 500,
		},
		&cli.IntFlag{
			Name:  "iterations",
			Usage: "maximum number of iterations run by this invocation",
			Value: math.MaxInt,
		},
	},
}

func doRun(ctx *cli.Context) (err error) {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.close(err == nil))
	}()
	if s.fixture.Transaction == nil {
		return fmt.Errorf("fixture contains no transaction")
	}
	tx, err := s.fixture.Transaction.Tx()
	if err != nil {
		return err
	}
	origin := s.fixture.Transaction.Origin

	processor, err := newProcessor(s)
	if err != nil {
		return err
	}

	out := ctx.App.Writer
	start := time.Now()
	var outcome *iterative.Outcome
	switch mode := ctx.String("mode"); mode {
	case "single":
		outcome, err = processor.Execute(tx, origin)
	case "synced":
		outcome, err = processor.ExecuteSynced(tx, origin)
	case "iterative":
		request := iterative.Request{
			Holder:      s.fixture.Holder,
			Transaction: tx,
			Origin:      origin,
			Steps:       ctx.Uint64("steps"),
			Synced:      ctx.Bool("synced"),
		}
		for i := 0; i < ctx.Int("iterations") && (outcome == nil || !outcome.Finalized); i++ {
			if outcome, err = processor.Step(request); err != nil {
				return err
			}
			restarted := ""
			if outcome.Restarted {
				restarted = " (restarted)"
			}
			fmt.Fprintf(out, "[iteration %4d] - %s steps, status %v%s\n",
				i+1, unitconv.FormatPrefix(float64(outcome.Steps), unitconv.SI, 0), outcome.Status, restarted)
		}
	default:
		return fmt.Errorf("invalid mode %q, use one of: iterative, single, synced", mode)
	}
	if err != nil {
		return err
	}
	if outcome == nil {
		return fmt.Errorf("no iteration was run")
	}
	printOutcome(ctx, outcome, time.Since(start))
	return nil
}

func printOutcome(ctx *cli.Context, outcome *iterative.Outcome, duration time.Duration) {
	out := ctx.App.Writer
	if !outcome.Finalized {
		fmt.Fprintf(out, "Transaction pending after %s steps\n", unitconv.FormatPrefix(float64(outcome.StepsTotal), unitconv.SI, 0))
		return
	}
	fmt.Fprintf(out, "Status:   %v\n", outcome.Status)
	fmt.Fprintf(out, "Steps:    %s\n", unitconv.FormatPrefix(float64(outcome.StepsTotal), unitconv.SI, 0))
	fmt.Fprintf(out, "Gas used: %s\n", unitconv.FormatPrefix(float64(outcome.GasUsed.Uint64()), unitconv.SI, 1))
	fmt.Fprintf(out, "Time:     %v\n", duration.Round(time.Microsecond))
	switch outcome.Status.Kind {
	case loom.ExitRevert:
		if message, ok := loom.ParseRevertMessage(outcome.Status.Data); ok {
			fmt.Fprintf(out, "Reason:   %s\n", message)
			return
		}
		fallthrough
	default:
		if len(outcome.Status.Data) > 0 {
			fmt.Fprintf(out, "Output:   0x%x\n", outcome.Status.Data)
		}
	}
}
