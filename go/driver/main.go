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
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

var verbosityFlag = &cli.IntFlag{
	Name:  "verbosity",
	Usage: "log level: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
	Value: 2,
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "loomrun",
		Usage:     "Loom EVM transaction runner",
		Copyright: "(c) 2024 Fantom Foundation",
		Flags:     []cli.Flag{verbosityFlag},
		Before:    setupLogging,
		Commands: []*cli.Command{
			&RunCmd,
			&ShowCmd,
			&CancelCmd,
		},
	}
}

func setupLogging(ctx *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(ctx.App.ErrWriter, log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), false)
	log.SetDefault(log.NewLogger(handler))
	return nil
}
