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

	"github.com/Fantom-foundation/Loom/go/account"
	"github.com/Fantom-foundation/Loom/go/ledger"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/urfave/cli/v2"
)

var ShowCmd = cli.Command{
	Action: doShow,
	Name:   "show",
	Usage:  "List the accounts of a ledger",
	Flags: []cli.Flag{
		fixtureFlag,
		dbFlag,
	},
}

func doShow(ctx *cli.Context) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close(false)

	l := s.ledger
	out := ctx.App.Writer
	for _, key := range l.Keys() {
		acc, err := l.Account(key)
		if err != nil {
			return err
		}
		kind := "external"
		if acc.Owner == l.ProgramID() {
			kind = describeTag(l.ProgramID(), acc)
		}
		fmt.Fprintf(out, "%v %-14s lamports %d, %d bytes\n", key, kind, acc.Lamports, len(acc.Data))
	}
	return nil
}

func describeTag(programID loom.Pubkey, acc *loom.OwnedAccount) string {
	tag, err := account.Tag(programID, acc)
	if err != nil {
		return "invalid"
	}
	switch tag {
	case account.TagEmpty:
		return "empty"
	case account.TagHolder:
		return "holder"
	case account.TagState:
		return "transaction"
	case account.TagStateFinalized:
		return "finalized"
	case ledger.TagBalance:
		return "balance"
	case ledger.TagContract:
		return "contract"
	case ledger.TagStorageCell:
		return "storage"
	case ledger.TagTree:
		return "tree"
	}
	return fmt.Sprintf("tag %d", tag)
}

var CancelCmd = cli.Command{
	Action:    doCancel,
	Name:      "cancel",
	Usage:     "Cancel the pending transaction of the holder",
	ArgsUsage: "<transaction hash>",
	Flags: []cli.Flag{
		fixtureFlag,
		dbFlag,
	},
}

func doCancel(ctx *cli.Context) (err error) {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("expected the hash of the transaction")
	}
	var hash loom.Hash
	if err := hash.UnmarshalText([]byte(ctx.Args().First())); err != nil {
		return fmt.Errorf("invalid transaction hash: %w", err)
	}

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.close(err == nil))
	}()
	processor, err := newProcessor(s)
	if err != nil {
		return err
	}
	outcome, err := processor.Cancel(s.fixture.Holder, hash)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "Transaction %v canceled, %d gas used\n", hash, outcome.GasUsed.Uint64())
	return nil
}
