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

	"github.com/Fantom-foundation/Loom/go/account"
	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/ledger"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/Fantom-foundation/Loom/go/processor/iterative"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/urfave/cli/v2"
)

var fixtureFlag = &cli.StringFlag{
	Name:  "fixture",
	Usage: "TOML file with the configuration, the accounts and the transaction",
}

var dbFlag = &cli.StringFlag{
	Name:  "db",
	Usage: "directory of a LevelDB database keeping the ledger between runs",
}

// session is a ledger opened for one command, optionally backed by a
// database.
type session struct {
	fixture *Fixture
	ledger  *ledger.Ledger
	db      *leveldb.DB
}

func openSession(ctx *cli.Context) (*session, error) {
	fixture, err := LoadFixture(ctx.String(fixtureFlag.Name))
	if err != nil {
		return nil, err
	}
	res := &session{fixture: fixture}
	if path := ctx.String(dbFlag.Name); path != "" {
		if res.db, err = leveldb.OpenFile(path, nil); err != nil {
			return nil, err
		}
		if res.ledger, err = ledger.Load(fixture.Ledger, res.db, executor.SystemProgram{}); err != nil {
			return nil, errors.Join(err, res.db.Close())
		}
	} else {
		res.ledger = ledger.New(fixture.Ledger, executor.SystemProgram{})
	}

	// The accounts of the fixture only seed an empty ledger.
	if len(res.ledger.Keys()) == 0 {
		if err := fixture.Populate(res.ledger); err != nil {
			return nil, errors.Join(err, res.close(false))
		}
	}
	if err := res.ensureAccounts(); err != nil {
		return nil, errors.Join(err, res.close(false))
	}
	return res, nil
}

// ensureAccounts creates the operator and the holder if missing.
func (s *session) ensureAccounts() error {
	l := s.ledger
	if _, err := l.Account(l.Operator()); errors.Is(err, loom.ErrAccountNotFound) {
		l.CreateAccount(l.Operator(), ledger.SystemProgramID, 0, nil)
	}
	if _, err := l.Account(s.fixture.Holder); errors.Is(err, loom.ErrAccountNotFound) {
		holder := l.CreateAccount(s.fixture.Holder, l.ProgramID(), 0, nil)
		if _, err := account.CreateHolder(l.ProgramID(), holder, l.Operator()); err != nil {
			return err
		}
	}
	return nil
}

// close saves the ledger if requested and releases the database.
func (s *session) close(save bool) error {
	if s.db == nil {
		return nil
	}
	var err error
	if save {
		err = s.ledger.Save(s.db)
	}
	return errors.Join(err, s.db.Close())
}

// newProcessor creates a processor on the ledger of s. The ledger also
// keeps the transaction trees.
func newProcessor(s *session) (*iterative.Processor, error) {
	return iterative.NewProcessor(s.ledger, s.ledger, s.fixture.Processor)
}
