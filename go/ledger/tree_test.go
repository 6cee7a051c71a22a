// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ledger

import (
	"testing"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

func TestLedger_TreeLifecycle(t *testing.T) {
	l := newTestLedger()
	key := loom.Pubkey{0x70}
	if err := l.CreateTree(key, addrA, 1, *uint256.NewInt(1000), 2); err != nil {
		t.Fatalf("failed to create tree: %v", err)
	}
	if err := l.CreateTree(key, addrA, 1, *uint256.NewInt(1000), 2); err == nil {
		t.Errorf("tree created twice")
	}

	if err := l.EndTransaction(key, 0, loom.Stop(), uint256.Int{}, uint256.Int{}); err == nil {
		t.Errorf("transaction ended before it started")
	}
	if err := l.StartTransaction(key, 0, *uint256.NewInt(400)); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if err := l.StartTransaction(key, 0, uint256.Int{}); err == nil {
		t.Errorf("transaction started twice")
	}
	if err := l.StartTransaction(key, 2, uint256.Int{}); err == nil {
		t.Errorf("missing transaction started")
	}
	if err := l.EndTransaction(key, 0, loom.StepLimit(), uint256.Int{}, uint256.Int{}); err == nil {
		t.Errorf("transaction ended with non-terminal status")
	}

	l.SetBlock(9, 0)
	if err := l.EndTransaction(key, 0, loom.Return([]byte{1}), *uint256.NewInt(21), *uint256.NewInt(300)); err != nil {
		t.Fatalf("failed to end: %v", err)
	}
	tree, err := l.Tree(key)
	if err != nil {
		t.Fatalf("failed to read tree: %v", err)
	}
	node := tree.Nodes[0]
	if node.Status != TreeNodeSuccess || node.GasUsed.Uint64() != 21 || node.ResultHash != loom.Keccak256([]byte{1}) {
		t.Errorf("unexpected node %+v", node)
	}
	if tree.Balance.Uint64() != 900 || tree.LastBlock != 9 || tree.Nodes[1].Status != TreeNodeNotStarted {
		t.Errorf("unexpected tree %+v", tree)
	}
	if rev, _ := l.Revision(key); rev.Counter != 2 {
		t.Errorf("unexpected revision %v", rev)
	}

	if err := l.StartTransaction(key, 1, *uint256.NewInt(1000)); err == nil {
		t.Errorf("charge exceeding the tree balance accepted")
	}
	l.StartTransaction(key, 1, uint256.Int{})
	l.EndTransaction(key, 1, loom.Revert(nil), uint256.Int{}, uint256.Int{})
	if tree, _ := l.Tree(key); tree.Nodes[1].Status != TreeNodeFailed {
		t.Errorf("reverted transaction not failed: %v", tree.Nodes[1].Status)
	}
}
