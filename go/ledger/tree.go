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
	"fmt"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

type TreeStatus byte

const (
	TreeNodeNotStarted TreeStatus = iota
	TreeNodeInProgress
	TreeNodeSuccess
	TreeNodeFailed
)

func (s TreeStatus) String() string {
	switch s {
	case TreeNodeNotStarted:
		return "not-started"
	case TreeNodeInProgress:
		return "in-progress"
	case TreeNodeSuccess:
		return "success"
	case TreeNodeFailed:
		return "failed"
	}
	return "unknown"
}

// TreeNode is the state of one scheduled transaction of a tree.
type TreeNode struct {
	Status     TreeStatus
	ResultHash loom.Hash
	GasUsed    uint256.Int
}

// Tree is a set of scheduled transactions paid for in advance by a payer.
// Gas not used by finished transactions is returned to the balance of the
// tree.
type Tree struct {
	Payer     loom.Address
	ChainID   uint64
	Balance   uint256.Int
	LastBlock uint64
	Nodes     []TreeNode
}

// CreateTree adds a tree account with count transactions.
func (l *Ledger) CreateTree(key loom.Pubkey, payer loom.Address, chainID uint64, balance uint256.Int, count int) error {
	if _, found := l.accounts[key]; found {
		return fmt.Errorf("tree account %v already exists", key)
	}
	tree := &Tree{Payer: payer, ChainID: chainID, Balance: balance, Nodes: make([]TreeNode, count)}
	data, err := encodeTree(tree, 0)
	if err != nil {
		return err
	}
	l.CreateAccount(key, l.config.ProgramID, 0, data)
	return nil
}

// Tree reads the tree account with the given key.
func (l *Ledger) Tree(key loom.Pubkey) (*Tree, error) {
	data := l.tagged(key, TagTree)
	if data == nil {
		return nil, fmt.Errorf("%w: tree %v", loom.ErrAccountNotFound, key)
	}
	tree := new(Tree)
	if err := rlp.DecodeBytes(data[bodyOffset:], tree); err != nil {
		return nil, fmt.Errorf("failed to decode tree %v: %w", key, err)
	}
	return tree, nil
}

// StartTransaction marks a transaction of the tree as running and takes
// the charge for its gas limit from the tree balance.
func (l *Ledger) StartTransaction(key loom.Pubkey, index uint16, charge uint256.Int) error {
	return l.updateTree(key, index, func(tree *Tree, node *TreeNode) error {
		if node.Status != TreeNodeNotStarted {
			return fmt.Errorf("tree %v transaction %d has status %v", key, index, node.Status)
		}
		if tree.Balance.Lt(&charge) {
			return fmt.Errorf("tree %v balance %v below charge %v", key, tree.Balance.Dec(), charge.Dec())
		}
		tree.Balance.Sub(&tree.Balance, &charge)
		node.Status = TreeNodeInProgress
		return nil
	})
}

// EndTransaction records the result of a transaction of the tree and
// returns the refund of unused gas to the tree balance.
func (l *Ledger) EndTransaction(key loom.Pubkey, index uint16, status loom.ExitStatus, gasUsed, refund uint256.Int) error {
	return l.updateTree(key, index, func(tree *Tree, node *TreeNode) error {
		if node.Status != TreeNodeInProgress {
			return fmt.Errorf("tree %v transaction %d has status %v", key, index, node.Status)
		}
		if !status.IsTerminal() {
			return fmt.Errorf("tree %v transaction %d can not end with status %v", key, index, status)
		}
		node.Status = TreeNodeFailed
		if status.Succeeded() {
			node.Status = TreeNodeSuccess
		}
		node.ResultHash = loom.Keccak256(status.Data)
		node.GasUsed = gasUsed
		if _, overflow := tree.Balance.AddOverflow(&tree.Balance, &refund); overflow {
			return loom.ErrIntegerOverflow
		}
		tree.LastBlock = l.config.BlockNumber
		return nil
	})
}

func (l *Ledger) updateTree(key loom.Pubkey, index uint16, update func(*Tree, *TreeNode) error) error {
	tree, err := l.Tree(key)
	if err != nil {
		return err
	}
	if int(index) >= len(tree.Nodes) {
		return fmt.Errorf("tree %v has no transaction %d", key, index)
	}
	if err := update(tree, &tree.Nodes[index]); err != nil {
		return err
	}
	data, err := encodeTree(tree, revision(l.accounts[key].Data)+1)
	if err != nil {
		return err
	}
	l.record(key)
	l.accounts[key].Data = data
	return nil
}

func encodeTree(tree *Tree, revision uint32) ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(tree)
	if err != nil {
		return nil, err
	}
	data := make([]byte, bodyOffset, bodyOffset+len(encoded))
	data[0] = TagTree
	data = append(data, encoded...)
	setRevision(data, revision)
	return data, nil
}
