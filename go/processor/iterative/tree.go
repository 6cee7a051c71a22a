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

//go:generate mockgen -source tree.go -destination tree_mock.go -package iterative

import (
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

// TreeNotifier keeps the nodes of transaction trees. Scheduled transactions
// are charged by their tree when they start and report their result to it
// when they end.
type TreeNotifier interface {
	StartTransaction(tree loom.Pubkey, index uint16, charge uint256.Int) error
	EndTransaction(tree loom.Pubkey, index uint16, status loom.ExitStatus, gasUsed, refund uint256.Int) error
}
