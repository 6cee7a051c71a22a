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
	"fmt"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// stateLayoutVersion is the first byte of serialized executor state data.
const stateLayoutVersion = 1

// BlockParams are the block properties observed by a transaction. They are
// fixed when a transaction starts and stay the same over all iterations.
type BlockParams struct {
	Number    uint256.Int
	Timestamp uint256.Int
}

// Result is the outcome of a completed speculative execution: the exit
// status and the actions to be applied to the ledger.
type Result struct {
	Status  loom.ExitStatus
	Actions []Action
}

// ExecutorStateData is the persistent part of an executor state. It
// survives between iterations of a transaction.
type ExecutorStateData struct {
	BlockParams BlockParams
	actions     []Action
	checkpoints []int
	exitStatus  *loom.ExitStatus

	// touched counts accesses to host accounts since the last Deconstruct.
	touched map[loom.Pubkey]uint64
	// timestamped contains contracts depending on the current block.
	timestamped map[loom.Address]struct{}
}

// NewExecutorStateData creates an empty state capturing the current block
// of the backend.
func NewExecutorStateData(backend loom.AccountStorage) *ExecutorStateData {
	return NewExecutorStateDataWithBlock(BlockParams{
		Number:    backend.BlockNumber(),
		Timestamp: backend.BlockTimestamp(),
	})
}

func NewExecutorStateDataWithBlock(params BlockParams) *ExecutorStateData {
	return &ExecutorStateData{
		BlockParams: params,
		actions:     make([]Action, 0, 64),
		checkpoints: make([]int, 0, 16),
		touched:     map[loom.Pubkey]uint64{},
		timestamped: map[loom.Address]struct{}{},
	}
}

// Actions returns the buffered action log.
func (d *ExecutorStateData) Actions() []Action {
	return d.actions
}

// CallDepth is the number of open snapshots.
func (d *ExecutorStateData) CallDepth() int {
	return len(d.checkpoints)
}

// ExitStatus returns the final status, or nil while the execution runs.
func (d *ExecutorStateData) ExitStatus() *loom.ExitStatus {
	return d.exitStatus
}

// SetExitStatus records the terminal status of the execution. All snapshots
// must be closed at this point.
func (d *ExecutorStateData) SetExitStatus(status loom.ExitStatus) {
	if len(d.checkpoints) != 0 {
		panic(loom.ErrInconsistentCallStack)
	}
	d.exitStatus = &status
}

// Cancel drops all buffered actions and marks the execution as canceled.
func (d *ExecutorStateData) Cancel() {
	status := loom.Cancel()
	d.exitStatus = &status
	d.actions = d.actions[:0]
	d.checkpoints = d.checkpoints[:0]
	clear(d.touched)
}

// Deconstruct hands the results of an iteration to the caller. The result
// is nil while the execution is not finished. Touched accounts are moved
// out and reset, timestamped contracts are copied since they are carried
// between iterations.
func (d *ExecutorStateData) Deconstruct() (*Result, map[loom.Pubkey]uint64, []loom.Address) {
	var result *Result
	if d.exitStatus != nil {
		result = &Result{Status: *d.exitStatus, Actions: d.actions}
	}
	touched := d.touched
	d.touched = map[loom.Pubkey]uint64{}
	return result, touched, d.TimestampedContracts()
}

// TimestampedContracts lists the contracts that observed the block number
// or timestamp, ordered by address.
func (d *ExecutorStateData) TimestampedContracts() []loom.Address {
	res := maps.Keys(d.timestamped)
	slices.SortFunc(res, func(a, b loom.Address) int { return bytes.Compare(a[:], b[:]) })
	return res
}

func (d *ExecutorStateData) touch(key loom.Pubkey, count uint64) {
	d.touched[key] += count
}

func (d *ExecutorStateData) markTimestamped(contract loom.Address) {
	d.timestamped[contract] = struct{}{}
}

type touchedRecord struct {
	Key   loom.Pubkey
	Count uint64
}

type stateRecord struct {
	BlockParams BlockParams
	Actions     []Action
	Checkpoints []uint64
	ExitStatus  *loom.ExitStatus `rlp:"nil"`
	Touched     []touchedRecord
	Timestamped []loom.Address
}

func (d *ExecutorStateData) MarshalBinary() ([]byte, error) {
	record := stateRecord{
		BlockParams: d.BlockParams,
		Actions:     d.actions,
		ExitStatus:  d.exitStatus,
		Timestamped: d.TimestampedContracts(),
	}
	for _, checkpoint := range d.checkpoints {
		record.Checkpoints = append(record.Checkpoints, uint64(checkpoint))
	}
	keys := maps.Keys(d.touched)
	slices.SortFunc(keys, loom.Pubkey.Compare)
	for _, key := range keys {
		record.Touched = append(record.Touched, touchedRecord{Key: key, Count: d.touched[key]})
	}
	encoded, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return nil, err
	}
	return append([]byte{stateLayoutVersion}, encoded...), nil
}

// UnmarshalExecutorStateData restores state data produced by MarshalBinary.
func UnmarshalExecutorStateData(data []byte) (*ExecutorStateData, error) {
	if len(data) == 0 || data[0] != stateLayoutVersion {
		return nil, loom.ErrInvalidLayoutVersion
	}
	var record stateRecord
	if err := rlp.DecodeBytes(data[1:], &record); err != nil {
		return nil, fmt.Errorf("failed to decode executor state: %w", err)
	}
	res := NewExecutorStateDataWithBlock(record.BlockParams)
	res.actions = append(res.actions, record.Actions...)
	res.exitStatus = record.ExitStatus
	for _, checkpoint := range record.Checkpoints {
		if checkpoint > uint64(len(res.actions)) {
			return nil, fmt.Errorf("invalid checkpoint %d beyond %d actions", checkpoint, len(res.actions))
		}
		res.checkpoints = append(res.checkpoints, int(checkpoint))
	}
	for _, touched := range record.Touched {
		res.touched[touched.Key] = touched.Count
	}
	for _, address := range record.Timestamped {
		res.timestamped[address] = struct{}{}
	}
	return res, nil
}
