// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package account

import (
	"fmt"

	"github.com/Fantom-foundation/Loom/go/executor"
	"github.com/Fantom-foundation/Loom/go/interpreter/evm"
	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Data is the bookkeeping of a transaction executed over several host
// instructions.
type Data struct {
	Owner       loom.Pubkey
	Transaction loom.Transaction
	Origin      loom.Address
	Synced      bool // < state changes are written through to the ledger

	// Revisions holds the revision of every touched account at the time it
	// was first touched.
	Revisions map[loom.Pubkey]Revision
	// Touched accumulates the touch counters of all iterations.
	Touched map[loom.Pubkey]uint64

	GasUsed         uint256.Int
	PriorityFeeUsed uint256.Int // < in tokens
	StepsExecuted   uint64
	ExternalCalls   bool // < an external program was executed
	Interrupted     *loom.InterruptedState
	TreeAccount     *loom.Pubkey
}

type revisionRecord struct {
	Key      loom.Pubkey
	Revision Revision
}

type touchedRecord struct {
	Key   loom.Pubkey
	Count uint64
}

type dataRecord struct {
	Owner           loom.Pubkey
	Transaction     loom.Transaction
	Origin          loom.Address
	Synced          bool
	Revisions       []revisionRecord
	Touched         []touchedRecord
	GasUsed         uint256.Int
	PriorityFeeUsed uint256.Int
	StepsExecuted   uint64
	ExternalCalls   bool
	Interrupted     *loom.InterruptedState `rlp:"nil"`
	TreeAccount     *loom.Pubkey           `rlp:"nil"`
}

func (d *Data) encode() ([]byte, error) {
	record := dataRecord{
		Owner:           d.Owner,
		Transaction:     d.Transaction,
		Origin:          d.Origin,
		Synced:          d.Synced,
		GasUsed:         d.GasUsed,
		PriorityFeeUsed: d.PriorityFeeUsed,
		StepsExecuted:   d.StepsExecuted,
		ExternalCalls:   d.ExternalCalls,
		Interrupted:     d.Interrupted,
		TreeAccount:     d.TreeAccount,
	}
	keys := maps.Keys(d.Revisions)
	slices.SortFunc(keys, loom.Pubkey.Compare)
	for _, key := range keys {
		record.Revisions = append(record.Revisions, revisionRecord{Key: key, Revision: d.Revisions[key]})
	}
	keys = maps.Keys(d.Touched)
	slices.SortFunc(keys, loom.Pubkey.Compare)
	for _, key := range keys {
		record.Touched = append(record.Touched, touchedRecord{Key: key, Count: d.Touched[key]})
	}
	encoded, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return nil, err
	}
	return append([]byte{dataLayoutVersion}, encoded...), nil
}

func decodeData(data []byte) (*Data, error) {
	if len(data) == 0 || data[0] != dataLayoutVersion {
		return nil, loom.ErrInvalidLayoutVersion
	}
	var record dataRecord
	if err := rlp.DecodeBytes(data[1:], &record); err != nil {
		return nil, fmt.Errorf("failed to decode continuation data: %w", err)
	}
	res := &Data{
		Owner:           record.Owner,
		Transaction:     record.Transaction,
		Origin:          record.Origin,
		Synced:          record.Synced,
		Revisions:       make(map[loom.Pubkey]Revision, len(record.Revisions)),
		Touched:         make(map[loom.Pubkey]uint64, len(record.Touched)),
		GasUsed:         record.GasUsed,
		PriorityFeeUsed: record.PriorityFeeUsed,
		StepsExecuted:   record.StepsExecuted,
		ExternalCalls:   record.ExternalCalls,
		Interrupted:     record.Interrupted,
		TreeAccount:     record.TreeAccount,
	}
	for _, entry := range record.Revisions {
		res.Revisions[entry.Key] = entry.Revision
	}
	for _, entry := range record.Touched {
		res.Touched[entry.Key] = entry.Count
	}
	return res, nil
}

// StateAccount is the continuation of a transaction. It is stored in the
// account that held the transaction and consists of a header, the Data of
// the transaction and the serialized executor state and machine.
//
// Changes are kept in memory until Flush writes them to the account.
type StateAccount struct {
	account *loom.OwnedAccount
	data    *Data
	state   []byte
	machine []byte
}

// New turns a holder, or a finalized account of a different transaction,
// into the state account of tx.
func New(programID loom.Pubkey, account *loom.OwnedAccount, operator loom.Pubkey, tx *loom.Transaction, origin loom.Address, synced bool) (*StateAccount, error) {
	holder, err := OpenHolder(programID, account)
	if err != nil {
		return nil, err
	}
	if err := holder.ValidateOwner(operator); err != nil {
		return nil, err
	}
	if holder.IsFinalized() && holder.TransactionHash() == tx.Hash {
		return nil, fmt.Errorf("%w: %v", loom.ErrTransactionFinalized, tx.Hash)
	}

	data := &Data{
		Owner:       holder.Owner(),
		Transaction: *tx,
		Origin:      origin,
		Synced:      synced,
		Revisions:   map[loom.Pubkey]Revision{},
		Touched:     map[loom.Pubkey]uint64{},
	}
	if tx.Scheduled != nil {
		tree := tx.Scheduled.TreeAccount
		data.TreeAccount = &tree
	}
	return &StateAccount{account: account, data: data}, nil
}

// Open reads the state account of a running transaction.
func Open(programID loom.Pubkey, account *loom.OwnedAccount) (*StateAccount, error) {
	tag, err := Tag(programID, account)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagState:
	case TagStateFinalized:
		return nil, fmt.Errorf("%w: account %v", loom.ErrTransactionFinalized, account.Key)
	default:
		return nil, &loom.AccountInvalidTagError{Key: account.Key, Tag: tag}
	}
	raw := account.Data
	if len(raw) < heapOffset {
		return nil, fmt.Errorf("state account %v too small: %d bytes", account.Key, len(raw))
	}
	if raw[1] != headerVersion {
		return nil, fmt.Errorf("%w: header version %d", loom.ErrInvalidLayoutVersion, raw[1])
	}

	blob, err := readSection(raw, offsetData).slice(raw)
	if err != nil {
		return nil, err
	}
	data, err := decodeData(blob)
	if err != nil {
		return nil, err
	}
	res := &StateAccount{account: account, data: data}
	if s := readSection(raw, offsetState); s.length > 0 {
		if res.state, err = s.slice(raw); err != nil {
			return nil, err
		}
		res.state = slices.Clone(res.state)
	}
	if s := readSection(raw, offsetMachine); s.length > 0 {
		if res.machine, err = s.slice(raw); err != nil {
			return nil, err
		}
		res.machine = slices.Clone(res.machine)
	}
	return res, nil
}

func (s *StateAccount) Key() loom.Pubkey {
	return s.account.Key
}

func (s *StateAccount) Data() *Data {
	return s.data
}

func (s *StateAccount) Owner() loom.Pubkey {
	return s.data.Owner
}

func (s *StateAccount) Transaction() *loom.Transaction {
	return &s.data.Transaction
}

func (s *StateAccount) Origin() loom.Address {
	return s.data.Origin
}

func (s *StateAccount) IsSynced() bool {
	return s.data.Synced
}

func (s *StateAccount) StepsExecuted() uint64 {
	return s.data.StepsExecuted
}

func (s *StateAccount) IncrementStepsExecuted(steps uint64) error {
	total := s.data.StepsExecuted + steps
	if total < steps {
		return loom.ErrIntegerOverflow
	}
	s.data.StepsExecuted = total
	return nil
}

func (s *StateAccount) Interrupted() *loom.InterruptedState {
	return s.data.Interrupted
}

func (s *StateAccount) SetInterrupted(state *loom.InterruptedState) {
	s.data.Interrupted = state
}

// MarkExternalCall records that an external program was executed. Such
// transactions can no longer be canceled.
func (s *StateAccount) MarkExternalCall() {
	s.data.ExternalCalls = true
}

func (s *StateAccount) HasExternalCalls() bool {
	return s.data.ExternalCalls
}

// UpdateTouchedAccounts merges the touch counters of an iteration. Accounts
// touched for the first time get their current revision recorded.
func (s *StateAccount) UpdateTouchedAccounts(source RevisionSource, touched map[loom.Pubkey]uint64) error {
	keys := maps.Keys(touched)
	slices.SortFunc(keys, loom.Pubkey.Compare)
	for _, key := range keys {
		count := s.data.Touched[key] + touched[key]
		if count < touched[key] {
			return loom.ErrIntegerOverflow
		}
		s.data.Touched[key] = count
		if _, found := s.data.Revisions[key]; found {
			continue
		}
		revision, err := source.Revision(key)
		if err != nil {
			return err
		}
		s.data.Revisions[key] = revision
	}
	return nil
}

// CheckRevisions reports whether all accounts the transaction relied on
// are unchanged. Accounts touched only once are not relied on.
func (s *StateAccount) CheckRevisions(source RevisionSource) (bool, error) {
	keys := maps.Keys(s.data.Touched)
	slices.SortFunc(keys, loom.Pubkey.Compare)
	for _, key := range keys {
		if s.data.Touched[key] <= 1 {
			continue
		}
		current, err := source.Revision(key)
		if err != nil {
			return false, err
		}
		if recorded, found := s.data.Revisions[key]; !found || recorded != current {
			return false, nil
		}
	}
	return true, nil
}

// CheckTimestamps reports whether none of the given contracts was used in
// a block after blockNumber.
func (s *StateAccount) CheckTimestamps(source RevisionSource, contracts []loom.Address, blockNumber uint64) (bool, error) {
	for _, contract := range contracts {
		marker, err := source.TimestampMarker(contract)
		if err != nil {
			return false, err
		}
		if marker > blockNumber {
			return false, nil
		}
	}
	return true, nil
}

// Restart discards the execution and everything learned about the
// accounts. Gas and nonce bookkeeping is kept.
func (s *StateAccount) Restart() {
	s.data.Revisions = map[loom.Pubkey]Revision{}
	s.data.Touched = map[loom.Pubkey]uint64{}
	s.data.Interrupted = nil
	s.data.StepsExecuted = 0
	s.state = nil
	s.machine = nil
}

// GasAvailable is the part of the gas limit not used so far.
func (s *StateAccount) GasAvailable() uint256.Int {
	var res uint256.Int
	res.Sub(&s.data.Transaction.GasLimit, &s.data.GasUsed)
	return res
}

// UseGas adds amount to the used gas and returns its price in tokens.
func (s *StateAccount) UseGas(amount uint256.Int) (uint256.Int, error) {
	var total, tokens uint256.Int
	if amount.IsZero() {
		return tokens, nil
	}
	if _, overflow := total.AddOverflow(&s.data.GasUsed, &amount); overflow {
		return tokens, loom.ErrIntegerOverflow
	}
	limit := s.data.Transaction.GasLimit
	if total.Gt(&limit) {
		return tokens, &loom.OutOfGasError{Limit: limit, Required: total}
	}
	if _, overflow := tokens.MulOverflow(&amount, &s.data.Transaction.GasPrice); overflow {
		return tokens, loom.ErrIntegerOverflow
	}
	s.data.GasUsed = total
	return tokens, nil
}

// UsePriorityFee returns the priority fee in tokens for amount gas. The
// total is capped by the limit charged when the transaction began.
func (s *StateAccount) UsePriorityFee(amount uint256.Int) (uint256.Int, error) {
	var tokens uint256.Int
	if _, overflow := tokens.MulOverflow(&amount, &s.data.Transaction.PriorityFee); overflow {
		return tokens, loom.ErrIntegerOverflow
	}
	limit, err := s.data.Transaction.PriorityFeeLimitInTokens()
	if err != nil {
		return tokens, err
	}
	var remaining uint256.Int
	remaining.Sub(&limit, &s.data.PriorityFeeUsed)
	if tokens.Gt(&remaining) {
		tokens = remaining
	}
	s.data.PriorityFeeUsed.Add(&s.data.PriorityFeeUsed, &tokens)
	return tokens, nil
}

// RefundUnusedGas marks all remaining gas and priority fee as used and
// returns their value in tokens.
func (s *StateAccount) RefundUnusedGas() (uint256.Int, error) {
	refund, err := s.UseGas(s.GasAvailable())
	if err != nil {
		return refund, err
	}
	limit, err := s.data.Transaction.PriorityFeeLimitInTokens()
	if err != nil {
		return refund, err
	}
	var priority uint256.Int
	priority.Sub(&limit, &s.data.PriorityFeeUsed)
	s.data.PriorityFeeUsed = limit
	refund.Add(&refund, &priority)
	return refund, nil
}

// HasExecution reports whether an executor state is stored.
func (s *StateAccount) HasExecution() bool {
	return s.state != nil
}

// SaveExecution serializes the executor state and, unless it terminated,
// the machine. The machine is detached from all account data afterwards.
func (s *StateAccount) SaveExecution(state *executor.ExecutorStateData, m *evm.Machine) error {
	encodedState, err := state.MarshalBinary()
	if err != nil {
		return err
	}
	var encodedMachine []byte
	if m != nil {
		if encodedMachine, err = m.MarshalBinary(); err != nil {
			return err
		}
		m.Detach()
	}
	s.state = encodedState
	s.machine = encodedMachine
	return nil
}

// ExecutorState restores the stored executor state.
func (s *StateAccount) ExecutorState() (*executor.ExecutorStateData, error) {
	if s.state == nil {
		return nil, loom.ErrStateUninitialized
	}
	return executor.UnmarshalExecutorStateData(s.state)
}

// Machine restores the stored machine and re-attaches it to the accounts
// provided by source. It returns nil if no machine is stored.
func (s *StateAccount) Machine(config evm.Config, source loom.AccountDataSource) (*evm.Machine, error) {
	if s.machine == nil {
		return nil, nil
	}
	m, err := evm.Unmarshal(s.machine, config)
	if err != nil {
		return nil, err
	}
	if err := m.Reattach(source); err != nil {
		m.Release()
		return nil, err
	}
	return m, nil
}

// Flush writes the header, the data and the execution blobs to the
// account.
func (s *StateAccount) Flush() error {
	encoded, err := s.data.encode()
	if err != nil {
		return err
	}
	size := heapOffset + len(encoded) + len(s.state) + len(s.machine)
	if size > MaxAccountSize {
		return fmt.Errorf("%w: state account %v requires %d bytes", loom.ErrSpaceAllocationFailure, s.account.Key, size)
	}

	raw := s.account.Data
	if len(raw) < size {
		raw = append(raw, make([]byte, size-len(raw))...)
	}
	raw[0] = TagState
	raw[1] = headerVersion
	heap := allocator{data: raw, next: heapOffset}
	writeSection(raw, offsetData, heap.store(encoded))
	writeSection(raw, offsetState, heap.store(s.state))
	writeSection(raw, offsetMachine, heap.store(s.machine))
	s.account.Data = raw
	return nil
}

// Finalize turns the account into a finalized marker of the transaction.
// The account can be used as holder again afterwards.
func (s *StateAccount) Finalize() {
	raw := s.account.Data
	if len(raw) < holderHeaderSize {
		raw = append(raw, make([]byte, holderHeaderSize-len(raw))...)
	}
	raw = raw[:holderHeaderSize]
	clear(raw)
	writeHolderHeader(raw, TagStateFinalized, s.data.Owner, s.data.Transaction.Hash)
	s.account.Data = raw
	s.state = nil
	s.machine = nil
}

// allocator hands out consecutive regions of the heap.
type allocator struct {
	data []byte
	next uint64
}

func (a *allocator) store(blob []byte) section {
	res := section{offset: a.next, length: uint64(len(blob))}
	copy(a.data[a.next:], blob)
	a.next += res.length
	return res
}
