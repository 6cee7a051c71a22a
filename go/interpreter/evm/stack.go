// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package evm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Fantom-foundation/Loom/go/loom"
	"github.com/holiman/uint256"
)

const maxStackSize = 1024 // Maximum size of VM stack allowed.

// Stack is the 1024-element 256-bit word-wide stack of a call frame. It is a
// fixed-size stack to prevent memory reallocation during execution.
//
// The low level operations do not check boundaries. The interpreter checks
// the requirements of each instruction before executing it, see
// checkStackBounds.
//
// Each stack consumes 1024 * 32 bytes = 32KB of memory. Stacks are
// therefore recycled through a pool. Use NewStack and ReturnStack.
type Stack struct {
	data         [maxStackSize]uint256.Int
	stackPointer int
}

// push adds a copy of the given value to the top of the stack.
func (s *Stack) push(d *uint256.Int) {
	s.data[s.stackPointer] = *d
	s.stackPointer++
}

// pushUndefined adds an element with an undefined value to the top of the
// stack and returns a pointer to it.
func (s *Stack) pushUndefined() *uint256.Int {
	s.stackPointer++
	return &s.data[s.stackPointer-1]
}

// pop removes the top element from the stack and returns a pointer to it. The
// obtained pointer is only valid until the next push operation.
func (s *Stack) pop() *uint256.Int {
	s.stackPointer--
	return &s.data[s.stackPointer]
}

// peek returns a pointer to the top element of the stack without removing it.
func (s *Stack) peek() *uint256.Int {
	return &s.data[s.len()-1]
}

// peekN returns a pointer to the n-th element from the top of the stack. The
// top element is at index 0.
func (s *Stack) peekN(n int) *uint256.Int {
	return &s.data[s.len()-n-1]
}

func (s *Stack) len() int {
	return s.stackPointer
}

// swap exchanges the top element with the n-th element from the top.
func (s *Stack) swap(n int) {
	s.data[s.len()-n-1], s.data[s.len()-1] = s.data[s.len()-1], s.data[s.len()-n-1]
}

// dup duplicates the n-th element from the top and pushes it to the top of
// the stack. dup(0) duplicates the top element.
func (s *Stack) dup(n int) {
	s.data[s.stackPointer] = s.data[s.stackPointer-n-1]
	s.stackPointer++
}

// Len returns the number of elements on the stack.
func (s *Stack) Len() int {
	return s.stackPointer
}

// Push adds an element, failing if the stack is full.
func (s *Stack) Push(value *uint256.Int) error {
	if s.stackPointer >= maxStackSize {
		return loom.ErrStackOverflow
	}
	s.push(value)
	return nil
}

// Pop removes the top element, failing if the stack is empty.
func (s *Stack) Pop() (uint256.Int, error) {
	if s.stackPointer == 0 {
		return uint256.Int{}, loom.ErrStackUnderflow
	}
	return *s.pop(), nil
}

// Words returns the elements of the stack, bottom element first.
func (s *Stack) Words() []uint256.Int {
	return s.data[:s.stackPointer]
}

func (s *Stack) String() string {
	b := strings.Builder{}
	for i := 0; i < s.len(); i++ {
		b.WriteString(fmt.Sprintf("    [%4d] 0x%064x\n", s.len()-i-1, s.peekN(i).Bytes32()))
	}
	return b.String()
}

// checkStackBounds verifies that op can be executed on the stack.
func checkStackBounds(s *Stack, op OpCode) error {
	bounds := &staticStackBounds[op]
	if s.len() < bounds.min {
		return loom.ErrStackUnderflow
	}
	if s.len() > bounds.max {
		return loom.ErrStackOverflow
	}
	return nil
}

// ------------------ Stack Pool ------------------

var stackPool = sync.Pool{
	New: func() interface{} {
		return &Stack{}
	},
}

// NewStack returns an empty stack from the reuse pool.
func NewStack() *Stack {
	return stackPool.Get().(*Stack)
}

// ReturnStack returns the stack to the reuse pool. Any stack may only be
// returned once.
func ReturnStack(s *Stack) {
	s.stackPointer = 0
	stackPool.Put(s)
}
