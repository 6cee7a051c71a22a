// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package loom

//go:generate mockgen -source tracing.go -destination tracing_mock.go -package loom

import (
	"github.com/holiman/uint256"
)

type EventKind byte

const (
	EventBeginVM EventKind = iota
	EventEndVM
	EventBeginStep
)

func (k EventKind) String() string {
	switch k {
	case EventBeginVM:
		return "BeginVM"
	case EventEndVM:
		return "EndVM"
	case EventBeginStep:
		return "BeginStep"
	}
	return "unknown"
}

// Event is emitted by the interpreter to an attached EventListener. Slices
// are only valid for the duration of the callback.
type Event struct {
	Kind       EventKind
	Context    *Context
	Depth      int
	PC         uint64
	Opcode     byte
	Stack      []uint256.Int
	Memory     []byte
	ReturnData []byte
	Status     *ExitStatus // < only set for EndVM
}

// EventListener observes the execution of a Machine. Listeners must not
// influence the execution outcome.
type EventListener interface {
	OnEvent(event *Event)
}

// EventLog is an EventListener collecting copies of all events.
type EventLog struct {
	Events []Event
}

func (l *EventLog) OnEvent(event *Event) {
	e := *event
	e.Stack = append([]uint256.Int(nil), event.Stack...)
	e.Memory = append([]byte(nil), event.Memory...)
	e.ReturnData = append([]byte(nil), event.ReturnData...)
	l.Events = append(l.Events, e)
}
