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

//go:generate mockgen -source external_program.go -destination external_program_mock.go -package loom

// ExternalProgram emulates a host-native program on detached account
// copies. Emulation lets the speculative Database observe the effects of
// queued instructions before they are executed by the host.
type ExternalProgram interface {
	ProgramID() Pubkey
	// Emulate applies instruction to accounts. All accounts listed by the
	// instruction are present in the map.
	Emulate(instruction Instruction, accounts map[Pubkey]*OwnedAccount) error
}
