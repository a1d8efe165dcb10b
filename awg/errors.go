// This file is part of qupulse - https://github.com/bpapajewski/qupulse
//
// Copyright 2025 Benjamin Papajewski
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package awg

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDuplicateProgram is returned by Upload when the name is already
	// known and force is false.
	ErrDuplicateProgram = errors.New("program already known")

	// ErrUnknownProgram is returned when an operation names a program that
	// has not been uploaded.
	ErrUnknownProgram = errors.New("unknown program")

	// ErrNoProgramArmed is returned by RunCurrent when no program is
	// armed.
	ErrNoProgramArmed = errors.New("no program armed")
)

// OutOfMemoryError reports that a placement batch does not fit into the
// total free capacity of the arena. The slot table is unchanged; freeing
// other programs makes the upload possible.
type OutOfMemoryError struct {
	Free     int // total free capacity, in samples
	Required int // padded size of the batch's unknown waveforms
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: need %d samples, %d free", e.Required, e.Free)
}

// FragmentedError reports that the arena has enough total free capacity
// for a placement batch but not enough contiguous trailing space to amend
// the remainder. Live segments never move, so the only remedies are
// Cleanup or removing programs.
type FragmentedError struct {
	Free     int // free capacity past the in-use boundary
	Required int // padded size of the segments left to amend
}

func (e *FragmentedError) Error() string {
	return fmt.Sprintf("memory too fragmented: need %d trailing samples, %d free", e.Required, e.Free)
}

// UndefinedStateError reports a transport failure midway through a
// multi-step segment or table write. The device may hold a partial
// configuration; the only recovery is a device reset followed by Clear.
type UndefinedStateError struct {
	Op  string
	Err error
}

func (e *UndefinedStateError) Error() string {
	return fmt.Sprintf("%s failed, device state undefined: %v", e.Op, e.Err)
}

// Cause returns the underlying transport error.
func (e *UndefinedStateError) Cause() error { return e.Err }

func (e *UndefinedStateError) Unwrap() error { return e.Err }
