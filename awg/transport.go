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

// Transport is the command link to the instrument. All calls block until
// the instrument confirms completion. Any returned error is fatal for the
// operation in flight; multi-step writes are not transactional against
// partial failure (see UndefinedStateError).
type Transport interface {
	// Send transmits a command and waits for completion.
	Send(cmd string) error

	// Query transmits a query and returns the instrument's response.
	Query(cmd string) (string, error)

	// SendBinary transmits a binary payload under the given command
	// prefix.
	SendBinary(prefix string, data []byte) error
}

// Properties describes the fixed limits of one device model.
type Properties struct {
	// TotalCapacity is the waveform memory size per channel pair, in
	// samples.
	TotalCapacity int

	// MinSegmentLen is the smallest uploadable segment length. The idle
	// segment has exactly this length.
	MinSegmentLen int

	// SegmentQuantum is the alignment unit of segment lengths. Capacity
	// checks pad every new segment by one quantum.
	SegmentQuantum int

	// MinSequenceLen is the smallest sequence table the sequencer
	// accepts; shorter tables are padded with idle entries.
	MinSequenceLen int

	// MinAdvancedLen is the smallest advanced sequence table the
	// sequencer accepts.
	MinAdvancedLen int
}

// DefaultProperties returns the limits of the reference device model.
func DefaultProperties() Properties {
	return Properties{
		TotalCapacity:  8 * 1024 * 1024,
		MinSegmentLen:  192,
		SegmentQuantum: 16,
		MinSequenceLen: 3,
		MinAdvancedLen: 3,
	}
}
