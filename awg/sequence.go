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
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/bpapajewski/qupulse/program"
)

// TableEntry is one row of a device sequencing table: play Element with
// the given repeat count; Jump marks the row as a bus-triggered jump
// target. In a sequence table Element is a 1-based segment number; in an
// advanced sequence table it is a 1-based sequence table number.
type TableEntry struct {
	Repeat  uint32
	Element uint32
	Jump    uint8
}

// entryWireSize is the binary size of one downloaded table row.
const entryWireSize = 12

// EncodeTable renders a sequencing table into the binary form downloaded
// through Transport.SendBinary: three little-endian uint32 per row.
func EncodeTable(table []TableEntry) []byte {
	b := make([]byte, entryWireSize*len(table))
	for i, e := range table {
		binary.LittleEndian.PutUint32(b[entryWireSize*i:], e.Repeat)
		binary.LittleEndian.PutUint32(b[entryWireSize*i+4:], e.Element)
		binary.LittleEndian.PutUint32(b[entryWireSize*i+8:], uint32(e.Jump))
	}
	return b
}

// DecodeTable parses the binary table form back into rows.
func DecodeTable(b []byte) ([]TableEntry, error) {
	if len(b)%entryWireSize != 0 {
		return nil, errors.Errorf("table data length %d is not a multiple of %d", len(b), entryWireSize)
	}
	table := make([]TableEntry, len(b)/entryWireSize)
	for i := range table {
		table[i] = TableEntry{
			Repeat:  binary.LittleEndian.Uint32(b[entryWireSize*i:]),
			Element: binary.LittleEndian.Uint32(b[entryWireSize*i+4:]),
			Jump:    uint8(binary.LittleEndian.Uint32(b[entryWireSize*i+8:])),
		}
	}
	return table, nil
}

// Program is the logical form of a lowered pulse program, the shape the
// Manager uploads. Sequence table entries reference waveforms by their
// index into Waveforms; advanced table entries reference sequence tables
// by 1-based position. The Manager renumbers both against device memory
// when the program is armed.
type Program struct {
	Waveforms       []program.Waveform
	SequencerTables [][]TableEntry
	AdvancedTable   []TableEntry
}

// SequenceProgram lowers a compiled instruction sequence consisting of
// waveform executions into a single-sequence Program: one sequence table
// playing each run of equal waveforms with the matching repeat count, and
// an advanced table playing that one sequence once. Jump instructions
// cannot be expressed in a single sequence; lowering them is the caller's
// job (see package program).
func SequenceProgram(seq []program.Instruction) (*Program, error) {
	p := &Program{}
	var table []TableEntry
	for _, in := range seq {
		switch in := in.(type) {
		case program.Exec:
			idx := -1
			for i, wf := range p.Waveforms {
				if wf == in.Waveform {
					idx = i
					break
				}
			}
			if idx < 0 {
				idx = len(p.Waveforms)
				p.Waveforms = append(p.Waveforms, in.Waveform)
			}
			if n := len(table); n > 0 && table[n-1].Element == uint32(idx) {
				table[n-1].Repeat++
				continue
			}
			table = append(table, TableEntry{Repeat: 1, Element: uint32(idx)})
		case program.Stop:
			// end of program
		default:
			return nil, errors.Errorf("cannot express %T in a single sequence", in)
		}
	}
	if len(p.Waveforms) == 0 {
		return nil, errors.New("program contains no waveforms")
	}
	p.SequencerTables = [][]TableEntry{table}
	p.AdvancedTable = []TableEntry{{Repeat: 1, Element: 1, Jump: 0}}
	return p, nil
}
