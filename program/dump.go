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

package program

import (
	"fmt"
	"io"
	"strconv"

	"github.com/bpapajewski/qupulse/internal/wio"
)

// format returns a one line rendition of in. Pointer targets are resolved
// against t when placed; unplaced targets print as block#offset.
func format(t *Tree, in Instruction) string {
	switch in := in.(type) {
	case Exec:
		return fmt.Sprintf("exec %g", in.Waveform.Duration())
	case Goto:
		return "goto " + formatTarget(t, in.Target)
	case CondJump:
		return "cjmp " + formatTarget(t, in.Target) + " on " + in.Trigger.String()
	case Stop:
		return "stop"
	}
	return fmt.Sprintf("??? %T", in)
}

func formatTarget(t *Tree, p Pointer) string {
	if addr, err := t.AbsoluteAddress(p); err == nil {
		return strconv.Itoa(addr)
	}
	return fmt.Sprintf("%d#%d", p.Block, p.Offset)
}

// Dump writes a one line rendition of the instruction at position pc in
// the given sequence to the specified io.Writer and returns the position
// of the next instruction and any write error.
func Dump(t *Tree, seq []Instruction, pc int, w io.Writer) (next int, err error) {
	ew, _ := w.(*wio.ErrWriter)
	if ew == nil {
		ew = wio.NewErrWriter(w)
	}
	ew.WriteString(format(t, seq[pc]))
	return pc + 1, ew.Err
}

// DumpAll writes a rendition of all instructions in the given sequence to
// the specified io.Writer, one per line, prefixed with their absolute
// address. It returns any write error.
func DumpAll(t *Tree, seq []Instruction, w io.Writer) error {
	ew := wio.NewErrWriter(w)
	for pc := 0; pc < len(seq); {
		fmt.Fprintf(ew, "% 6d\t", pc)
		pc, _ = Dump(t, seq, pc, ew)
		ew.Write([]byte{'\n'})
		if ew.Err != nil {
			return ew.Err
		}
	}
	return nil
}
