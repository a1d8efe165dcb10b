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

// Package sim provides an in-memory instrument simulator implementing
// awg.Transport. It tracks device-side segment memory and sequencing
// tables so that tests and the awgctl console can inspect what a real
// instrument would hold after a series of commands.
package sim

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/bpapajewski/qupulse/awg"
)

// segment is one entry of the device's segment directory. Segments do
// not own their payload: they are views into the linear waveform arena,
// fixed by a base offset at definition time.
type segment struct {
	base     int // in samples
	capacity int // in samples
}

// Simulator is an in-memory stand-in for the instrument. It implements
// awg.Transport. Waveform memory is one flat arena indexed by the
// segment directory, so a combined write through one segment physically
// overwrites the region of its successors, exactly like the hardware.
// Like the device it simulates, the simulator is single-threaded.
type Simulator struct {
	mem      []byte
	segments map[int]*segment
	seqs     map[int][]awg.TableEntry
	adv      []awg.TableEntry

	selSegment int
	selSeq     int
	funcMode   string
	output     bool
	settings   map[string]string

	history   []string
	failAfter int // fail every send once history reaches this length; <0 disables
}

// New returns a simulator with empty waveform memory.
func New() *Simulator {
	return &Simulator{
		segments:  make(map[int]*segment),
		seqs:      make(map[int][]awg.TableEntry),
		selSeq:    1,
		funcMode:  "FIX",
		settings:  make(map[string]string),
		failAfter: -1,
	}
}

// FailAfterSends makes every Send and SendBinary fail once n commands
// have been accepted. Used to exercise partial-failure paths.
func (s *Simulator) FailAfterSends(n int) { s.failAfter = n }

// History returns every command accepted so far, one entry per simple
// command (compound commands are split).
func (s *Simulator) History() []string { return s.history }

// Send implements awg.Transport.
func (s *Simulator) Send(cmd string) error {
	for _, part := range strings.Split(cmd, ";") {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), ":"))
		if part == "" {
			continue
		}
		if s.failAfter >= 0 && len(s.history) >= s.failAfter {
			return errors.Errorf("simulated transport failure at %q", part)
		}
		if err := s.exec(part); err != nil {
			return err
		}
		s.history = append(s.history, part)
	}
	return nil
}

func (s *Simulator) exec(cmd string) error {
	head, arg, _ := strings.Cut(cmd, " ")
	switch head {
	case "TRAC:DEF":
		return s.defineSegment(arg)
	case "TRAC:SEL":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return errors.Wrap(err, cmd)
		}
		if s.segments[n] == nil {
			return errors.Errorf("TRAC:SEL %d: undefined segment", n)
		}
		s.selSegment = n
	case "TRAC:DEL":
		if arg == "" {
			return errors.New("TRAC:DEL: missing segment")
		}
		n, err := strconv.Atoi(arg)
		if err != nil {
			return errors.Wrap(err, cmd)
		}
		delete(s.segments, n)
	case "TRAC:DEL:ALL":
		s.segments = make(map[int]*segment)
		s.mem = nil
		s.selSegment = 0
	case "TRAC:MODE":
		s.settings["TRAC:MODE"] = arg
	case "SEQ:SEL":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return errors.Wrap(err, cmd)
		}
		s.selSeq = n
	case "SEQ:DEL:ALL":
		s.seqs = make(map[int][]awg.TableEntry)
	case "ASEQ:DEL":
		s.adv = nil
	case "SOUR:FUNC:MODE":
		s.funcMode = arg
	case "OUTP":
		s.output = arg == "ON"
	case "RES":
		*s = *New()
	case "ENAB", "ABOR", "TRIG":
		// playback control, no memory effect
	case "INIT:GATE", "INIT:CONT", "INIT:CONT:ENAB", "INIT:CONT:ENAB:SOUR",
		"SEQ:JUMP:EVEN", "INST:SEL":
		s.settings[head] = arg
	default:
		return errors.Errorf("unknown command %q", cmd)
	}
	return nil
}

// defineSegment handles TRAC:DEF n,len. A new segment is allocated
// directly behind its predecessor in the arena; re-declaring an existing
// segment only moves its capacity boundary, never its base. Splitting a
// combined write falls out of this: shortening the first segment and
// declaring the next one re-partitions the region the combined payload
// already occupies.
func (s *Simulator) defineSegment(arg string) error {
	no, length, ok := strings.Cut(arg, ",")
	if !ok {
		return errors.Errorf("TRAC:DEF %s: expected segment,length", arg)
	}
	n, err := strconv.Atoi(strings.TrimSpace(no))
	if err != nil {
		return errors.Wrap(err, "TRAC:DEF")
	}
	l, err := strconv.Atoi(strings.TrimSpace(length))
	if err != nil {
		return errors.Wrap(err, "TRAC:DEF")
	}
	if n < 1 || l < 0 {
		return errors.Errorf("TRAC:DEF %s: out of range", arg)
	}
	if seg := s.segments[n]; seg != nil {
		seg.capacity = l
		return nil
	}
	base := 0
	if n > 1 {
		prev := s.segments[n-1]
		if prev == nil {
			return errors.Errorf("TRAC:DEF %d: segment %d undefined", n, n-1)
		}
		base = prev.base + prev.capacity
	}
	s.segments[n] = &segment{base: base, capacity: l}
	return nil
}

// Query implements awg.Transport.
func (s *Simulator) Query(cmd string) (string, error) {
	cmd = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cmd), ":"))
	switch cmd {
	case "SOUR:FUNC:MODE?":
		return s.funcMode, nil
	case "SEQ:SEL?":
		return strconv.Itoa(s.selSeq), nil
	case "TRAC:SEL?":
		return strconv.Itoa(s.selSegment), nil
	case "INIT:CONT?":
		return s.settings["INIT:CONT"], nil
	case "INIT:GATE?":
		return s.settings["INIT:GATE"], nil
	case "OUTP?":
		if s.output {
			return "ON", nil
		}
		return "OFF", nil
	case "SYST:ERR?":
		return "0,No error", nil
	}
	return "", errors.Errorf("unknown query %q", cmd)
}

// SendBinary implements awg.Transport.
func (s *Simulator) SendBinary(prefix string, data []byte) error {
	prefix = strings.TrimPrefix(prefix, ":")
	if s.failAfter >= 0 && len(s.history) >= s.failAfter {
		return errors.Errorf("simulated transport failure at %q", prefix)
	}
	switch prefix {
	case "TRAC:DATA":
		seg := s.segments[s.selSegment]
		if seg == nil {
			return errors.New("TRAC:DATA: no segment selected")
		}
		if len(data) > 2*seg.capacity {
			return errors.Errorf("TRAC:DATA: %d bytes exceed segment capacity %d samples",
				len(data), seg.capacity)
		}
		lo := 2 * seg.base
		if need := lo + len(data); need > len(s.mem) {
			s.mem = append(s.mem, make([]byte, need-len(s.mem))...)
		}
		copy(s.mem[lo:], data)
	case "SEQ:DATA":
		table, err := awg.DecodeTable(data)
		if err != nil {
			return err
		}
		s.seqs[s.selSeq] = table
	case "ASEQ:DATA":
		table, err := awg.DecodeTable(data)
		if err != nil {
			return err
		}
		s.adv = table
	default:
		return errors.Errorf("unknown binary prefix %q", prefix)
	}
	s.history = append(s.history, prefix)
	return nil
}

// SegmentCount returns the number of defined device segments.
func (s *Simulator) SegmentCount() int { return len(s.segments) }

// SegmentCapacity returns the declared length of device segment n (1
// based), or -1 if undefined.
func (s *Simulator) SegmentCapacity(n int) int {
	if seg := s.segments[n]; seg != nil {
		return seg.capacity
	}
	return -1
}

// SegmentData returns the arena bytes covered by device segment n, or
// nil when the segment is undefined or its region was never written.
func (s *Simulator) SegmentData(n int) []byte {
	seg := s.segments[n]
	if seg == nil {
		return nil
	}
	lo, hi := 2*seg.base, 2*(seg.base+seg.capacity)
	if hi > len(s.mem) {
		hi = len(s.mem)
	}
	if lo >= hi {
		return nil
	}
	return append([]byte(nil), s.mem[lo:hi]...)
}

// SequencerTable returns the downloaded sequence table n (1 based).
func (s *Simulator) SequencerTable(n int) []awg.TableEntry { return s.seqs[n] }

// SequencerTableCount returns the number of downloaded sequence tables.
func (s *Simulator) SequencerTableCount() int { return len(s.seqs) }

// AdvancedTable returns the downloaded advanced sequence table.
func (s *Simulator) AdvancedTable() []awg.TableEntry { return s.adv }

// FunctionMode returns the current function mode, e.g. "FIX" or "ASEQ".
func (s *Simulator) FunctionMode() string { return s.funcMode }

// OutputOn reports whether the output is enabled.
func (s *Simulator) OutputOn() bool { return s.output }
