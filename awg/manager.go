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
	"io"
	"log"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// configEnterCommand parks the instrument for reconfiguration: output
// off, fixed function mode, sequencing disabled.
const configEnterCommand = "OUTP OFF; SOUR:FUNC:MODE FIX"

// cleanupChunkSize limits how many segment deletions are joined into one
// command.
const cleanupChunkSize = 10

// programMemory records where an uploaded program's waveforms live and
// which sequencing tables reproduce it.
type programMemory struct {
	waveformToSegment []int
	prog              *Program
}

// Manager owns the segment table and program map of one channel pair.
// It is not reentrant from multiple goroutines.
type Manager struct {
	tr    Transport
	props Properties
	rate  float64
	log   *log.Logger

	table    *SegmentTable
	idle     *Segment
	idleSeq  []TableEntry
	programs map[string]programMemory
	current  string

	// device side mirrors of the downloaded sequencing tables
	sequencerTables [][]TableEntry
	advancedTable   []TableEntry

	guardCount   int
	inConfigMode bool
}

// Option configures a Manager.
type Option func(*Manager) error

// WithProperties overrides the device limits. The default is
// DefaultProperties.
func WithProperties(p Properties) Option {
	return func(m *Manager) error {
		if p.TotalCapacity < p.MinSegmentLen {
			return errors.Errorf("total capacity %d below minimum segment length %d",
				p.TotalCapacity, p.MinSegmentLen)
		}
		m.props = p
		return nil
	}
}

// SampleRate sets the sample rate used to discretize waveforms, in
// samples per time unit. The default is 1.
func SampleRate(rate float64) Option {
	return func(m *Manager) error {
		if rate <= 0 {
			return errors.Errorf("invalid sample rate %g", rate)
		}
		m.rate = rate
		return nil
	}
}

// Logging directs the manager's diagnostics to l. The default discards
// them.
func Logging(l *log.Logger) Option {
	return func(m *Manager) error { m.log = l; return nil }
}

// NewManager creates a program memory manager for one channel pair on the
// given transport and initializes device memory to the single idle
// segment.
func NewManager(tr Transport, opts ...Option) (*Manager, error) {
	m := &Manager{
		tr:    tr,
		props: DefaultProperties(),
		rate:  1,
		log:   log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.idle = ZeroSegment(m.props.MinSegmentLen)
	m.idleSeq = make([]TableEntry, m.props.MinSequenceLen)
	for i := range m.idleSeq {
		m.idleSeq[i] = TableEntry{Repeat: 1, Element: 1, Jump: 0}
	}
	m.table = NewSegmentTable(m.props.TotalCapacity)
	if err := m.Clear(); err != nil {
		return nil, err
	}
	return m, nil
}

// Properties returns the device limits the manager operates under.
func (m *Manager) Properties() Properties { return m.props }

// Current returns the name of the armed program, or "" when only the idle
// waveform is armed.
func (m *Manager) Current() string { return m.current }

// Programs returns the names of all uploaded programs, sorted.
func (m *Manager) Programs() []string {
	names := make([]string, 0, len(m.programs))
	for n := range m.programs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SegmentInfo describes one slot of the segment table.
type SegmentInfo struct {
	Index    int
	Capacity int
	Length   int
	Refs     int
	Hash     uint64
}

// Segments returns a snapshot of the segment table.
func (m *Manager) Segments() []SegmentInfo {
	info := make([]SegmentInfo, m.table.Len())
	for i := range info {
		info[i] = SegmentInfo{
			Index:    i,
			Capacity: m.table.Capacity(i),
			Length:   m.table.Length(i),
			Refs:     m.table.Refs(i),
			Hash:     m.table.Hash(i),
		}
	}
	return info
}

// configure runs fn inside the configuration guard. Entering increments
// the guard count and only the 0 to 1 transition pays the mode entry
// cost; nested operations share the outermost acquisition and mode exit
// fires only when the count drops back to zero.
func (m *Manager) configure(fn func() error) (err error) {
	if m.guardCount == 0 {
		if err = m.enterConfigMode(); err != nil {
			return err
		}
	}
	m.guardCount++
	defer func() {
		m.guardCount--
		if m.guardCount == 0 {
			if e := m.exitConfigMode(); e != nil && err == nil {
				err = e
			}
		}
	}()
	return fn()
}

func (m *Manager) enterConfigMode() error {
	if m.inConfigMode {
		return nil
	}
	if err := m.tr.Send(configEnterCommand); err != nil {
		return errors.Wrap(err, "enter config mode")
	}
	m.inConfigMode = true
	return nil
}

func (m *Manager) exitConfigMode() error {
	for _, cmd := range []string{"SOUR:FUNC:MODE ASEQ", "SEQ:SEL 1", "OUTP ON"} {
		if err := m.tr.Send(cmd); err != nil {
			return errors.Wrap(err, "exit config mode")
		}
	}
	m.inConfigMode = false
	return nil
}

// Upload makes the program known to the device under the given name,
// placing its waveforms into segment memory. Known waveforms are reused
// in place, unknown ones are written into fitting free segments or
// amended past the in-use boundary; the policy prefers amending to
// overwriting. If name is already known, Upload fails with
// ErrDuplicateProgram unless force is set, in which case the old program
// is freed first. transform is applied to raw samples before hashing; nil
// is the identity.
func (m *Manager) Upload(name string, prog *Program, transform Transform, force bool) error {
	if len(prog.Waveforms) == 0 {
		return errors.New("program contains no waveforms")
	}
	return m.configure(func() error {
		if _, ok := m.programs[name]; ok {
			if !force {
				return errors.Wrap(ErrDuplicateProgram, name)
			}
			if err := m.freeProgram(name); err != nil {
				return err
			}
		}

		segs := make([]*Segment, len(prog.Waveforms))
		for i, wf := range prog.Waveforms {
			s := SampleWaveform(wf, m.rate, transform)
			if s.Len() < m.props.MinSegmentLen {
				return errors.Errorf("waveform %d: %d samples below device minimum %d",
					i, s.Len(), m.props.MinSegmentLen)
			}
			if s.Len()%m.props.SegmentQuantum != 0 {
				return errors.Errorf("waveform %d: %d samples not a multiple of %d",
					i, s.Len(), m.props.SegmentQuantum)
			}
			segs[i] = s
		}

		place, err := m.table.Plan(segs, m.props.SegmentQuantum)
		if err != nil {
			return err
		}

		// commit step 1: take references on reused segments
		var reused []int
		for _, slot := range place.WaveformToSegment {
			if slot >= 0 {
				reused = append(reused, slot)
			}
		}
		m.table.Retain(reused)

		// commit step 2: overwrite free segments of fitting capacity
		for i, slot := range place.ToInsert {
			if slot < 0 {
				continue
			}
			if err := m.uploadSegment(slot, segs[i]); err != nil {
				return err
			}
			place.WaveformToSegment[i] = slot
		}

		// commit step 3: amend the remainder in one combined write
		var amend []*Segment
		var amendIdx []int
		for i, a := range place.ToAmend {
			if a {
				amend = append(amend, segs[i])
				amendIdx = append(amendIdx, i)
			}
		}
		if len(amend) > 0 {
			first, err := m.amendSegments(amend)
			if err != nil {
				return err
			}
			for k, i := range amendIdx {
				place.WaveformToSegment[i] = first + k
			}
		}

		m.programs[name] = programMemory{
			waveformToSegment: place.WaveformToSegment,
			prog:              prog,
		}
		m.log.Printf("uploaded %q: %d waveforms, %d inserted, %d amended",
			name, len(segs), len(segs)-len(amend), len(amend))
		return nil
	})
}

// uploadSegment writes one payload into an existing free slot.
func (m *Manager) uploadSegment(slot int, s *Segment) error {
	if m.table.Refs(slot) > 0 {
		return errors.Errorf("segment %d still referenced", slot)
	}
	if s.Len() > m.table.Capacity(slot) {
		return errors.Errorf("segment %d: payload %d exceeds capacity %d",
			slot, s.Len(), m.table.Capacity(slot))
	}
	no := slot + 1
	cmds := []string{
		fmt.Sprintf("TRAC:DEF %d,%d", no, s.Len()),
		fmt.Sprintf("TRAC:SEL %d", no),
		"TRAC:MODE COMB",
	}
	for _, cmd := range cmds {
		if err := m.tr.Send(cmd); err != nil {
			return &UndefinedStateError{Op: "segment upload", Err: err}
		}
	}
	if err := m.tr.SendBinary("TRAC:DATA", s.Binary()); err != nil {
		return &UndefinedStateError{Op: "segment upload", Err: err}
	}
	m.table.Put(slot, s)
	return nil
}

// amendSegments appends the given payloads as new slots past the in-use
// boundary using a single combined binary write, then re-declares the
// length of every slot whose occupied length differs from its capacity.
// It returns the index of the first new slot.
func (m *Manager) amendSegments(segs []*Segment) (int, error) {
	// the combined write starts at the in-use boundary and overwrites any
	// trailing free slots
	m.table.Trim()

	data := CombinedWave(segs)
	firstNo := m.table.Len() + 1

	cmds := []string{
		fmt.Sprintf("TRAC:DEF %d,%d", firstNo, len(data)/2),
		fmt.Sprintf("TRAC:SEL %d", firstNo),
		"TRAC:MODE COMB",
	}
	for _, cmd := range cmds {
		if err := m.tr.Send(cmd); err != nil {
			return 0, &UndefinedStateError{Op: "segment amend", Err: err}
		}
	}
	if err := m.tr.SendBinary("TRAC:DATA", data); err != nil {
		return 0, &UndefinedStateError{Op: "segment amend", Err: err}
	}

	first := m.table.Append(segs)

	// split the combined block into its individual segments, and
	// re-declare older slots whose occupied length no longer matches
	// their capacity
	for i := 0; i < m.table.Len(); i++ {
		if i < first && m.table.Capacity(i) == m.table.Length(i) {
			continue
		}
		cmd := fmt.Sprintf("TRAC:DEF %d,%d", i+1, m.table.Length(i))
		if err := m.tr.Send(cmd); err != nil {
			return 0, &UndefinedStateError{Op: "segment amend", Err: err}
		}
	}
	return first, nil
}

// Arm makes name the active program. Arming the already armed program
// only re-selects it, without re-downloading any tables. An empty name
// arms the idle program.
func (m *Manager) Arm(name string) error {
	if name != "" && m.current == name {
		return errors.Wrap(m.tr.Send("SEQ:SEL 1"), "arm")
	}
	return m.ChangeArmedProgram(name)
}

// ChangeArmedProgram rewrites the device's two-level sequencing tables
// for the named program. A reserved idle entry always occupies index 0 of
// both levels; the program's own table references are renumbered by the
// idle offset. An empty name arms only the idle program.
func (m *Manager) ChangeArmedProgram(name string) error {
	sequencerTables := [][]TableEntry{m.idleSeq}
	advancedTable := []TableEntry{{Repeat: 1, Element: 1, Jump: 1}}

	if name != "" {
		pm, ok := m.programs[name]
		if !ok {
			return errors.Wrap(ErrUnknownProgram, name)
		}
		for _, table := range pm.prog.SequencerTables {
			renumbered := make([]TableEntry, len(table))
			for i, e := range table {
				slot := pm.waveformToSegment[e.Element]
				renumbered[i] = TableEntry{Repeat: e.Repeat, Element: uint32(slot + 1), Jump: e.Jump}
			}
			for len(renumbered) < m.props.MinSequenceLen {
				renumbered = append(renumbered, TableEntry{Repeat: 1, Element: 1, Jump: 0})
			}
			sequencerTables = append(sequencerTables, renumbered)
		}
		for _, e := range pm.prog.AdvancedTable {
			advancedTable = append(advancedTable,
				TableEntry{Repeat: e.Repeat, Element: e.Element + 1, Jump: e.Jump})
		}
	}
	for len(advancedTable) < m.props.MinAdvancedLen {
		advancedTable = append(advancedTable, TableEntry{Repeat: 1, Element: 1, Jump: 0})
	}

	return m.configure(func() error {
		for _, cmd := range []string{"SEQ:DEL:ALL", "ASEQ:DEL"} {
			if err := m.tr.Send(cmd); err != nil {
				return &UndefinedStateError{Op: "table write", Err: err}
			}
		}
		m.sequencerTables = nil
		m.advancedTable = nil

		for i, table := range sequencerTables {
			if err := m.tr.Send(fmt.Sprintf("SEQ:SEL %d", i+1)); err != nil {
				return &UndefinedStateError{Op: "table write", Err: err}
			}
			if err := m.tr.SendBinary("SEQ:DATA", EncodeTable(table)); err != nil {
				return &UndefinedStateError{Op: "table write", Err: err}
			}
		}
		m.sequencerTables = sequencerTables
		if err := m.tr.Send("SEQ:SEL 1"); err != nil {
			return &UndefinedStateError{Op: "table write", Err: err}
		}

		if err := m.tr.SendBinary("ASEQ:DATA", EncodeTable(advancedTable)); err != nil {
			return &UndefinedStateError{Op: "table write", Err: err}
		}
		m.advancedTable = advancedTable

		m.current = name
		return nil
	})
}

// freeProgram forgets the named program and drops its segment references,
// once per referencing table entry. Freeing the armed program re-arms the
// idle waveform so the device never keeps the sequencing tables of a
// forgotten program. Must only be called with a known name.
func (m *Manager) freeProgram(name string) error {
	pm := m.programs[name]
	delete(m.programs, name)
	m.table.Release(pm.waveformToSegment)
	if m.current == name {
		return m.ChangeArmedProgram("")
	}
	return nil
}

// Remove removes a program from the device and discards all segments
// referenced only by it.
func (m *Manager) Remove(name string) error {
	if _, ok := m.programs[name]; !ok {
		return errors.Wrap(ErrUnknownProgram, name)
	}
	return m.configure(func() error {
		if err := m.freeProgram(name); err != nil {
			return err
		}
		return m.Cleanup()
	})
}

// Cleanup discards every segment after the last referenced one. It never
// moves a live segment, so indices held by uploaded programs stay valid.
func (m *Manager) Cleanup() error {
	return m.configure(func() error {
		from, to := m.table.Trim()
		if from == to {
			return nil
		}
		for start := from; start < to; start += cleanupChunkSize {
			end := start + cleanupChunkSize
			if end > to {
				end = to
			}
			cmds := make([]string, 0, end-start)
			for i := start; i < end; i++ {
				cmds = append(cmds, fmt.Sprintf("TRAC:DEL %d", i+1))
			}
			if err := m.tr.Send(strings.Join(cmds, "; ")); err != nil {
				return &UndefinedStateError{Op: "cleanup", Err: err}
			}
		}
		m.log.Printf("cleanup dropped segments %d..%d", from, to-1)
		return nil
	})
}

// Clear resets the arena to the single idle segment and forgets every
// program and sequencing table. It affects all programs on the channel
// pair, not only those uploaded through this manager.
func (m *Manager) Clear() error {
	return m.configure(func() error {
		for _, cmd := range []string{"TRAC:DEL:ALL", "SEQ:DEL:ALL", "ASEQ:DEL"} {
			if err := m.tr.Send(cmd); err != nil {
				return &UndefinedStateError{Op: "clear", Err: err}
			}
		}
		cmds := []string{
			fmt.Sprintf("TRAC:DEF 1,%d", m.idle.Len()),
			"TRAC:SEL 1",
			"TRAC:MODE COMB",
		}
		for _, cmd := range cmds {
			if err := m.tr.Send(cmd); err != nil {
				return &UndefinedStateError{Op: "clear", Err: err}
			}
		}
		if err := m.tr.SendBinary("TRAC:DATA", m.idle.Binary()); err != nil {
			return &UndefinedStateError{Op: "clear", Err: err}
		}

		m.table.Reset(m.idle)
		m.programs = make(map[string]programMemory)
		m.sequencerTables = nil
		m.advancedTable = nil
		return m.ChangeArmedProgram("")
	})
}

// RunCurrent triggers playback of the armed program.
func (m *Manager) RunCurrent() error {
	if m.current == "" {
		return errors.WithStack(ErrNoProgramArmed)
	}
	return errors.Wrap(m.tr.Send("TRIG"), "run")
}
