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

package awg_test

import (
	"reflect"
	"testing"

	"github.com/pkg/errors"

	"github.com/bpapajewski/qupulse/awg"
	"github.com/bpapajewski/qupulse/program"
	"github.com/bpapajewski/qupulse/sim"
)

func testProperties() awg.Properties {
	return awg.Properties{
		TotalCapacity:  1000,
		MinSegmentLen:  192,
		SegmentQuantum: 16,
		MinSequenceLen: 3,
		MinAdvancedLen: 3,
	}
}

func newManager(t *testing.T) (*awg.Manager, *sim.Simulator) {
	t.Helper()
	s := sim.New()
	m, err := awg.NewManager(s, awg.WithProperties(testProperties()))
	if err != nil {
		t.Fatalf("%+v", err)
	}
	return m, s
}

// twoWaveProgram holds a 192 and a 256 sample constant waveform played as
// a single sequence.
func twoWaveProgram() *awg.Program {
	return &awg.Program{
		Waveforms: []program.Waveform{
			program.ConstantWaveform{Level: 0.25, Len: 192},
			program.ConstantWaveform{Level: 0.5, Len: 256},
		},
		SequencerTables: [][]awg.TableEntry{{
			{Repeat: 10, Element: 0},
			{Repeat: 2, Element: 1},
		}},
		AdvancedTable: []awg.TableEntry{{Repeat: 1, Element: 1, Jump: 0}},
	}
}

func TestNewManager_idleState(t *testing.T) {
	m, s := newManager(t)

	if s.SegmentCount() != 1 || s.SegmentCapacity(1) != 192 {
		t.Errorf("device holds %d segments, segment 1 capacity %d; expected 1 segment of 192",
			s.SegmentCount(), s.SegmentCapacity(1))
	}
	if s.FunctionMode() != "ASEQ" || !s.OutputOn() {
		t.Errorf("device left in mode %s, output %v", s.FunctionMode(), s.OutputOn())
	}
	idle := []awg.TableEntry{{1, 1, 0}, {1, 1, 0}, {1, 1, 0}}
	if got := s.SequencerTable(1); !reflect.DeepEqual(got, idle) {
		t.Errorf("sequencer table 1 = %v, expected idle %v", got, idle)
	}
	adv := []awg.TableEntry{{1, 1, 1}, {1, 1, 0}, {1, 1, 0}}
	if got := s.AdvancedTable(); !reflect.DeepEqual(got, adv) {
		t.Errorf("advanced table = %v, expected %v", got, adv)
	}
	if m.Current() != "" {
		t.Errorf("Current() = %q, expected idle", m.Current())
	}
}

func TestUpload(t *testing.T) {
	m, s := newManager(t)
	if err := m.Upload("p", twoWaveProgram(), nil, false); err != nil {
		t.Fatalf("%+v", err)
	}

	// idle plus the two amended waveforms, split out of one combined write
	if s.SegmentCount() != 3 {
		t.Fatalf("device holds %d segments, expected 3", s.SegmentCount())
	}
	for n, want := range map[int]int{2: 192, 3: 256} {
		if got := s.SegmentCapacity(n); got != want {
			t.Errorf("segment %d capacity %d, expected %d", n, got, want)
		}
	}
	want := awg.SampleWaveform(program.ConstantWaveform{Level: 0.5, Len: 256}, 1, nil).Binary()
	if got := s.SegmentData(3); !reflect.DeepEqual(got, want) {
		t.Errorf("segment 3 payload differs from sampled waveform")
	}

	info := m.Segments()
	if len(info) != 3 {
		t.Fatalf("table has %d slots, expected 3", len(info))
	}
	for i := 1; i <= 2; i++ {
		if info[i].Refs != 1 || info[i].Capacity != info[i].Length {
			t.Errorf("slot %d: %+v, expected full, singly referenced", i, info[i])
		}
	}
	if got := m.Programs(); !reflect.DeepEqual(got, []string{"p"}) {
		t.Errorf("Programs() = %v", got)
	}
}

func TestUpload_duplicate(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Upload("p", twoWaveProgram(), nil, false); err != nil {
		t.Fatalf("%+v", err)
	}

	err := m.Upload("p", twoWaveProgram(), nil, false)
	if errors.Cause(err) != awg.ErrDuplicateProgram {
		t.Fatalf("got %v, expected ErrDuplicateProgram", err)
	}

	// force frees the old program first; identical content is reused, so
	// the table does not grow
	if err := m.Upload("p", twoWaveProgram(), nil, true); err != nil {
		t.Fatalf("forced re-upload: %+v", err)
	}
	if info := m.Segments(); len(info) != 3 || info[1].Refs != 1 {
		t.Errorf("after forced re-upload: %d slots, slot 1 refs %d", len(info), info[1].Refs)
	}
}

func TestUpload_reusesKnownWaveforms(t *testing.T) {
	m, s := newManager(t)
	if err := m.Upload("p", twoWaveProgram(), nil, false); err != nil {
		t.Fatalf("%+v", err)
	}

	// q shares the 192 sample waveform with p and adds nothing else
	q := &awg.Program{
		Waveforms:       []program.Waveform{program.ConstantWaveform{Level: 0.25, Len: 192}},
		SequencerTables: [][]awg.TableEntry{{{Repeat: 1, Element: 0}}},
		AdvancedTable:   []awg.TableEntry{{Repeat: 1, Element: 1, Jump: 0}},
	}
	if err := m.Upload("q", q, nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if s.SegmentCount() != 3 {
		t.Errorf("device holds %d segments, expected no new uploads", s.SegmentCount())
	}
	if info := m.Segments(); info[1].Refs != 2 {
		t.Errorf("shared slot 1 reference count %d, expected 2", info[1].Refs)
	}
}

func TestUpload_forceRearmsIdle(t *testing.T) {
	m, s := newManager(t)
	if err := m.Upload("p", twoWaveProgram(), nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.Arm("p"); err != nil {
		t.Fatalf("%+v", err)
	}

	// replacing the armed program must fall back to idle; otherwise a
	// later arm takes the re-select short path and the device keeps
	// playing the replaced program's tables
	repl := &awg.Program{
		Waveforms:       []program.Waveform{program.ConstantWaveform{Level: 0.75, Len: 192}},
		SequencerTables: [][]awg.TableEntry{{{Repeat: 3, Element: 0}}},
		AdvancedTable:   []awg.TableEntry{{Repeat: 1, Element: 1, Jump: 0}},
	}
	if err := m.Upload("p", repl, nil, true); err != nil {
		t.Fatalf("forced re-upload: %+v", err)
	}
	if m.Current() != "" {
		t.Fatalf("Current() = %q after replacing the armed program, expected idle", m.Current())
	}
	if n := s.SequencerTableCount(); n != 1 {
		t.Errorf("%d sequencer tables on device, expected only the idle table", n)
	}

	if err := m.Arm("p"); err != nil {
		t.Fatalf("%+v", err)
	}
	want := []awg.TableEntry{{3, 2, 0}, {1, 1, 0}, {1, 1, 0}}
	if got := s.SequencerTable(2); !reflect.DeepEqual(got, want) {
		t.Errorf("sequencer table 2 = %v, expected replacement content %v", got, want)
	}
}

func TestUpload_insertKeepsNeighborPayload(t *testing.T) {
	m, s := newManager(t)

	a := &awg.Program{
		Waveforms: []program.Waveform{
			program.ConstantWaveform{Level: 0.3, Len: 320},
			program.ConstantWaveform{Level: 0.6, Len: 192},
		},
		SequencerTables: [][]awg.TableEntry{{
			{Repeat: 1, Element: 0},
			{Repeat: 1, Element: 1},
		}},
		AdvancedTable: []awg.TableEntry{{Repeat: 1, Element: 1, Jump: 0}},
	}
	b := &awg.Program{
		Waveforms:       []program.Waveform{program.ConstantWaveform{Level: 0.6, Len: 192}},
		SequencerTables: [][]awg.TableEntry{{{Repeat: 1, Element: 0}}},
		AdvancedTable:   []awg.TableEntry{{Repeat: 1, Element: 1, Jump: 0}},
	}
	if err := m.Upload("a", a, nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.Upload("b", b, nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	// b keeps the 192 slot alive; removing a frees only the 320 slot
	if err := m.Remove("a"); err != nil {
		t.Fatalf("%+v", err)
	}

	// a 208 sample waveform best-fits into the freed 320 slot; the
	// neighboring live payload must survive the re-declaration
	c := &awg.Program{
		Waveforms:       []program.Waveform{program.ConstantWaveform{Level: 0.2, Len: 208}},
		SequencerTables: [][]awg.TableEntry{{{Repeat: 1, Element: 0}}},
		AdvancedTable:   []awg.TableEntry{{Repeat: 1, Element: 1, Jump: 0}},
	}
	if err := m.Upload("c", c, nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if info := m.Segments(); len(info) != 3 || info[1].Length != 208 {
		t.Fatalf("table %+v, expected the 208 payload in slot 1", info)
	}

	wantC := awg.SampleWaveform(program.ConstantWaveform{Level: 0.2, Len: 208}, 1, nil).Binary()
	if got := s.SegmentData(2); !reflect.DeepEqual(got, wantC) {
		t.Errorf("segment 2 payload does not match the inserted waveform")
	}
	wantB := awg.SampleWaveform(program.ConstantWaveform{Level: 0.6, Len: 192}, 1, nil).Binary()
	if got := s.SegmentData(3); !reflect.DeepEqual(got, wantB) {
		t.Errorf("segment 3 payload was disturbed by the neighboring insert")
	}
}

func TestUpload_rejectsInvalidWaveforms(t *testing.T) {
	m, _ := newManager(t)
	for _, wf := range []program.Waveform{
		program.ConstantWaveform{Level: 0.1, Len: 96},  // below MinSegmentLen
		program.ConstantWaveform{Level: 0.1, Len: 200}, // not a quantum multiple
	} {
		p := &awg.Program{Waveforms: []program.Waveform{wf}}
		if err := m.Upload("bad", p, nil, false); err == nil {
			t.Errorf("Upload accepted %v", wf)
		}
	}
}

func TestUpload_outOfMemory(t *testing.T) {
	m, _ := newManager(t)
	p := &awg.Program{
		Waveforms: []program.Waveform{
			program.ConstantWaveform{Level: 0.1, Len: 512},
			program.ConstantWaveform{Level: 0.2, Len: 512},
		},
	}
	err := m.Upload("big", p, nil, false)
	if _, ok := err.(*awg.OutOfMemoryError); !ok {
		t.Fatalf("got %v, expected *OutOfMemoryError", err)
	}
	if len(m.Programs()) != 0 {
		t.Error("failed upload left a program behind")
	}
	if info := m.Segments(); len(info) != 1 {
		t.Errorf("failed upload grew the table to %d slots", len(info))
	}
}

func TestArm(t *testing.T) {
	m, s := newManager(t)
	if err := m.Upload("p", twoWaveProgram(), nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.Arm("p"); err != nil {
		t.Fatalf("%+v", err)
	}
	if m.Current() != "p" {
		t.Fatalf("Current() = %q", m.Current())
	}

	// table 1 stays the idle table; the program's table is renumbered to
	// device segments and padded to the minimum length
	want := []awg.TableEntry{{10, 2, 0}, {2, 3, 0}, {1, 1, 0}}
	if got := s.SequencerTable(2); !reflect.DeepEqual(got, want) {
		t.Errorf("sequencer table 2 = %v, expected %v", got, want)
	}
	adv := []awg.TableEntry{{1, 1, 1}, {1, 2, 0}, {1, 1, 0}}
	if got := s.AdvancedTable(); !reflect.DeepEqual(got, adv) {
		t.Errorf("advanced table = %v, expected %v", got, adv)
	}
	if s.FunctionMode() != "ASEQ" || !s.OutputOn() {
		t.Errorf("device left in mode %s, output %v", s.FunctionMode(), s.OutputOn())
	}
}

func TestArm_rearmSkipsTableDownload(t *testing.T) {
	m, s := newManager(t)
	if err := m.Upload("p", twoWaveProgram(), nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.Arm("p"); err != nil {
		t.Fatalf("%+v", err)
	}

	before := len(s.History())
	if err := m.Arm("p"); err != nil {
		t.Fatalf("%+v", err)
	}
	hist := s.History()[before:]
	if !reflect.DeepEqual(hist, []string{"SEQ:SEL 1"}) {
		t.Errorf("re-arm issued %v, expected only the sequence re-select", hist)
	}
}

func TestArm_unknown(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Arm("ghost"); errors.Cause(err) != awg.ErrUnknownProgram {
		t.Errorf("got %v, expected ErrUnknownProgram", err)
	}
}

func TestRemove(t *testing.T) {
	m, s := newManager(t)
	if err := m.Upload("p", twoWaveProgram(), nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.Arm("p"); err != nil {
		t.Fatalf("%+v", err)
	}

	before := len(s.History())
	if err := m.Remove("p"); err != nil {
		t.Fatalf("%+v", err)
	}
	if m.Current() != "" || len(m.Programs()) != 0 {
		t.Errorf("Current() = %q, Programs() = %v", m.Current(), m.Programs())
	}
	if s.SegmentCount() != 1 {
		t.Errorf("device still holds %d segments", s.SegmentCount())
	}
	if info := m.Segments(); len(info) != 1 {
		t.Errorf("table still has %d slots", len(info))
	}
	adv := []awg.TableEntry{{1, 1, 1}, {1, 1, 0}, {1, 1, 0}}
	if got := s.AdvancedTable(); !reflect.DeepEqual(got, adv) {
		t.Errorf("advanced table = %v, expected idle %v", got, adv)
	}

	// the nested re-arm and cleanup share one guard acquisition
	var off, on int
	for _, cmd := range s.History()[before:] {
		switch cmd {
		case "OUTP OFF":
			off++
		case "OUTP ON":
			on++
		}
	}
	if off != 1 || on != 1 {
		t.Errorf("remove toggled output %d off / %d on, expected once each", off, on)
	}
}

func TestRemove_unknown(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Remove("ghost"); errors.Cause(err) != awg.ErrUnknownProgram {
		t.Errorf("got %v, expected ErrUnknownProgram", err)
	}
}

func TestClear(t *testing.T) {
	m, s := newManager(t)
	if err := m.Upload("p", twoWaveProgram(), nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.Arm("p"); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("%+v", err)
	}
	if m.Current() != "" || len(m.Programs()) != 0 {
		t.Errorf("Current() = %q, Programs() = %v", m.Current(), m.Programs())
	}
	if s.SegmentCount() != 1 || s.SegmentCapacity(1) != 192 {
		t.Errorf("device holds %d segments, segment 1 capacity %d",
			s.SegmentCount(), s.SegmentCapacity(1))
	}
}

func TestUpload_transportFailure(t *testing.T) {
	m, s := newManager(t)

	// let the guard entry through, fail on the first memory command
	s.FailAfterSends(len(s.History()) + 2)
	err := m.Upload("p", twoWaveProgram(), nil, false)
	ue, ok := err.(*awg.UndefinedStateError)
	if !ok {
		t.Fatalf("got %v, expected *UndefinedStateError", err)
	}
	if ue.Op != "segment amend" {
		t.Errorf("failed operation %q, expected segment amend", ue.Op)
	}
	if len(m.Programs()) != 0 {
		t.Error("failed upload left a program behind")
	}
}

func TestRunCurrent(t *testing.T) {
	m, s := newManager(t)
	if err := m.RunCurrent(); errors.Cause(err) != awg.ErrNoProgramArmed {
		t.Fatalf("got %v, expected ErrNoProgramArmed", err)
	}

	if err := m.Upload("p", twoWaveProgram(), nil, false); err != nil {
		t.Fatalf("%+v", err)
	}
	if err := m.Arm("p"); err != nil {
		t.Fatalf("%+v", err)
	}
	before := len(s.History())
	if err := m.RunCurrent(); err != nil {
		t.Fatalf("%+v", err)
	}
	if hist := s.History()[before:]; !reflect.DeepEqual(hist, []string{"TRIG"}) {
		t.Errorf("run issued %v, expected a single trigger", hist)
	}
}
