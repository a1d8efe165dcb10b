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

// Waveform is an instantiated pulse which can be sampled to raw voltage
// values for the hardware. Implementations must be immutable; Sample must
// be a pure function of its arguments.
type Waveform interface {
	// Duration returns the length of the waveform in time units.
	Duration() float64

	// Sample returns the waveform's voltage values at the given sample
	// times. Sample times must be monotonically increasing. firstOffset is
	// the offset of the first discrete sample from the actual beginning of
	// the waveform in the continuous time domain.
	Sample(times []float64, firstOffset float64) []float64
}

// Trigger represents a hardware trigger for hardware based branching
// decisions. Two triggers are the same trigger iff they are the same
// *Trigger value.
type Trigger struct {
	name string
}

// NewTrigger returns a new distinct Trigger. The name is only used in
// diagnostics.
func NewTrigger(name string) *Trigger { return &Trigger{name: name} }

func (t *Trigger) String() string {
	if t.name != "" {
		return "trigger " + t.name
	}
	return "trigger"
}

// Block is a stable handle to an instruction block within a Tree. The zero
// handle is the root block.
type Block int

// Pointer references an instruction's location as an offset into a block.
// The offset is only meaningful relative to the block's eventual compiled
// position; see Tree.AbsoluteAddress. Offset must be non-negative.
type Pointer struct {
	Block  Block
	Offset int
}

// Instruction is a single hardware instruction. The set of implementations
// is closed: Exec, Goto, CondJump and Stop.
type Instruction interface {
	isInstruction()
}

// Exec plays back a waveform.
type Exec struct {
	Waveform Waveform
}

// Goto transfers execution unconditionally to the instruction referenced
// by Target.
type Goto struct {
	Target Pointer
}

// CondJump transfers execution to Target if the given trigger fired,
// otherwise execution continues with the following instruction.
type CondJump struct {
	Trigger *Trigger
	Target  Pointer
}

// Stop indicates the end of the program.
type Stop struct{}

func (Exec) isInstruction()     {}
func (Goto) isInstruction()     {}
func (CondJump) isInstruction() {}
func (Stop) isInstruction()     {}

// ConstantWaveform is a fixed level held for a fixed duration.
type ConstantWaveform struct {
	Level float64
	Len   float64
}

// Duration returns the waveform length in time units.
func (w ConstantWaveform) Duration() float64 { return w.Len }

// Sample returns Level for every requested sample time.
func (w ConstantWaveform) Sample(times []float64, firstOffset float64) []float64 {
	v := make([]float64, len(times))
	for i := range v {
		v[i] = w.Level
	}
	return v
}

// SampledWaveform holds explicit sample values recorded at a fixed rate.
// Always pass it around as *SampledWaveform: instructions compare
// waveforms by interface equality.
type SampledWaveform struct {
	Values []float64
	Rate   float64
}

// Duration returns the waveform length in time units.
func (w *SampledWaveform) Duration() float64 { return float64(len(w.Values)) / w.Rate }

// Sample returns the stored value nearest to each requested time. Times
// are normalized into [0, Duration] like sequential playback expects.
func (w *SampledWaveform) Sample(times []float64, firstOffset float64) []float64 {
	v := make([]float64, len(times))
	for i, t := range times {
		idx := int((t + firstOffset) * w.Rate)
		if idx < 0 {
			idx = 0
		}
		if idx >= len(w.Values) {
			idx = len(w.Values) - 1
		}
		v[i] = w.Values[idx]
	}
	return v
}
