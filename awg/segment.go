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
	"hash/fnv"
	"math"

	"github.com/bpapajewski/qupulse/program"
)

// sampleResolution is the DAC resolution in bits.
const sampleResolution = 14

// Segment is one waveform sampled and quantized for upload: a payload of
// 14 bit sample codes stored in uint16, identified by a content hash over
// its binary representation. Segments are immutable.
type Segment struct {
	samples []uint16
	hash    uint64
}

// NewSegment builds a segment from quantized sample codes. The slice is
// not copied; callers hand over ownership.
func NewSegment(samples []uint16) *Segment {
	s := &Segment{samples: samples}
	h := fnv.New64a()
	var b [2]byte
	for _, v := range samples {
		binary.LittleEndian.PutUint16(b[:], v)
		h.Write(b[:])
	}
	s.hash = h.Sum64()
	return s
}

// ZeroSegment returns the all-zero idle payload of n samples.
func ZeroSegment(n int) *Segment {
	return NewSegment(quantize(make([]float64, n)))
}

// Len returns the number of samples in the segment.
func (s *Segment) Len() int { return len(s.samples) }

// Hash returns the segment's 64 bit content hash. Two segments with equal
// hashes are treated as content identical for allocation purposes.
func (s *Segment) Hash() uint64 { return s.hash }

// Binary returns the payload as little-endian uint16 samples, the wire
// form the transport expects.
func (s *Segment) Binary() []byte {
	b := make([]byte, 2*len(s.samples))
	for i, v := range s.samples {
		binary.LittleEndian.PutUint16(b[2*i:], v)
	}
	return b
}

// CombinedWave concatenates the payloads of several segments into the
// single binary block used to amend them in one transport round-trip.
func CombinedWave(segs []*Segment) []byte {
	var n int
	for _, s := range segs {
		n += 2 * len(s.samples)
	}
	b := make([]byte, 0, n)
	for _, s := range segs {
		b = append(b, s.Binary()...)
	}
	return b
}

// Transform is a voltage transformation applied to raw samples before
// quantization and hashing. It must be pure. A nil Transform is the
// identity.
type Transform func([]float64) []float64

// quantize maps voltages in [-1, 1] onto unsigned DAC codes. Values
// outside the range are clipped.
func quantize(v []float64) []uint16 {
	const full = 1<<sampleResolution - 1
	codes := make([]uint16, len(v))
	for i, x := range v {
		c := math.Round((x + 1) / 2 * full)
		if c < 0 {
			c = 0
		} else if c > full {
			c = full
		}
		codes[i] = uint16(c)
	}
	return codes
}

// SampleWaveform samples wf at the given rate, applies the voltage
// transformation and quantizes the result into a Segment. The number of
// samples is Duration*rate rounded to nearest.
func SampleWaveform(wf program.Waveform, rate float64, transform Transform) *Segment {
	n := int(math.Round(wf.Duration() * rate))
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / rate
	}
	v := wf.Sample(times, 0)
	if transform != nil {
		v = transform(v)
	}
	return NewSegment(quantize(v))
}
