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

import "sort"

// Placement is the planner's decision for one batch of segments. Indices
// run over the batch; exactly one of the three dispositions holds per
// waveform:
//
//   - WaveformToSegment[i] >= 0: content identical payload already lives
//     in that slot (reuse, bump its reference count);
//   - ToInsert[i] >= 0: write the payload into that existing free slot;
//   - ToAmend[i]: append the payload past the in-use boundary as a brand
//     new slot.
//
// A Placement is computed fully speculatively: planning never mutates the
// segment table.
type Placement struct {
	WaveformToSegment []int
	ToInsert          []int
	ToAmend           []bool
}

// Plan decides where each segment of a batch goes in device memory. pad
// is the per-segment alignment padding charged against capacity for every
// new upload.
//
// The policy, in order: exact content match against any referenced slot;
// free slot of exactly matching capacity; largest free slot still big
// enough, filling longest segments first; amend the rest. Plan fails with
// *OutOfMemoryError when the batch exceeds total free capacity and with
// *FragmentedError when the amended remainder does not fit behind the
// in-use boundary. In both cases the table is untouched.
func (st *SegmentTable) Plan(segs []*Segment, pad int) (*Placement, error) {
	p := &Placement{
		WaveformToSegment: make([]int, len(segs)),
		ToInsert:          make([]int, len(segs)),
		ToAmend:           make([]bool, len(segs)),
	}

	// 1. reuse content identical, referenced slots
	newRefs := make([]uint32, len(st.refs))
	copy(newRefs, st.refs)
	for i, s := range segs {
		p.ToInsert[i] = -1
		slot := st.FindHash(s.Hash())
		p.WaveformToSegment[i] = slot
		if slot >= 0 {
			newRefs[slot]++
		} else {
			p.ToAmend[i] = true
		}
	}

	uploadSize := 0
	for i, s := range segs {
		if p.ToAmend[i] {
			uploadSize += s.Len() + pad
		}
	}
	if free := st.FreeTotal(); free < uploadSize {
		return nil, &OutOfMemoryError{Free: free, Required: uploadSize}
	}

	// 2. in-use boundary after the hypothetical reference bumps; only
	// free slots below it are placement candidates
	firstFree := 0
	for i := len(newRefs); i > 0; i-- {
		if newRefs[i-1] > 0 {
			firstFree = i
			break
		}
	}
	free := make([]bool, firstFree)
	for i := range free {
		free[i] = newRefs[i] == 0
	}

	// 3. free slots of exactly matching capacity, in batch order
	for i, s := range segs {
		if !p.ToAmend[i] {
			continue
		}
		for slot := range free {
			if free[slot] && int(st.capacity[slot]) == s.Len() {
				free[slot] = false
				p.ToAmend[i] = false
				p.ToInsert[i] = slot
				break
			}
		}
	}

	// 4. best fit among the leftovers: largest free slot that still
	// holds the segment, longest segments first
	var remaining []int
	for i := range segs {
		if p.ToAmend[i] {
			remaining = append(remaining, i)
		}
	}
	sort.SliceStable(remaining, func(a, b int) bool {
		return segs[remaining[a]].Len() > segs[remaining[b]].Len()
	})
	for _, i := range remaining {
		best := -1
		for slot := range free {
			if !free[slot] || int(st.capacity[slot]) < segs[i].Len() {
				continue
			}
			if best < 0 || st.capacity[slot] > st.capacity[best] {
				best = slot
			}
		}
		if best >= 0 {
			free[best] = false
			p.ToAmend[i] = false
			p.ToInsert[i] = best
		}
	}

	// 5. whatever is left must fit strictly behind the in-use boundary
	amendSize := 0
	for i, s := range segs {
		if p.ToAmend[i] {
			amendSize += s.Len() + pad
		}
	}
	freeAtEnd := st.total
	for i := 0; i < firstFree; i++ {
		freeAtEnd -= int(st.capacity[i])
	}
	if amendSize > freeAtEnd {
		return nil, &FragmentedError{Free: freeAtEnd, Required: amendSize}
	}

	return p, nil
}
