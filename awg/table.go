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

// SegmentTable mirrors the physical layout of device waveform memory: a
// contiguous, 0-indexed array of slots over one linear arena. Four
// parallel arrays track each slot's capacity, occupied length, content
// hash and reference count. A slot with zero references is free
// regardless of its hash; the hash is only meaningful while referenced.
type SegmentTable struct {
	capacity []uint32
	length   []uint32
	hashes   []uint64
	refs     []uint32
	total    int
}

// NewSegmentTable returns an empty table over an arena of the given total
// capacity (in samples).
func NewSegmentTable(total int) *SegmentTable {
	return &SegmentTable{total: total}
}

// Reset discards all slots and re-creates slot 0 holding the idle
// segment, permanently referenced.
func (st *SegmentTable) Reset(idle *Segment) {
	n := uint32(idle.Len())
	st.capacity = []uint32{n}
	st.length = []uint32{n}
	st.hashes = []uint64{idle.Hash()}
	st.refs = []uint32{1}
}

// Len returns the number of slots, used or free.
func (st *SegmentTable) Len() int { return len(st.refs) }

// TotalCapacity returns the arena size in samples.
func (st *SegmentTable) TotalCapacity() int { return st.total }

// Capacity returns slot i's capacity in samples.
func (st *SegmentTable) Capacity(i int) int { return int(st.capacity[i]) }

// Length returns slot i's occupied length in samples.
func (st *SegmentTable) Length(i int) int { return int(st.length[i]) }

// Refs returns slot i's reference count.
func (st *SegmentTable) Refs(i int) int { return int(st.refs[i]) }

// Hash returns slot i's content hash. Only meaningful while Refs(i) > 0.
func (st *SegmentTable) Hash(i int) uint64 { return st.hashes[i] }

// FindHash returns the lowest slot index with a positive reference count
// and the given content hash, or -1.
func (st *SegmentTable) FindHash(h uint64) int {
	for i, r := range st.refs {
		if r > 0 && st.hashes[i] == h {
			return i
		}
	}
	return -1
}

// reservedEnd returns the in-use boundary: one past the highest-indexed
// slot with a positive reference count.
func (st *SegmentTable) reservedEnd() int {
	for i := len(st.refs); i > 0; i-- {
		if st.refs[i-1] > 0 {
			return i
		}
	}
	return 0
}

// FreeTotal returns the arena capacity not claimed by referenced slots.
func (st *SegmentTable) FreeTotal() int {
	free := st.total
	for i, r := range st.refs {
		if r > 0 {
			free -= int(st.capacity[i])
		}
	}
	return free
}

// FreeAtEnd returns the contiguous capacity past the in-use boundary.
// Only this space can receive amended segments.
func (st *SegmentTable) FreeAtEnd() int {
	free := st.total
	for i := 0; i < st.reservedEnd(); i++ {
		free -= int(st.capacity[i])
	}
	return free
}

// Retain increments the reference count of every listed slot, once per
// occurrence.
func (st *SegmentTable) Retain(slots []int) {
	for _, i := range slots {
		st.refs[i]++
	}
}

// Release decrements the reference count of every listed slot, once per
// occurrence. Slots that drop to zero become free candidates for future
// placement; their capacity is only reclaimed by Trim.
func (st *SegmentTable) Release(slots []int) {
	for _, i := range slots {
		st.refs[i]--
	}
}

// Put overwrites slot i with a new payload, taking the single reference.
// The slot must be free and the payload must fit the slot's capacity;
// callers check both before issuing the device write.
func (st *SegmentTable) Put(i int, s *Segment) {
	st.length[i] = uint32(s.Len())
	st.hashes[i] = s.Hash()
	st.refs[i] = 1
}

// Append grows the arena by one slot per segment, each with a fresh
// reference count of one, and returns the index of the first new slot.
func (st *SegmentTable) Append(segs []*Segment) int {
	first := len(st.refs)
	for _, s := range segs {
		n := uint32(s.Len())
		st.capacity = append(st.capacity, n)
		st.length = append(st.length, n)
		st.hashes = append(st.hashes, s.Hash())
		st.refs = append(st.refs, 1)
	}
	return first
}

// Trim drops every slot after the last referenced one and returns the
// index range [from, to) of dropped slots. Live slots never move, so
// indices held by programs stay valid.
func (st *SegmentTable) Trim() (from, to int) {
	end := st.reservedEnd()
	old := len(st.refs)
	st.capacity = st.capacity[:end]
	st.length = st.length[:end]
	st.hashes = st.hashes[:end]
	st.refs = st.refs[:end]
	return end, old
}
