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

import "github.com/pkg/errors"

// Errors reported by the assembler. Wrapped errors carry context; compare
// with errors.Cause.
var (
	// ErrNotPlaced is returned when an absolute address is requested for a
	// block that has not been laid out by an ancestor compile since its
	// last invalidating mutation.
	ErrNotPlaced = errors.New("instruction block not yet placed")

	// ErrMissingReturn is returned when a non-root block is compiled
	// without a return address set.
	ErrMissingReturn = errors.New("no return address set")
)

// node is one arena entry. parent is -1 on the root. compiled is nil while
// the cache is invalid; offset is -1 while the block is unplaced.
type node struct {
	parent   Block
	instrs   []Instruction
	children []Block
	returnIP *Pointer
	compiled []Instruction
	offset   int
}

// Tree owns a root instruction block and every block embedded below it.
// Blocks live in an arena and are addressed by Block handles; they are
// never deleted individually, the whole tree is discarded together.
//
// A Tree is not safe for concurrent use.
type Tree struct {
	nodes []node
}

// New returns a Tree holding a single empty root block.
func New() *Tree {
	return &Tree{nodes: []node{{parent: -1, offset: 0}}}
}

// Root returns the handle of the root block.
func (t *Tree) Root() Block { return 0 }

// CreateEmbedded creates a new empty block exclusively owned by parent and
// returns its handle. The child is placed after all earlier created
// siblings when parent compiles.
func (t *Tree) CreateEmbedded(parent Block) Block {
	b := Block(len(t.nodes))
	t.nodes = append(t.nodes, node{parent: parent, offset: -1})
	p := &t.nodes[parent]
	p.children = append(p.children, b)
	return b
}

// SetReturn sets the pointer that block b transfers control to when its
// compiled sequence ends. Required on every non-root block before Compile.
func (t *Tree) SetReturn(b Block, ip Pointer) {
	t.nodes[b].returnIP = &ip
}

// Len returns the number of instructions added to block b, excluding the
// trailer appended by Compile.
func (t *Tree) Len(b Block) int { return len(t.nodes[b].instrs) }

// Instructions returns a copy of block b's own instruction list.
func (t *Tree) Instructions(b Block) []Instruction {
	n := &t.nodes[b]
	in := make([]Instruction, len(n.instrs))
	copy(in, n.instrs)
	return in
}

// AddInstruction appends in to block b. This invalidates b's own compiled
// cache and clears the placement of b's direct children: their content
// caches stay valid, but they must be laid out again against b's new
// length.
func (t *Tree) AddInstruction(b Block, in Instruction) {
	n := &t.nodes[b]
	if n.compiled != nil {
		n.compiled = nil
		for _, c := range n.children {
			t.nodes[c].offset = -1
		}
	}
	n.instrs = append(n.instrs, in)
}

// AddExec appends an Exec instruction for wf to block b.
func (t *Tree) AddExec(b Block, wf Waveform) {
	t.AddInstruction(b, Exec{Waveform: wf})
}

// AddGoto appends a Goto to the given offset in target.
func (t *Tree) AddGoto(b, target Block, offset int) {
	t.AddInstruction(b, Goto{Target: Pointer{Block: target, Offset: offset}})
}

// AddCondJump appends a CondJump to the given offset in target, taken when
// trigger fires.
func (t *Tree) AddCondJump(b Block, trigger *Trigger, target Block, offset int) {
	t.AddInstruction(b, CondJump{Trigger: trigger, Target: Pointer{Block: target, Offset: offset}})
}

// AddStop appends a Stop instruction to block b.
func (t *Tree) AddStop(b Block) {
	t.AddInstruction(b, Stop{})
}

// Compile returns block b's compiled instruction sequence: b's own
// instructions, one trailing control transfer (Stop if b is the root,
// Goto to b's return pointer otherwise), then each child subtree inlined
// in creation order. Results are cached; calling Compile again without an
// intervening mutation returns the identical sequence and does no work.
// Compiling a non-root block without a return pointer fails with
// ErrMissingReturn.
func (t *Tree) Compile(b Block) ([]Instruction, error) {
	n := &t.nodes[b]
	if n.compiled != nil {
		return n.compiled, nil
	}

	for _, c := range n.children {
		t.nodes[c].offset = -1
	}

	seq := make([]Instruction, len(n.instrs), len(n.instrs)+1)
	copy(seq, n.instrs)
	switch {
	case n.parent < 0:
		seq = append(seq, Stop{})
	case n.returnIP != nil:
		seq = append(seq, Goto{Target: *n.returnIP})
	default:
		return nil, errors.Wrapf(ErrMissingReturn, "block %d", b)
	}

	for _, c := range n.children {
		t.nodes[c].offset = len(seq)
		sub, err := t.Compile(c)
		if err != nil {
			return nil, err
		}
		seq = append(seq, sub...)
	}

	t.nodes[b].compiled = seq
	return seq, nil
}

// StartAddress returns the absolute offset of block b's first instruction
// in the final sequence, summing b's own offset with its ancestors'. It
// fails with ErrNotPlaced if b or any ancestor has not been placed by a
// compile since its last invalidating mutation.
func (t *Tree) StartAddress(b Block) (int, error) {
	n := &t.nodes[b]
	if n.offset < 0 {
		return 0, errors.Wrapf(ErrNotPlaced, "block %d", b)
	}
	if n.parent < 0 {
		return n.offset, nil
	}
	base, err := t.StartAddress(n.parent)
	if err != nil {
		return 0, err
	}
	return base + n.offset, nil
}

// AbsoluteAddress resolves p to an absolute position in the final
// instruction sequence. Fails with ErrNotPlaced while p's block is
// unplaced.
func (t *Tree) AbsoluteAddress(p Pointer) (int, error) {
	start, err := t.StartAddress(p.Block)
	if err != nil {
		return 0, err
	}
	return start + p.Offset, nil
}
