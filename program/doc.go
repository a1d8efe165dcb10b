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

// Package program implements the abstract hardware instruction model for
// arbitrary waveform generators and the instruction block assembler that
// turns a tree of repeating/branching blocks into one flat, address
// resolved instruction sequence.
//
// A program is built as a Tree of instruction blocks. Each block owns an
// ordered instruction list and a number of embedded child blocks; blocks
// are addressed through stable integer handles so that parent and child
// can refer to each other without cyclic ownership. Compile lays the tree
// out depth first: a block's own instructions come first, terminated by a
// single control transfer (Stop on the root, Goto on everything else),
// followed by each child subtree in creation order. Compilation results
// are cached per block and invalidated only by mutations of that block.
//
// Absolute addresses only exist after placement. Pointer targets resolve
// through Tree.AbsoluteAddress, which fails with ErrNotPlaced until an
// ancestor compile has laid the target block out.
package program
