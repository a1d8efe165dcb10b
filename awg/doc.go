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

// Package awg manages the finite waveform memory of an arbitrary waveform
// generator across repeated program uploads.
//
// Device waveform memory is a single linear arena of segments, each with a
// fixed capacity, an occupied length, a 64 bit content hash and a
// reference count. Segment 0 permanently holds the all-zero idle waveform.
// When a program is uploaded, the placement planner maps each of its
// waveforms onto this arena: content identical waveforms reuse their
// existing segment, new waveforms go into free segments of fitting
// capacity, and whatever remains is amended past the in-use boundary as
// brand new segments, all under the device's capacity ceiling. Memory is
// only reclaimed by Cleanup, which drops trailing unreferenced segments;
// live segments never move, so segment indices held by uploaded programs
// stay valid.
//
// The Manager drives a device through the minimal Transport interface and
// keeps the device's two-level sequencing tables (sequence table plus
// advanced sequence table) in step with the armed program. All device
// reconfiguration happens inside a reentrant configuration guard that
// parks the instrument in configuration mode for the outermost operation
// only.
//
// A Manager is single-threaded and blocking; callers sharing one across
// goroutines must serialize access themselves.
package awg
