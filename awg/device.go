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
	"github.com/pkg/errors"
)

// initCommand puts the instrument into gate-free continuous mode, armed
// until Enable, with sequencer jump events expected over the bus.
const initCommand = "INIT:GATE OFF; INIT:CONT ON; INIT:CONT:ENAB SELF; SEQ:JUMP:EVEN BUS"

// Device is the control surface of one generator. It owns no segment or
// program state; that lives in the per channel-pair Manager.
type Device struct {
	tr Transport
}

// NewDevice wraps a transport in the device control surface and runs the
// initialization sequence.
func NewDevice(tr Transport) (*Device, error) {
	d := &Device{tr: tr}
	if err := d.Initialize(); err != nil {
		return nil, err
	}
	return d, nil
}

// Transport returns the underlying transport.
func (d *Device) Transport() Transport { return d.tr }

// Initialize configures run and trigger modes. Called once at
// construction and again after Reset.
func (d *Device) Initialize() error {
	return errors.Wrap(d.tr.Send(initCommand), "initialize")
}

// Reset resets the whole device and re-runs initialization. Any Manager
// on this device must be cleared afterwards.
func (d *Device) Reset() error {
	if err := d.tr.Send("RES"); err != nil {
		return errors.Wrap(err, "reset")
	}
	return d.Initialize()
}

// Enable immediately starts generating the selected output waveform if
// the device is armed.
func (d *Device) Enable() error {
	return errors.Wrap(d.tr.Send("ENAB"), "enable")
}

// Abort terminates the current waveform generation; the output falls back
// to the idle waveform.
func (d *Device) Abort() error {
	return errors.Wrap(d.tr.Send("ABOR"), "abort")
}

// Trigger triggers the device remotely.
func (d *Device) Trigger() error {
	return errors.Wrap(d.tr.Send("TRIG"), "trigger")
}

// StatusEntry is one row of the device status table.
type StatusEntry struct {
	Name  string
	Value string
}

var statusQueries = [...]StatusEntry{
	{"function mode", "SOUR:FUNC:MODE?"},
	{"selected sequence", "SEQ:SEL?"},
	{"selected segment", "TRAC:SEL?"},
	{"continuous", "INIT:CONT?"},
	{"gated", "INIT:GATE?"},
	{"output", "OUTP?"},
	{"last error", "SYST:ERR?"},
}

// StatusTable queries a fixed set of instrument settings and returns them
// in query order.
func (d *Device) StatusTable() ([]StatusEntry, error) {
	st := make([]StatusEntry, 0, len(statusQueries))
	for _, q := range statusQueries {
		v, err := d.tr.Query(q.Value)
		if err != nil {
			return nil, errors.Wrap(err, q.Name)
		}
		st = append(st, StatusEntry{Name: q.Name, Value: v})
	}
	return st, nil
}
