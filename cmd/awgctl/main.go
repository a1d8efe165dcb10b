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

// awgctl is an interactive console for the program memory manager,
// backed by the in-memory instrument simulator. It exists to poke at
// placement behavior without hardware: upload pulse programs, arm them,
// inspect segment memory and watch how segments get reused, inserted and
// amended.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/peterh/liner"

	"github.com/bpapajewski/qupulse/awg"
	"github.com/bpapajewski/qupulse/program"
	"github.com/bpapajewski/qupulse/sim"
)

const historyFile = ".awgctl_history"

var (
	capacity = flag.Int("capacity", 8*1024*1024, "waveform memory size in samples")
	rate     = flag.Float64("rate", 1, "sample rate in samples per time unit")
	verbose  = flag.Bool("verbose", false, "log manager diagnostics to stderr")
)

// console bundles the manager with the compiled form of every uploaded
// program so that show can print instruction listings.
type console struct {
	mgr *awg.Manager
	dev *awg.Device
	sim *sim.Simulator

	trees map[string]*program.Tree
	seqs  map[string][]program.Instruction
}

// parsePulses turns len@level arguments into a pulse program tree with
// one exec per pulse.
func parsePulses(args []string) (*program.Tree, []program.Instruction, error) {
	t := program.New()
	root := t.Root()
	for _, arg := range args {
		ls, lv, ok := strings.Cut(arg, "@")
		if !ok {
			return nil, nil, fmt.Errorf("%q: expected len@level", arg)
		}
		n, err := strconv.Atoi(ls)
		if err != nil {
			return nil, nil, fmt.Errorf("%q: bad length: %v", arg, err)
		}
		level, err := strconv.ParseFloat(lv, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%q: bad level: %v", arg, err)
		}
		t.AddExec(root, program.ConstantWaveform{Level: level, Len: float64(n)})
	}
	seq, err := t.Compile(root)
	if err != nil {
		return nil, nil, err
	}
	return t, seq, nil
}

func (c *console) upload(args []string, force bool) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: upload <name> <len>@<level> ...")
	}
	name := args[0]
	t, seq, err := parsePulses(args[1:])
	if err != nil {
		return err
	}
	prog, err := awg.SequenceProgram(seq)
	if err != nil {
		return err
	}
	if err := c.mgr.Upload(name, prog, nil, force); err != nil {
		return err
	}
	c.trees[name] = t
	c.seqs[name] = seq
	return nil
}

func (c *console) show(name string) error {
	t, ok := c.trees[name]
	if !ok {
		return fmt.Errorf("unknown program %q", name)
	}
	return program.DumpAll(t, c.seqs[name], os.Stdout)
}

func (c *console) segments() {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "slot\tcapacity\tlength\trefs\thash")
	for _, s := range c.mgr.Segments() {
		fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%016x\n", s.Index, s.Capacity, s.Length, s.Refs, s.Hash)
	}
	fmt.Fprintf(w, "\t%d free of %d\t\t\t\n",
		c.mgr.Properties().TotalCapacity-used(c.mgr), c.mgr.Properties().TotalCapacity)
	w.Flush()
}

func used(m *awg.Manager) int {
	var n int
	for _, s := range m.Segments() {
		if s.Refs > 0 {
			n += s.Capacity
		}
	}
	return n
}

func (c *console) status() error {
	st, err := c.dev.StatusTable()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	for _, e := range st {
		fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Value)
	}
	armed := c.mgr.Current()
	if armed == "" {
		armed = "(idle)"
	}
	fmt.Fprintf(w, "armed\t%s\n", armed)
	fmt.Fprintf(w, "device segments\t%d\n", c.sim.SegmentCount())
	return w.Flush()
}

func (c *console) exec(line string) (quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "upload":
		return false, c.upload(args, false)
	case "replace":
		return false, c.upload(args, true)
	case "arm":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: arm <name> (or arm - for idle)")
		}
		name := args[0]
		if name == "-" {
			name = ""
		}
		return false, c.mgr.Arm(name)
	case "remove":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: remove <name>")
		}
		if err := c.mgr.Remove(args[0]); err != nil {
			return false, err
		}
		delete(c.trees, args[0])
		delete(c.seqs, args[0])
		return false, nil
	case "show":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: show <name>")
		}
		return false, c.show(args[0])
	case "programs":
		for _, name := range c.mgr.Programs() {
			marker := " "
			if name == c.mgr.Current() {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return false, nil
	case "segments":
		c.segments()
		return false, nil
	case "status":
		return false, c.status()
	case "run":
		return false, c.mgr.RunCurrent()
	case "cleanup":
		return false, c.mgr.Cleanup()
	case "clear":
		for name := range c.trees {
			delete(c.trees, name)
			delete(c.seqs, name)
		}
		return false, c.mgr.Clear()
	case "reset":
		return false, c.dev.Reset()
	case "help":
		fmt.Print(helpText)
		return false, nil
	case "quit", "exit":
		return true, nil
	}
	return false, fmt.Errorf("unknown command %q, try help", cmd)
}

const helpText = `commands:
  upload <name> <len>@<level> ...  sample and place a pulse program
  replace <name> <len>@<level> ... like upload, freeing an existing name
  arm <name>                       make <name> the active program (- for idle)
  run                              trigger the armed program
  remove <name>                    free the program and discard orphans
  show <name>                      print the compiled instruction listing
  programs                         list uploaded programs (* = armed)
  segments                         dump the segment table
  status                           query instrument state
  cleanup                          drop unreferenced trailing segments
  clear                            wipe memory back to the idle segment
  reset                            reset and re-initialize the instrument
  quit                             leave
`

func main() {
	flag.Parse()

	s := sim.New()
	dev, err := awg.NewDevice(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	opts := []awg.Option{
		awg.WithProperties(awg.Properties{
			TotalCapacity:  *capacity,
			MinSegmentLen:  192,
			SegmentQuantum: 16,
			MinSequenceLen: 3,
			MinAdvancedLen: 3,
		}),
		awg.SampleRate(*rate),
	}
	if *verbose {
		opts = append(opts, awg.Logging(log.New(os.Stderr, "awg: ", log.Ltime)))
	}
	mgr, err := awg.NewManager(s, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	c := &console{
		mgr:   mgr,
		dev:   dev,
		sim:   s,
		trees: make(map[string]*program.Tree),
		seqs:  make(map[string][]program.Instruction),
	}

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	if f, err := os.Open(histPath); err == nil {
		ln.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			ln.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		line, err := ln.Prompt("awg> ")
		if err != nil {
			fmt.Println()
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		ln.AppendHistory(line)
		quit, err := c.exec(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		if quit {
			return
		}
	}
}
