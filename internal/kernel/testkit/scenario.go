// Package testkit loads declarative boot scenarios from YAML, driving the
// end-to-end scenario tests and cmd/kmonitor's interactive boot sequence.
// Grounded on the teacher's own config-construction style (VM topology
// built up from structured Go values in internal/linux/boot), adapted here
// to be data-driven via gopkg.in/yaml.v3 rather than hand-written Go
// literals for the larger, multi-process scenarios.
package testkit

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FileFixture describes one file to pre-populate in the scenario's memfs
// mount before boot.
type FileFixture struct {
	Path     string `yaml:"path"`
	Contents string `yaml:"contents"`
}

// ProcessFixture describes one process the scenario starts at boot.
type ProcessFixture struct {
	Name string   `yaml:"name"`
	Argv []string `yaml:"argv"`
	Envp []string `yaml:"envp"`
	// ELFPath names a FileFixture's Path whose contents are the ELF image
	// to execve into this process.
	ELFPath string `yaml:"elf_path"`
}

// Scenario is the root of a boot fixture: memory size, files, and the
// initial process table.
type Scenario struct {
	Name          string           `yaml:"name"`
	RAMBytes      uint64           `yaml:"ram_bytes"`
	TimerHz       uint64           `yaml:"timer_hz"`
	Files         []FileFixture    `yaml:"files"`
	Processes     []ProcessFixture `yaml:"processes"`
}

// Parse decodes a Scenario from YAML text and validates the handful of
// invariants a scenario must hold (non-empty name, positive RAM, every
// process's elf_path resolving to a declared file) so a malformed fixture
// fails fast rather than producing a confusing boot-time error.
func Parse(doc []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("testkit: parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("testkit: scenario has no name")
	}
	if s.RAMBytes == 0 {
		return fmt.Errorf("testkit: scenario %q declares zero RAM", s.Name)
	}
	if s.TimerHz == 0 {
		return fmt.Errorf("testkit: scenario %q declares zero timer frequency", s.Name)
	}

	files := make(map[string]bool, len(s.Files))
	for _, f := range s.Files {
		if f.Path == "" {
			return fmt.Errorf("testkit: scenario %q has a file fixture with no path", s.Name)
		}
		files[f.Path] = true
	}
	for _, p := range s.Processes {
		if p.ELFPath != "" && !files[p.ELFPath] {
			return fmt.Errorf("testkit: scenario %q: process %q references undeclared file %q", s.Name, p.Name, p.ELFPath)
		}
	}
	return nil
}
