/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"errors"
	"fmt"
	"os"

	"chainguard.dev/agentspans/agents/agenttrace"
	"gopkg.in/yaml.v3"
)

// Run modes.
const (
	ModeInvocation = "invocation"
	ModeSession    = "session"
)

// RunFile describes one traced agent run.
type RunFile struct {
	Name         string         `yaml:"name"`
	Mode         string         `yaml:"mode,omitempty"`
	Model        string         `yaml:"model,omitempty"`
	SystemPrompt string         `yaml:"system,omitempty"`
	Prompt       string         `yaml:"prompt"`
	UserID       string         `yaml:"userId,omitempty"`
	MaxTurns     int            `yaml:"maxTurns,omitempty"`
	Workdir      string         `yaml:"workdir,omitempty"`
	Props        map[string]any `yaml:"props,omitempty"`
	Metadata     map[string]any `yaml:"metadata,omitempty"`

	// Attributes are added to every span in session mode.
	Attributes map[string]any `yaml:"attributes,omitempty"`

	Dataset agenttrace.DatasetRun `yaml:"dataset,omitempty"`
}

// LoadRunFile reads and validates the run file at path.
func LoadRunFile(path string) (*RunFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run file: %w", err)
	}
	return ParseRunFile(raw)
}

// ParseRunFile decodes a run file, filling in defaults.
func ParseRunFile(raw []byte) (*RunFile, error) {
	var rf RunFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("parsing run file: %w", err)
	}
	if rf.Mode == "" {
		rf.Mode = ModeInvocation
	}
	if rf.Workdir == "" {
		rf.Workdir = "."
	}
	if err := rf.Validate(); err != nil {
		return nil, err
	}
	return &rf, nil
}

// Validate checks required fields.
func (rf *RunFile) Validate() error {
	var errs []error
	if rf.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if rf.Prompt == "" {
		errs = append(errs, errors.New("prompt is required"))
	}
	switch rf.Mode {
	case ModeInvocation, ModeSession:
	default:
		errs = append(errs, fmt.Errorf("mode %q must be %q or %q", rf.Mode, ModeInvocation, ModeSession))
	}
	if rf.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("maxTurns must not be negative, got %d", rf.MaxTurns))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid run file: %w", err)
	}
	return nil
}
