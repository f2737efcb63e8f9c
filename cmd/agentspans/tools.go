/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"chainguard.dev/agentspans/agents/executor/claudeexecutor"
)

// maxReadBytes caps how much of a file read_file returns.
const maxReadBytes = 64 << 10

type readFileInput struct {
	Path string `json:"path" jsonschema:"required,description=Path relative to the working directory"`
}

type listDirInput struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory relative to the working directory; defaults to the root"`
}

type dirEntry struct {
	Name string `json:"name"`
	Dir  bool   `json:"dir,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// workdirTools returns read_file and list_dir confined to root.
func workdirTools(root *os.Root) ([]claudeexecutor.Tool, error) {
	read, err := claudeexecutor.NewTool("read_file", "Read a text file from the working directory.",
		func(_ context.Context, in readFileInput) (any, error) {
			if in.Path == "" {
				return nil, errors.New("path is required")
			}
			f, err := root.Open(in.Path)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			b, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
			if err != nil {
				return nil, err
			}
			if len(b) > maxReadBytes {
				return string(b[:maxReadBytes]) + "\n[truncated]", nil
			}
			return string(b), nil
		})
	if err != nil {
		return nil, err
	}

	list, err := claudeexecutor.NewTool("list_dir", "List a directory in the working directory.",
		func(_ context.Context, in listDirInput) (any, error) {
			path := in.Path
			if path == "" {
				path = "."
			}
			entries, err := fs.ReadDir(root.FS(), path)
			if err != nil {
				return nil, err
			}
			out := make([]dirEntry, 0, len(entries))
			for _, e := range entries {
				de := dirEntry{Name: e.Name(), Dir: e.IsDir()}
				if info, err := e.Info(); err == nil && !e.IsDir() {
					de.Size = info.Size()
				}
				out = append(out, de)
			}
			return out, nil
		})
	if err != nil {
		return nil, fmt.Errorf("building list_dir: %w", err)
	}
	return []claudeexecutor.Tool{read, list}, nil
}
