// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sapcc/placement-engine/internal/adapter"
)

// NewAllocateCommand builds the `placementctl allocate` subcommand tree.
// Both subcommands read their request body as JSON from a file or stdin,
// matching the shape of adapter.ParsedRequest / []adapter.ParsedConsumerAllocations
// so the same documents a collaborator's HTTP layer would parse can be
// replayed locally.
func NewAllocateCommand() *cobra.Command {
	root := &cobra.Command{Use: "allocate", Short: "Generate or commit allocation candidates."}

	var requestFile string
	candidates := &cobra.Command{
		Use:   "candidates",
		Short: "List allocation candidates for a request.",
		RunE: func(c *cobra.Command, args []string) error {
			var req adapter.ParsedRequest
			if err := readJSON(requestFile, &req); err != nil {
				return err
			}
			engine, closeFn, err := connect(context.Background())
			if err != nil {
				return err
			}
			defer closeFn()
			result, err := engine.GetAllocationCandidates(context.Background(), req)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	candidates.Flags().StringVar(&requestFile, "file", "-", "request JSON file, or - for stdin")
	root.AddCommand(candidates)

	var commitFile string
	commitCmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit a set of consumer allocation replacements.",
		RunE: func(c *cobra.Command, args []string) error {
			var sets []adapter.ParsedConsumerAllocations
			if err := readJSON(commitFile, &sets); err != nil {
				return err
			}
			engine, closeFn, err := connect(context.Background())
			if err != nil {
				return err
			}
			defer closeFn()
			if err := engine.SetAllocations(context.Background(), sets); err != nil {
				return err
			}
			fmt.Println("committed")
			return nil
		},
	}
	commitCmd.Flags().StringVar(&commitFile, "file", "-", "commit JSON file, or - for stdin")
	root.AddCommand(commitCmd)

	return root
}

// readJSON decodes v strictly: unknown top-level fields are rejected
// rather than silently ignored, so a typo in a hand-written request file
// fails fast instead of matching nothing.
func readJSON(path string, v interface{}) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
