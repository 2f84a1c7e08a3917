// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sapcc/placement-engine/cmd/placementctl/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "placementctl",
		Short: "Command-line client for the placement engine, for scripting and local testing.",
	}

	rootCmd.AddCommand(cmd.NewProviderCommand())
	rootCmd.AddCommand(cmd.NewInventoryCommand())
	rootCmd.AddCommand(cmd.NewAllocateCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
