// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sapcc/placement-engine/internal/adapter"
	"github.com/sapcc/placement-engine/internal/perr"
)

// NewInventoryCommand builds the `placementctl inventory` subcommand tree.
func NewInventoryCommand() *cobra.Command {
	root := &cobra.Command{Use: "inventory", Short: "Manage provider inventories."}

	var generation int32
	var specs []string
	set := &cobra.Command{
		Use:   "set PROVIDER_UUID",
		Short: "Replace a provider's full inventory set.",
		Long: "Each --class is CLASS_NAME:TOTAL[:RESERVED:MIN_UNIT:MAX_UNIT:STEP_SIZE:ALLOCATION_RATIO], " +
			"e.g. --class VCPU:64:0:1:8:1:16.0",
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			invs := make([]adapter.ParsedInventory, 0, len(specs))
			for _, spec := range specs {
				inv, err := parseInventorySpec(spec)
				if err != nil {
					return err
				}
				invs = append(invs, inv)
			}
			engine, closeFn, err := connect(context.Background())
			if err != nil {
				return err
			}
			defer closeFn()
			if err := engine.SetInventories(context.Background(), args[0], generation, invs); err != nil {
				return err
			}
			fmt.Println("inventory updated")
			return nil
		},
	}
	set.Flags().Int32Var(&generation, "generation", 0, "expected current provider generation")
	set.Flags().StringArrayVar(&specs, "class", nil, "CLASS_NAME:TOTAL[:RESERVED:MIN_UNIT:MAX_UNIT:STEP_SIZE:ALLOCATION_RATIO]")
	root.AddCommand(set)

	return root
}

func parseInventorySpec(spec string) (adapter.ParsedInventory, error) {
	fields := strings.Split(spec, ":")
	if len(fields) != 2 && len(fields) != 7 {
		return adapter.ParsedInventory{}, &perr.ValidationError{Field: "class", Reason: "expected CLASS_NAME:TOTAL or the full 7-field form: " + spec}
	}
	inv := adapter.ParsedInventory{
		ClassName: fields[0],
		MinUnit:   1, MaxUnit: 1 << 30, StepSize: 1, AllocationRatio: 1.0,
	}
	total, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return adapter.ParsedInventory{}, &perr.ValidationError{Field: "total", Reason: err.Error()}
	}
	inv.Total = total
	if len(fields) == 2 {
		inv.MaxUnit = total
		return inv, nil
	}
	inv.Reserved, _ = strconv.ParseInt(fields[2], 10, 64)
	inv.MinUnit, _ = strconv.ParseInt(fields[3], 10, 64)
	inv.MaxUnit, _ = strconv.ParseInt(fields[4], 10, 64)
	inv.StepSize, _ = strconv.ParseInt(fields[5], 10, 64)
	inv.AllocationRatio, _ = strconv.ParseFloat(fields[6], 64)
	return inv, nil
}
