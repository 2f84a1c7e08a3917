// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/majewsky/gg/option"
	"github.com/spf13/cobra"
)

// NewProviderCommand builds the `placementctl provider` subcommand tree.
func NewProviderCommand() *cobra.Command {
	root := &cobra.Command{Use: "provider", Short: "Manage resource providers."}

	var parentUUID string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a resource provider.",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			engine, closeFn, err := connect(context.Background())
			if err != nil {
				return err
			}
			defer closeFn()
			var parent option.Option[string]
			if parentUUID != "" {
				parent = option.Some(parentUUID)
			}
			p, err := engine.CreateProvider(context.Background(), args[0], parent)
			if err != nil {
				return err
			}
			fmt.Printf("created provider %s (%s)\n", p.UUID, p.Name)
			return nil
		},
	}
	create.Flags().StringVar(&parentUUID, "parent", "", "uuid of the parent provider, if any")
	root.AddCommand(create)

	show := &cobra.Command{
		Use:   "show UUID",
		Short: "Show a resource provider.",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			engine, closeFn, err := connect(context.Background())
			if err != nil {
				return err
			}
			defer closeFn()
			p, err := engine.GetProvider(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%+v\n", *p)
			return nil
		},
	}
	root.AddCommand(show)

	var providerGen int32
	del := &cobra.Command{
		Use:   "delete UUID",
		Short: "Delete a childless resource provider.",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			engine, closeFn, err := connect(context.Background())
			if err != nil {
				return err
			}
			defer closeFn()
			return engine.DeleteProvider(context.Background(), args[0], providerGen)
		},
	}
	del.Flags().Int32Var(&providerGen, "generation", 0, "expected current generation")
	root.AddCommand(del)

	return root
}
