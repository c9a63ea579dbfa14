package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fkabongo/eventlogclient/projection"
)

var (
	projBaseURL  string
	projLogin    string
	projPassword string
)

func newProjectionClient() *projection.Client {
	return projection.New(projection.Config{
		BaseURL:  projBaseURL,
		Login:    projLogin,
		Password: projPassword,
	})
}

func projectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Administer projections over HTTP",
	}
	cmd.PersistentFlags().StringVar(&projBaseURL, "url", "http://127.0.0.1:2113", "projections admin base URL")
	cmd.PersistentFlags().StringVar(&projLogin, "login", "", "admin login")
	cmd.PersistentFlags().StringVar(&projPassword, "password", "", "admin password")

	cmd.AddCommand(
		projectionCreateCmd(),
		projectionDescribeCmd(),
		projectionStateCmd(),
		projectionResultCmd(),
		projectionEnableCmd(),
		projectionDisableCmd(),
		projectionDeleteCmd(),
	)
	return cmd
}

func projectionCreateCmd() *cobra.Command {
	var mode string
	var queryFile string
	var emit bool

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a projection from a JS query file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := os.ReadFile(queryFile)
			if err != nil {
				return fmt.Errorf("read query file: %w", err)
			}
			res, err := newProjectionClient().Create(context.Background(), projection.Mode(mode), args[0], string(query), emit)
			if err != nil {
				return fmt.Errorf("create projection: %w", err)
			}
			fmt.Println(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(projection.ModeContinuous), "projection mode: onetime, continuous, or transient")
	cmd.Flags().StringVar(&queryFile, "query", "", "path to the projection's JS source")
	cmd.Flags().BoolVar(&emit, "emit", false, "enable emitted writes")
	cmd.MarkFlagRequired("query")
	return cmd
}

func projectionDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <name>",
		Short: "Show a projection's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, _, err := newProjectionClient().Describe(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("describe projection: %w", err)
			}
			fmt.Printf("name=%s status=%s mode=%s enabled=%t position=%s\n", info.Name, info.Status, info.Mode, info.Enabled, info.Position)
			return nil
		},
	}
}

func projectionStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <name>",
		Short: "Print a projection's current emitted state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, _, err := newProjectionClient().State(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("fetch projection state: %w", err)
			}
			fmt.Println(string(doc))
			return nil
		},
	}
}

func projectionResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result <name>",
		Short: "Print a one-time or transient projection's final result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, _, err := newProjectionClient().ResultOf(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("fetch projection result: %w", err)
			}
			fmt.Println(string(doc))
			return nil
		},
	}
}

func projectionEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <name>",
		Short: "Enable a projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newProjectionClient().Enable(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("enable projection: %w", err)
			}
			fmt.Println(res)
			return nil
		},
	}
}

func projectionDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <name>",
		Short: "Disable a projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newProjectionClient().Disable(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("disable projection: %w", err)
			}
			fmt.Println(res)
			return nil
		},
	}
}

func projectionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a projection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := newProjectionClient().Delete(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("delete projection: %w", err)
			}
			fmt.Println(res)
			return nil
		},
	}
}
