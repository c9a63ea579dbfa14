package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fkabongo/eventlogclient/client"
	"github.com/fkabongo/eventlogclient/internal/config"
)

func appendCmd() *cobra.Command {
	var stream, eventType, dataFile string
	var expectAny bool

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append one event to a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c, err := client.New(cfg, prometheus.NewRegistry())
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer c.Close()

			data, err := os.ReadFile(dataFile)
			if err != nil {
				return fmt.Errorf("read data file: %w", err)
			}
			expected := client.Any()
			if !expectAny {
				expected = client.NoStream()
			}
			res, err := c.AppendToStream(context.Background(), client.StreamID(stream), expected, []client.EventData{
				client.NewEventData(eventType, data),
			})
			if err != nil {
				return fmt.Errorf("append: %w", err)
			}
			fmt.Printf("appended: next_expected_version=%d commit_position=%d\n", res.NextExpectedVersion, res.CommitPosition.Commit)
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "target stream id")
	cmd.Flags().StringVar(&eventType, "type", "", "event type")
	cmd.Flags().StringVar(&dataFile, "data", "", "path to a file with the event body")
	cmd.Flags().BoolVar(&expectAny, "any", true, "use Any() instead of NoStream() as the expected version")
	cmd.MarkFlagRequired("stream")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("data")
	return cmd
}
