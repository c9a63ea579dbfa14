package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fkabongo/eventlogclient/client"
	"github.com/fkabongo/eventlogclient/internal/config"
)

func readCmd() *cobra.Command {
	var stream string
	var from int64
	var count int
	var backward bool

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a slice of events from a stream",
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

			var slice client.StreamSlice
			if backward {
				slice, err = c.ReadStreamEventsBackward(context.Background(), client.StreamID(stream), from, count, nil)
			} else {
				slice, err = c.ReadStreamEventsForward(context.Background(), client.StreamID(stream), from, count, nil)
			}
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			for _, ev := range slice.Events {
				fmt.Printf("%d\t%s\t%s\t%d bytes\n", ev.Inner.EventNumber, ev.Inner.EventID, ev.Inner.EventType, len(ev.Inner.Data))
			}
			fmt.Printf("next_event_number=%d is_end_of_stream=%t\n", slice.NextEventNumber, slice.IsEndOfStream)
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "stream id to read")
	cmd.Flags().Int64Var(&from, "from", 0, "starting event number")
	cmd.Flags().IntVar(&count, "count", 20, "max events to read")
	cmd.Flags().BoolVar(&backward, "backward", false, "read backward instead of forward")
	cmd.MarkFlagRequired("stream")
	return cmd
}
