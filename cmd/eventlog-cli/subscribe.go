package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fkabongo/eventlogclient/client"
	"github.com/fkabongo/eventlogclient/internal/config"
)

// printingObserver prints every delivered event to stdout until the
// subscription drops.
type printingObserver struct {
	done chan struct{}
}

func (o *printingObserver) OnEvent(ev client.ResolvedEvent) {
	fmt.Printf("event\t%d\t%s\t%s\t%d bytes\n", ev.Inner.EventNumber, ev.Inner.EventID, ev.Inner.EventType, len(ev.Inner.Data))
}

func (o *printingObserver) OnLiveProcessingStart() {
	fmt.Println("live processing started")
}

func (o *printingObserver) OnDropped(err *client.SubscriptionDroppedError) {
	fmt.Printf("subscription dropped: %v\n", err)
	close(o.done)
}

func subscribeCmd() *cobra.Command {
	var stream string
	var all bool
	var catchUp bool
	var fromEventNumber int64

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe to a stream or $all and print delivered events",
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

			obs := &printingObserver{done: make(chan struct{})}

			var sub client.Subscription
			switch {
			case all && catchUp:
				sub = c.SubscribeCatchUpAll(client.Position{}, nil, obs)
			case all:
				sub = c.SubscribeVolatile(client.AllStreams, nil, obs)
			case catchUp:
				sub = c.SubscribeCatchUpStream(client.StreamID(stream), fromEventNumber, nil, obs)
			default:
				sub = c.SubscribeVolatile(client.StreamID(stream), nil, obs)
			}
			defer sub.Close()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sig:
			case <-obs.done:
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "stream id to subscribe to (ignored with --all)")
	cmd.Flags().BoolVar(&all, "all", false, "subscribe to $all instead of a single stream")
	cmd.Flags().BoolVar(&catchUp, "catch-up", false, "use a catch-up subscription instead of a volatile one")
	cmd.Flags().Int64Var(&fromEventNumber, "from", -1, "event number to replay from, exclusive (catch-up only)")
	return cmd
}
