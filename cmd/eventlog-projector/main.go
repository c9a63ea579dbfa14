// Command eventlog-projector subscribes to a stream and materializes
// its events into a local SQLite database, resuming from its last
// checkpoint on every restart.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fkabongo/eventlogclient/client"
	"github.com/fkabongo/eventlogclient/internal/config"
	"github.com/fkabongo/eventlogclient/internal/projector"
)

func main() {
	cfgPath := flag.String("config", "eventlogclient.yaml", "path to config file")
	streamID := flag.String("stream", "", "stream id to project")
	dbPath := flag.String("db", "projection.db", "path to the SQLite database file")
	flag.Parse()

	if *streamID == "" {
		log.Fatal("eventlog-projector: -stream is required")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("eventlog-projector: load config: %v", err)
	}

	proj, err := projector.Open(*dbPath, client.StreamID(*streamID))
	if err != nil {
		log.Fatalf("eventlog-projector: open projection db: %v", err)
	}
	defer proj.Close()
	proj.OnError = func(err error) { log.Printf("eventlog-projector: write error: %v", err) }

	c, err := client.New(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("eventlog-projector: connect: %v", err)
	}
	defer c.Close()

	checkpoint, err := proj.Checkpoint(context.Background())
	if err != nil {
		log.Fatalf("eventlog-projector: read checkpoint: %v", err)
	}
	log.Printf("eventlog-projector: resuming stream=%s from event_number=%d", *streamID, checkpoint)

	sub := c.SubscribeCatchUpStream(client.StreamID(*streamID), checkpoint, nil, proj)
	defer sub.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("eventlog-projector: shutting down")
}
