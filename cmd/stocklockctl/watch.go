package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cordum/stocklock/core/infra/bus"
	"github.com/cordum/stocklock/core/infra/locks"
	"github.com/nats-io/nats.go"
)

func runWatchCmd(args []string) {
	fs := newFlagSet("watch")
	url := fs.String("nats", envOr("NATS_URL", nats.DefaultURL), "nats url")
	subject := fs.String("subject", bus.SubjectLockAll, "subject filter")
	redeliver := fs.Duration("redeliver-after", 5*time.Second, "jetstream redelivery delay for events that fail to print")
	fs.ParseArgs(args)

	nb, err := bus.NewNatsBus(*url)
	check(err)
	defer nb.Close()

	delay := time.Duration(0)
	if nb.Redelivers(*subject) {
		delay = *redeliver
	}
	sub, err := nb.Subscribe(*subject, "", printEvent(os.Stdout, delay))
	check(err)
	fmt.Fprintf(os.Stderr, "watching %s on %s (%s, redelivery %t)\n", *subject, *url, nb.Status(), delay > 0)
	defer func() { _ = sub.Unsubscribe() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

// printEvent writes one line per lock event. With a positive redeliver delay,
// events that cannot be decoded or written are handed back for redelivery;
// otherwise they are reported and acked.
func printEvent(w io.Writer, redeliver time.Duration) func([]byte) error {
	return func(data []byte) error {
		var evt locks.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			fmt.Fprintf(w, "undecodable event: %v\n", err)
			if redeliver > 0 {
				return bus.RetryAfter(fmt.Errorf("decode lock event: %w", err), redeliver)
			}
			return nil
		}
		if _, err := fmt.Fprintf(w, "%s %-14s %s %s\n", evt.At.Format("15:04:05.000"), evt.Type, evt.Key, evt.Token); err != nil {
			if redeliver > 0 {
				return bus.RetryAfter(fmt.Errorf("print lock event: %w", err), redeliver)
			}
			return err
		}
		return nil
	}
}
