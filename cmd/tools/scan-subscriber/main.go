// Command scan-subscriber connects to a running odometry publisher and
// prints the frames it streams.
//
// Usage:
//
//	go run ./cmd/tools/scan-subscriber [flags]
//
// Flags:
//
//	-addr    Publisher address (default: localhost:50051)
//	-cloud   Request scan points with every frame
//	-count   Stop after this many frames (default: 0, run until interrupted)
//	-json    Print one JSON object per frame
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/scanmatch/internal/scanwire"
	"github.com/banshee-data/scanmatch/internal/visualiser"
)

var errDone = errors.New("frame count reached")

func main() {
	addr := flag.String("addr", "localhost:50051", "Publisher address")
	withCloud := flag.Bool("cloud", false, "Request scan points with every frame")
	count := flag.Int("count", 0, "Stop after this many frames (0: until interrupted)")
	asJSON := flag.Bool("json", false, "Print one JSON object per frame")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := visualiser.NewClient(*addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	hostname, _ := os.Hostname()
	req := scanwire.SubscribeRequest{Client: "scan-subscriber@" + hostname, IncludeCloud: *withCloud}
	log.Printf("Subscribing to %s (cloud=%v)", *addr, *withCloud)

	n, err := stream(ctx, client, req, os.Stdout, *count, *asJSON)
	log.Printf("Received %d frames", n)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Subscription ended: %v", err)
	}
}

// stream writes each received frame to w until the stream ends, ctx is done
// or count frames have arrived (count <= 0 means no limit).
func stream(ctx context.Context, client *visualiser.Client, req scanwire.SubscribeRequest, w io.Writer, count int, asJSON bool) (int, error) {
	enc := json.NewEncoder(w)
	n := 0
	err := client.Subscribe(ctx, req, func(f *scanwire.Frame) error {
		n++
		if asJSON {
			if err := enc.Encode(f); err != nil {
				return err
			}
		} else {
			status := "held"
			if f.Accepted {
				status = "accepted"
			}
			if _, err := fmt.Fprintf(w, "seq=%d state=%s %s x=%.3f y=%.3f θ=%.3f scale=%.4f mse=%.3g points=%d\n",
				f.Seq, f.State, status, f.Pose.X, f.Pose.Y, f.Pose.Theta, f.Scale, f.Error, f.Cloud.Len()); err != nil {
				return err
			}
		}
		if count > 0 && n >= count {
			return errDone
		}
		return nil
	})
	if errors.Is(err, errDone) {
		err = nil
	}
	return n, err
}
