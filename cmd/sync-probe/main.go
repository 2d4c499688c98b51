// ABOUTME: Probe tool measuring a node's offset and round trip latency
// ABOUTME: Fires a burst of delay exchanges and prints summary statistics
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/pkg/netclocks"
)

var (
	target   = flag.String("target", "localhost:8923", "Node address")
	count    = flag.Int("count", 10, "Number of probes")
	interval = flag.Duration("interval", 200*time.Millisecond, "Delay between probes")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	client, err := netclocks.Dial(*target)
	if err != nil {
		log.Fatalf("Dial error: %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	if err := client.Connect(ctx); err != nil {
		log.Fatalf("Handshake error: %v", err)
	}
	cancel()

	fmt.Printf("Probing %s (%d exchanges)...\n", *target, *count)

	var offsets, rtts []int64
	var level byte
	for i := 0; i < *count; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		res, err := client.Probe(ctx)
		cancel()
		if err != nil {
			fmt.Printf("  probe %d: %v\n", i+1, err)
			continue
		}
		fmt.Printf("  probe %d: offset %+dms rtt %dms level %d\n", i+1, res.Offset, res.RTT, res.Level)
		offsets = append(offsets, res.Offset)
		rtts = append(rtts, res.RTT)
		level = res.Level

		time.Sleep(*interval)
	}

	if len(offsets) == 0 {
		log.Fatalf("No probes succeeded")
	}

	fmt.Println()
	fmt.Printf("Replies:      %d/%d\n", len(offsets), *count)
	fmt.Printf("Sync level:   %s\n", levelText(level))
	fmt.Printf("Offset:       median %+dms  min %+dms  max %+dms\n",
		median(offsets), minOf(offsets), maxOf(offsets))
	fmt.Printf("Round trip:   median %dms  min %dms  max %dms\n",
		median(rtts), minOf(rtts), maxOf(rtts))
}

func levelText(level byte) string {
	if level == 255 {
		return "unsynchronized (255)"
	}
	return fmt.Sprintf("%d", level)
}

func median(vals []int64) int64 {
	sorted := make([]int64, len(vals))
	copy(sorted, vals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

func minOf(vals []int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(vals []int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
