// ABOUTME: High-level NetClocks client library API
// ABOUTME: Provides a simple UDP client for querying and joining nodes
// Package netclocks provides a client for the NetClocks time protocol.
//
// This is the entry point for programs that talk to a running daemon:
//   - Client: query a node's time, probe its latency, trigger leadership
//
// Example:
//
//	client, err := netclocks.Dial("192.168.1.10:8923")
//	t, level, err := client.GetTime(ctx)
//	sample, err := client.Probe(ctx)
//
// For the wire format itself, see internal/protocol in the daemon.
package netclocks
