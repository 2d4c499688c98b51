// ABOUTME: Terminal monitor for a running NetClocks daemon
// ABOUTME: Streams status snapshots over WebSocket into the TUI
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/NetClocks-Protocol/netclocks-go/internal/node"
	"github.com/NetClocks-Protocol/netclocks-go/internal/ui"
	"github.com/gorilla/websocket"
)

var (
	target = flag.String("target", "localhost:8924", "Daemon status address (host:port)")
)

func main() {
	flag.Parse()

	// The TUI owns the terminal; keep log output out of it.
	log.SetOutput(os.Stderr)

	url := fmt.Sprintf("ws://%s/ws", *target)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatalf("Connecting to %s: %v", url, err)
	}
	defer conn.Close()

	program, err := ui.Run()
	if err != nil {
		log.Fatalf("TUI error: %v", err)
	}

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				program.Send(ui.DisconnectedMsg{Err: err})
				return
			}
			var st node.Status
			if err := json.Unmarshal(data, &st); err != nil {
				log.Printf("Bad snapshot: %v", err)
				continue
			}
			program.Send(ui.StatusMsg(st))
		}
	}()

	if _, err := program.Run(); err != nil {
		log.Fatalf("TUI error: %v", err)
	}
}
