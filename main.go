// ABOUTME: Entry point for the NetClocks daemon
// ABOUTME: Parses CLI flags, merges file config and runs the node
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/config"
	"github.com/NetClocks-Protocol/netclocks-go/internal/discovery"
	"github.com/NetClocks-Protocol/netclocks-go/internal/estimator"
	"github.com/NetClocks-Protocol/netclocks-go/internal/node"
	"github.com/NetClocks-Protocol/netclocks-go/internal/registry"
	"github.com/NetClocks-Protocol/netclocks-go/internal/scheduler"
	"github.com/NetClocks-Protocol/netclocks-go/internal/status"
	"github.com/NetClocks-Protocol/netclocks-go/internal/transport"
	"github.com/NetClocks-Protocol/netclocks-go/internal/version"
)

var (
	port       = flag.Int("p", 0, "UDP port to listen on")
	bindAddr   = flag.String("b", "", "Bind address")
	peerAddr   = flag.String("a", "", "Bootstrap peer address")
	peerPort   = flag.Int("r", 0, "Bootstrap peer port")
	configPath = flag.String("config", "", "YAML config file path")
	statusPort = flag.Int("status-port", 0, "HTTP status port (0 = disabled)")
	noMDNS     = flag.Bool("no-mdns", false, "Disable mDNS discovery")
	name       = flag.String("name", "", "Node friendly name (default: hostname)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	applyFlags(&cfg)

	if cfg.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		cfg.Name = hostname
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	log.Printf("Starting %s %s: %s on %s:%d",
		version.Product, version.Version, cfg.Name, cfg.BindAddress, cfg.Port)

	udp, err := transport.Listen(cfg.BindAddress, cfg.Port)
	if err != nil {
		log.Fatalf("Transport error: %v", err)
	}

	n := node.New(nodeConfig(cfg), udp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		cancel()
	}()

	if cfg.StatusPort > 0 {
		statusSrv := status.New(n, cfg.StatusPort)
		statusSrv.Start()
		defer statusSrv.Stop()
	}

	if cfg.EnableMDNS {
		mgr := discovery.NewManager(discovery.Config{
			InstanceName: fmt.Sprintf("%s-%s", cfg.Name, n.ID()[:8]),
			Port:         cfg.Port,
		})
		if err := mgr.Advertise(); err != nil {
			log.Printf("mDNS advertise failed: %v", err)
		}
		if err := mgr.Browse(); err != nil {
			log.Printf("mDNS browse failed: %v", err)
		}
		defer mgr.Stop()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case peer := <-mgr.Peers():
					if addr := peer.Addr(); addr != nil {
						n.AddPeer(addr)
					}
				}
			}
		}()
	}

	go udp.Run(ctx)
	n.Run(ctx)

	log.Printf("Node stopped")
}

// applyFlags overrides file config with any flag the user set explicitly.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "p":
			cfg.Port = *port
		case "b":
			cfg.BindAddress = *bindAddr
		case "a":
			cfg.PeerAddress = *peerAddr
		case "r":
			cfg.PeerPort = *peerPort
		case "status-port":
			cfg.StatusPort = *statusPort
		case "no-mdns":
			cfg.EnableMDNS = !*noMDNS
		case "name":
			cfg.Name = *name
		}
	})
}

// nodeConfig maps the file/flag configuration onto the node's runtime knobs.
func nodeConfig(cfg config.Config) node.Config {
	return node.Config{
		Name:              cfg.Name,
		PeerAddress:       cfg.PeerAddress,
		PeerPort:          cfg.PeerPort,
		Peers:             cfg.Peers,
		ProbeTimeout:      time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
		BroadcastInterval: time.Duration(cfg.BroadcastIntervalMs) * time.Millisecond,
		SyncTimeout:       time.Duration(cfg.SyncTimeoutMs) * time.Millisecond,
		MaxStepMs:         int64(cfg.MaxStepMs),
		SampleWindow:      cfg.SampleWindow,
		Scheduler: scheduler.Config{
			Interval:     time.Duration(cfg.ProbeIntervalMs) * time.Millisecond,
			Jitter:       time.Duration(cfg.ProbeJitterMs) * time.Millisecond,
			StaleBackoff: cfg.StaleBackoff,
			MaxInFlight:  cfg.MaxInFlightProbes,
			Tick:         250 * time.Millisecond,
		},
		Registry: registry.Config{
			StaleThreshold:       cfg.StaleThreshold,
			UnreachableThreshold: cfg.UnreachableThreshold,
		},
		Estimator: estimator.Config{
			MinSamples:      cfg.MinSamples,
			OutlierMultiple: cfg.OutlierMultiple,
		},
	}
}
