package supervisor

import (
	"context"
	"fmt"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tboy1337/multisocks/pkg/logging"
	"github.com/tboy1337/multisocks/pkg/pool"
)

// runConsole drives a small admin console over the pool: status, proxies,
// help, quit. status/proxies are read-only introspection; quit triggers
// the same graceful-shutdown path as SIGINT/SIGTERM by calling shutdown,
// which the caller wires to its context's cancel function.
func runConsole(ctx context.Context, p *pool.Pool, shutdown context.CancelFunc) {
	rl, err := readline.NewEx(&readline.Config{Prompt: "multisocks> "})
	if err != nil {
		logging.Warnf("supervisor: admin console unavailable: %v", err)
		return
	}
	defer rl.Close()

	go func() {
		<-ctx.Done()
		rl.Close()
	}()

	printConsoleHelp()

	for {
		line, err := rl.Readline()
		if err != nil {
			return
		}

		if !dispatchConsoleCommand(line, p, shutdown) {
			return
		}
	}
}

// dispatchConsoleCommand runs one console command line against p, calling
// shutdown for "quit"/"exit". It returns false when the console loop
// should stop reading further input.
func dispatchConsoleCommand(line string, p *pool.Pool, shutdown context.CancelFunc) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	fields := strings.Fields(input)
	switch fields[0] {
	case "status":
		printStatus(p)
	case "proxies":
		printProxies(p)
	case "help":
		printConsoleHelp()
	case "quit", "exit":
		shutdown()
		return false
	default:
		fmt.Printf("unknown command %q (type 'help')\n", fields[0])
	}
	return true
}

func printConsoleHelp() {
	fmt.Println("Commands:")
	fmt.Println("  status    pool summary (total / alive / active_count)")
	fmt.Println("  proxies   per-proxy health detail")
	fmt.Println("  help      show this help")
	fmt.Println("  quit      trigger graceful shutdown, same as SIGINT/SIGTERM")
}

func printStatus(p *pool.Pool) {
	snaps := p.Snapshots()
	alive := 0
	for _, s := range snaps {
		if s.Alive {
			alive++
		}
	}
	fmt.Printf("proxies: %d total, %d alive, active_count=%d\n", len(snaps), alive, p.ActiveCount())
}

func printProxies(p *pool.Pool) {
	for _, s := range p.Snapshots() {
		status := "dead"
		if s.Alive {
			status = "alive"
		}
		if s.BackedOff {
			status = "backoff"
		}
		fmt.Printf("  [%d] %-40s %-8s failures=%d avg_latency=%.1fms in_flight=%d bw=%.0fbps\n",
			s.Descriptor.ID, s.Descriptor.String(), status,
			s.ConsecutiveFailures, s.AvgLatencyMS, s.InFlight, s.MeasuredBandwidth)
	}
}
