package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/accfleet/accfleet/pkg/client"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const usage = `Usage:
  accfleet status
  accfleet cooldown <account> <class> <seconds>
  accfleet warmup start <account>
  accfleet warmup stop <account>
  accfleet events [account]

The daemon endpoint defaults to http://127.0.0.1:8090 and can be
overridden with ACCFLEET_ENDPOINT.`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	c := client.NewClient(os.Getenv("ACCFLEET_ENDPOINT"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "status":
		runStatus(ctx, c)
	case "cooldown":
		runCooldown(ctx, c, os.Args[2:])
	case "warmup":
		runWarmup(ctx, c, os.Args[2:])
	case "events":
		runEvents(ctx, c, os.Args[2:])
	case "version":
		fmt.Printf("accfleet %s (%s, built %s)\n", Version, Commit, BuildTime)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

func runStatus(ctx context.Context, c *client.Client) {
	fleet, err := c.Fleet(ctx)
	if err != nil {
		fatal("Error contacting daemon: %v\nIs accfleet-d running?", err)
	}

	role := "follower"
	if fleet.Leader {
		role = "leader"
	}
	fmt.Printf("Node: %s (%s)\n", fleet.NodeID, role)
	if len(fleet.Accounts) == 0 {
		fmt.Println("No accounts configured.")
		return
	}

	for _, acct := range fleet.Accounts {
		session := "no session"
		if acct.SessionActive {
			session = "session active"
		}
		line := fmt.Sprintf("  %-20s %s", acct.Account, session)
		if acct.TaskState != "" {
			line += fmt.Sprintf(", task %s", acct.TaskState)
		}
		fmt.Println(line)
		for _, cd := range acct.Cooldowns {
			fmt.Printf("    cooldown %-12s until %s\n", cd.Class, cd.AvailableAt.Format(time.RFC3339))
		}
	}
}

func runCooldown(ctx context.Context, c *client.Client, args []string) {
	if len(args) != 3 {
		fatal("Usage: accfleet cooldown <account> <class> <seconds>")
	}
	seconds, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		fatal("Invalid seconds value %q: %v", args[2], err)
	}

	receipt, err := c.RecordCooldown(ctx, client.Cooldown{
		Account: args[0],
		Class:   args[1],
		Seconds: seconds,
	})
	if err != nil {
		fatal("Error recording cooldown: %v", err)
	}
	fmt.Printf("Cooldown recorded: %s (%s) unavailable until %s\n",
		receipt.Account, receipt.Class, receipt.AvailableAt.Format(time.RFC3339))
}

func runWarmup(ctx context.Context, c *client.Client, args []string) {
	if len(args) != 2 {
		fatal("Usage: accfleet warmup start|stop <account>")
	}

	switch args[0] {
	case "start":
		receipt, err := c.StartWarmup(ctx, args[1])
		if err != nil {
			fatal("Error starting warmup: %v", err)
		}
		fmt.Printf("Warmup %s for %s\n", receipt.Status, receipt.Account)
	case "stop":
		if err := c.CancelWarmup(ctx, args[1]); err != nil {
			fatal("Error stopping warmup: %v", err)
		}
		fmt.Printf("Warmup cancelled for %s\n", args[1])
	default:
		fatal("Usage: accfleet warmup start|stop <account>")
	}
}

func runEvents(ctx context.Context, c *client.Client, args []string) {
	opts := client.EventsOptions{Limit: 20}
	if len(args) > 0 {
		opts.Account = args[0]
	}

	events, err := c.GetEvents(ctx, opts)
	if err != nil {
		fatal("Error fetching events: %v", err)
	}
	if len(events) == 0 {
		fmt.Println("No events.")
		return
	}

	for _, ev := range events {
		line := fmt.Sprintf("%s  %-22s %s", ev.TsIngest.Format(time.RFC3339), ev.EventType, ev.Account)
		if ev.Class != "" {
			line += fmt.Sprintf(" (%s)", ev.Class)
		}
		fmt.Println(line)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}
