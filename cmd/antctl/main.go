package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/meridianspace/antdeploy/internal/ants"
	"github.com/meridianspace/antdeploy/internal/version"
)

const defaultServer = "http://localhost:8617"

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "status":
		handleStatus(args)
	case "deploy":
		handleDeploy(args)
	case "deploy-all":
		handleDeployAll(args)
	case "abort":
		handleAbort(args)
	case "reset":
		handleReset(args)
	case "disarm":
		handleDisarm(args)
	case "telemetry":
		handleTelemetry(args)
	case "history":
		handleHistory(args)
	case "version":
		fmt.Printf("antctl %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`antctl - Operator CLI for the antenna deployment daemon

Usage: antctl <command> [options]

Commands:
  status      Show link, arming, and per-channel deployment state
  deploy      Release one antenna channel (blocks until the run finishes)
  deploy-all  Release every stowed channel in one run
  abort       Stop a channel's active deployment at the next checkpoint
  reset       Return a failed or aborted channel to stowed
  disarm      Clear the controller's armed override
  telemetry   Show controller lifetime telemetry
  history     List recent deployment runs
  version     Print version
  help        Show this help

Run 'antctl <command> -h' for command options.`)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Daemon base URL")
	refresh := fs.Bool("refresh", false, "Poll the controller before answering")
	fs.Parse(args)

	status, err := NewClient(*server, nil).Status(*refresh)
	if err != nil {
		fail(err)
	}
	printStatus(status)
}

func handleDeploy(args []string) {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Daemon base URL")
	channel := fs.Int("channel", 0, "Antenna channel to release (1-4)")
	mode := fs.String("mode", "automatic", "Deploy mode: automatic or manual")
	burn := fs.Duration("burn", 0, "Burn duration (0 uses the daemon default)")
	fs.Parse(args)

	result, err := NewClient(*server, nil).Deploy(uint8(*channel), *mode, *burn)
	if err != nil {
		fail(err)
	}
	printRunResult(result)
}

func handleDeployAll(args []string) {
	fs := flag.NewFlagSet("deploy-all", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Daemon base URL")
	burn := fs.Duration("burn", 0, "Burn duration per channel (0 uses the daemon default)")
	fs.Parse(args)

	result, err := NewClient(*server, nil).DeployAll(*burn)
	if err != nil {
		fail(err)
	}
	printRunResult(result)
}

func handleAbort(args []string) {
	fs := flag.NewFlagSet("abort", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Daemon base URL")
	channel := fs.Int("channel", 0, "Channel whose deployment to abort (1-4)")
	fs.Parse(args)

	if err := NewClient(*server, nil).Abort(uint8(*channel)); err != nil {
		fail(err)
	}
	fmt.Printf("Abort requested for channel %d\n", *channel)
}

func handleReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Daemon base URL")
	channel := fs.Int("channel", 0, "Channel to reset to stowed (1-4)")
	fs.Parse(args)

	if err := NewClient(*server, nil).Reset(uint8(*channel)); err != nil {
		fail(err)
	}
	fmt.Printf("Channel %d reset to stowed\n", *channel)
}

func handleDisarm(args []string) {
	fs := flag.NewFlagSet("disarm", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Daemon base URL")
	fs.Parse(args)

	if err := NewClient(*server, nil).Disarm(); err != nil {
		fail(err)
	}
	fmt.Println("Armed override disabled")
}

func handleTelemetry(args []string) {
	fs := flag.NewFlagSet("telemetry", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Daemon base URL")
	fs.Parse(args)

	tel, err := NewClient(*server, nil).Telemetry()
	if err != nil {
		fail(err)
	}
	printTelemetry(tel)
}

func handleHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	server := fs.String("server", defaultServer, "Daemon base URL")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	fs.Parse(args)

	runs, err := NewClient(*server, nil).History(*limit)
	if err != nil {
		fail(err)
	}
	printHistory(runs)
}

func printStatus(status ants.SystemStatus) {
	fmt.Printf("Link:    %s\n", upDown(status.LinkUp))
	fmt.Printf("Armed:   %s\n", yesNo(status.Armed))
	if status.SampledAt.IsZero() {
		fmt.Printf("Sampled: never\n")
	} else {
		fmt.Printf("Sampled: %s\n", status.SampledAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Printf("%-3s %-10s %9s %9s %8s\n", "CH", "STATE", "ATTEMPTS", "RELEASED", "BURNING")
	for i, info := range status.Channels {
		fmt.Printf("%-3d %-10s %9d %9s %8s\n",
			info.ID, info.State, info.AttemptCount,
			yesNo(status.Released[i]), yesNo(status.Burning[i]))
	}
}

func printRunResult(result runResult) {
	fmt.Printf("Outcome: %s\n", result.Outcome)
	if result.Error != "" {
		fmt.Printf("Detail:  %s\n", result.Error)
	}
	if len(result.Channels) > 0 {
		fmt.Println()
		fmt.Printf("%-3s %-10s %9s\n", "CH", "STATE", "ATTEMPTS")
		for _, info := range result.Channels {
			fmt.Printf("%-3d %-10s %9d\n", info.ID, info.State, info.AttemptCount)
		}
		return
	}
	fmt.Printf("Channel: %d\n", result.Channel)
	fmt.Printf("State:   %s\n", result.State)
	fmt.Printf("Attempts: %d\n", result.Attempts)
}

func printTelemetry(tel ants.Telemetry) {
	fmt.Printf("Uptime:          %s\n", (time.Duration(tel.UptimeSeconds) * time.Second).String())
	fmt.Printf("Raw temperature: %d (0x%04x)\n", tel.RawTemperature, tel.RawTemperature)
	fmt.Println()
	fmt.Printf("%-3s %12s %14s\n", "CH", "ACTIVATIONS", "BURN TIME (s)")
	for i := range tel.ActivationCount {
		fmt.Printf("%-3d %12d %14d\n", i+1, tel.ActivationCount[i], tel.ActivationTime[i])
	}
}

func printHistory(runs []ants.DeploymentRecord) {
	if len(runs) == 0 {
		fmt.Println("No deployment runs recorded")
		return
	}
	fmt.Printf("%-20s %-10s %-3s %-9s %-8s %-8s %s\n",
		"STARTED", "OP", "CH", "MODE", "BURN", "ATTEMPTS", "OUTCOME")
	for _, run := range runs {
		ch := fmt.Sprintf("%d", run.Channel)
		if run.Channel == 0 {
			ch = "-"
		}
		fmt.Printf("%-20s %-10s %-3s %-9s %-8s %-8d %s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Operation, ch, run.Mode, run.Burn, run.Attempts, run.Outcome)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func upDown(b bool) string {
	if b {
		return "up"
	}
	return "down"
}
