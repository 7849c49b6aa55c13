package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"git.platform.alem.school/amibragim/expedition-supply/cmd/administrator"
	"git.platform.alem.school/amibragim/expedition-supply/cmd/demo"
	"git.platform.alem.school/amibragim/expedition-supply/cmd/supplier"
	"git.platform.alem.school/amibragim/expedition-supply/cmd/team"
	"git.platform.alem.school/amibragim/expedition-supply/internal/cli"
)

func main() {
	// check for help flag first
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	// parse all command-line arguments
	mode, svcArgs, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// ensure that mode is not empty
	if mode == "" {
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// create context cancelled on SIGINT/SIGTERM signals ensuring graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	configPath := fs.String("config", cli.DefaultConfigPath, "Path to the YAML config file")
	cli.AttachUsage(fs, mode)

	// run the participant specified by the mode flag
	switch mode {
	case cli.ModeTeam:
		name := fs.String("name", "", "Unique team name (required)")
		parseOrExit(fs, svcArgs)

		if *name == "" {
			fmt.Fprintln(os.Stderr, "Error: --name is required")
			fs.Usage()
			os.Exit(2)
		}

		exitOnError(team.Run(ctx, *configPath, *name, os.Stdin))

	case cli.ModeSupplier:
		name := fs.String("name", "", "Unique supplier name (required)")
		equipment := fs.String("equipment", "", "Comma-separated equipment types the supplier stocks, e.g. oxygen,boots (required)")
		parseOrExit(fs, svcArgs)

		if *name == "" {
			fmt.Fprintln(os.Stderr, "Error: --name is required")
			fs.Usage()
			os.Exit(2)
		}
		if *equipment == "" {
			fmt.Fprintln(os.Stderr, "Error: --equipment is required")
			fs.Usage()
			os.Exit(2)
		}

		exitOnError(supplier.Run(ctx, *configPath, *name, *equipment))

	case cli.ModeAdministrator:
		parseOrExit(fs, svcArgs)
		exitOnError(administrator.Run(ctx, *configPath, os.Stdin))

	case cli.ModeDemo:
		broker := fs.String("broker", demo.BrokerRabbitMQ, "Broker to run against: rabbitmq or memory")
		parseOrExit(fs, svcArgs)

		if *broker != demo.BrokerRabbitMQ && *broker != demo.BrokerMemory {
			fmt.Fprintln(os.Stderr, "Error: --broker must be rabbitmq or memory")
			fs.Usage()
			os.Exit(2)
		}

		exitOnError(demo.Run(ctx, *configPath, *broker))
	}
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
