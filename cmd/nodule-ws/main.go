package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ironsheep/nodule-watershed/internal/logging"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"levels", "search the watershed levels that isolate each nodule (default)", runLevels},
	{"accept", "search the first level yielding an accepted nodule-like region", runAccept},
	{"features", "describe every nodule mask and write the feature table", runFeatures},
	{"study", "run the level, acceptance and feature experiments reading each patient once", runStudy},
	{"runs", "list the ledger runs, show one or compare the levels of two", runRuns},
	{"render", "write a PNG of a patient slice with a mask or watershed overlay", runRender},
	{"mesh", "write the surface mesh of a nodule mask as ASCII STL", runMesh},
}

func main() {
	name := "levels"
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "--version", "-v", "version":
			printVersion()
			return
		case "--help", "-h", "help":
			printHelp()
			return
		}
		if args[0] != "" && args[0][0] != '-' {
			name, args = args[0], args[1:]
		}
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "nodule-ws: unknown command %q\n\n", name)
		printHelp()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logging.Error(logging.Fields{"command": name, "error": err.Error()}, "[main] command failed")
		fmt.Fprintf(os.Stderr, "nodule-ws %s: %v\n", name, err)
		stop()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("nodule-ws %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println("nodule-ws - watershed level experiments on lung CT nodules")
	fmt.Println()
	fmt.Println("Usage: nodule-ws [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, c := range commands {
		fmt.Printf("  %-10s %s\n", c.name, c.summary)
	}
	fmt.Printf("  %-10s %s\n", "version", "print version information")
	fmt.Printf("  %-10s %s\n", "help", "print this help message")
	fmt.Println()
	fmt.Println("Run 'nodule-ws <command> -h' for the options of a command.")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  NODULE_WS_LOG_LEVEL=debug           Enable debug logging")
	fmt.Println("  NODULE_WS_DATA_DIR=<dir>            Dataset root")
	fmt.Println("  NODULE_WS_OUTPUT_DIR=<dir>          Where tables and plots are written")
	fmt.Println("  NODULE_WS_LEDGER=<file>             SQLite results ledger")
	fmt.Println("  NODULE_WS_LEVELS=15-49              Watershed levels to explore")
	fmt.Println()
	fmt.Println("A .env file in the working directory is read when present.")
}
