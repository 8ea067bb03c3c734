// Lessond is the lesson lifecycle and feedback daemon.
//
// It accepts finished workflow runs over HTTP, extracts proposed lessons
// for human review, records retrieval events and outcomes, and periodically
// curates the approved set and evaluates whether lessons are helping.
//
// Configuration is read from ~/.config/lessond/config.yaml and LESSOND_*
// environment variables. A .env file in the working directory is loaded
// first when present.
//
// Usage:
//
//	# Start with defaults
//	lessond
//
//	# Use an explicit config and policy
//	lessond -config /etc/lessond/config.yaml -policy /etc/lessond/policy.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to config file (default ~/.config/lessond/config.yaml)")
	flag.StringVar(&opts.policyPath, "policy", "", "path to policy file (overrides policy.path)")
	flag.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  lessond [flags]    Start the lessond daemon\n")
			fmt.Fprintf(os.Stderr, "  lessond version    Show version information\n")
			os.Exit(1)
		}
	}

	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !os.IsNotExist(err) {
			log.Printf("Ignoring env file %s: %v", opts.envFile, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("lessond: %v", err)
	}
}

func printVersion() {
	fmt.Printf("lessond by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}
