// Command velvet encodes test pictures into containers, inspects containers
// and extracts decoded frames.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var version = "dev"

const usage = `usage: velvet <command> [flags]

commands:
  encode   encode a test pattern into a container
  probe    print the streams and metadata of a container
  extract  write decoded frames as PNG files
  run      run the encode jobs of a YAML file concurrently
  engines  list the available engines, codecs and formats
  version  print the version
`

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		slog.Error("velvet failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return flag.ErrHelp
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "encode":
		return encodeCmd(ctx, args)
	case "probe":
		return probeCmd(args)
	case "extract":
		return extractCmd(args)
	case "run":
		return runCmd(ctx, args)
	case "engines":
		return enginesCmd()
	case "version":
		fmt.Println("velvet", version)
		return nil
	case "help", "-h", "-help", "--help":
		fmt.Fprint(os.Stdout, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
