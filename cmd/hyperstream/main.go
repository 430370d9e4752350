// Command hyperstream is the thin CLI surface over pkg/transfer. Argument
// parsing and progress formatting live here, outside the core pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mjvec/hyperstream/pkg/logging"
	"github.com/mjvec/hyperstream/pkg/transfer"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "hyperstream: no arguments — interactive mode is not part of this build")
		fmt.Fprintln(os.Stderr, "usage: hyperstream send <path> | hyperstream receive <key> [--output dir]")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.Default

	switch args[0] {
	case "send":
		return runSend(ctx, args[1:], log)
	case "receive":
		return runReceive(ctx, args[1:], log)
	default:
		fmt.Fprintf(os.Stderr, "hyperstream: unknown command %q\n", args[0])
		return 1
	}
}

func runSend(ctx context.Context, args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: hyperstream send <path>")
		return 1
	}
	sourcePath := fs.Arg(0)

	opts := transfer.SendOptions{
		Logger: log,
		OnKeyReady: func(displayKey string) {
			fmt.Printf("share key: %s\n", displayKey)
			fmt.Println("waiting for a peer to connect...")
		},
		OnProgress: func(sent, total uint64) {
			printProgress("sending", sent, total)
		},
	}

	err := transfer.Send(ctx, sourcePath, opts)
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hyperstream: send failed: %v\n", err)
		return 1
	}
	return 0
}

func runReceive(ctx context.Context, args []string, log *slog.Logger) int {
	fs := flag.NewFlagSet("receive", flag.ContinueOnError)
	output := fs.String("output", ".", "destination directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: hyperstream receive <key> [--output dir]")
		return 1
	}
	displayKey := fs.Arg(0)

	opts := transfer.ReceiveOptions{
		Logger: log,
		OnPreamble: func(m transfer.Metadata) {
			fmt.Printf("incoming: %d file(s), %d bytes\n", m.FileCount, m.TotalSize)
		},
		OnProgress: func(received, total uint64) {
			printProgress("receiving", received, total)
		},
	}

	err := transfer.Receive(ctx, displayKey, *output, opts)
	fmt.Println()
	if err != nil {
		fmt.Fprintf(os.Stderr, "hyperstream: receive failed: %v\n", err)
		return 1
	}
	return 0
}

func printProgress(verb string, done, total uint64) {
	if total == 0 {
		fmt.Printf("\r%s: %d bytes", verb, done)
		return
	}
	pct := float64(done) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	fmt.Printf("\r%s: %.1f%%", verb, pct)
}

