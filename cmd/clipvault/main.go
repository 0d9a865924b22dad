package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	cb "github.com/atotto/clipboard"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/kestrelworks/clipvault/internal/app"
	"github.com/kestrelworks/clipvault/internal/clipboard"
	"github.com/kestrelworks/clipvault/internal/storage"
)

// Version is set at build time
var Version = "dev"

const usage = `clipvault %s - persistent clipboard history

Usage:
  clipvault store [-file PATH -mime TYPE]   append clipboard text (or a file) to history
  clipvault list                            print the history, oldest first
  clipvault favorite <n>                    toggle the favorite flag of entry n
  clipvault delete <n>                      delete entry n
  clipvault clear                           wipe the whole history
  clipvault watch                           report external history changes until interrupted
`

func main() {
	logger := newLogger()
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, Version)
		os.Exit(2)
	}

	application, err := app.New(logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := run(ctx, application, os.Args[1], os.Args[2:]); err != nil {
		logger.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

// newLogger builds a colorized slog handler, dropping color when stderr is
// not a terminal.
func newLogger() *slog.Logger {
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "15:04:05",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

func run(ctx context.Context, a *app.App, command string, args []string) error {
	switch command {
	case "store":
		return cmdStore(ctx, a, args)
	case "list":
		return cmdList(a)
	case "favorite":
		return cmdAt(args, a.ToggleFavorite)
	case "delete":
		return cmdAt(args, a.Remove)
	case "clear":
		return a.Clear(ctx)
	case "watch":
		return cmdWatch(ctx, a)
	default:
		fmt.Fprintf(os.Stderr, usage, Version)
		return fmt.Errorf("unknown command %q", command)
	}
}

// cmdStore appends the current clipboard text, or the contents of a file,
// to the history.
func cmdStore(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("store", flag.ContinueOnError)
	file := fs.String("file", "", "store the contents of this file instead of the clipboard")
	mime := fs.String("mime", "application/octet-stream", "mimetype for -file payloads")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var entry *clipboard.Entry
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		entry = clipboard.NewBinary(*mime, data)
	} else {
		text, err := cb.ReadAll()
		if err != nil {
			return fmt.Errorf("read system clipboard: %w", err)
		}
		if text == "" {
			return nil
		}
		entry = clipboard.NewText(text)
	}
	return a.Append(ctx, entry)
}

func cmdList(a *app.App) error {
	for i, e := range a.History() {
		marker := " "
		if e.IsFavorite() {
			marker = "*"
		}
		fmt.Printf("%3d %s %s\n", i, marker, e.Preview(72))
	}
	return nil
}

// cmdAt parses a single position argument and applies op to it.
func cmdAt(args []string, op func(context.Context, int) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one entry position")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid position %q", args[0])
	}
	return op(context.Background(), n)
}

// cmdWatch prints a line whenever another process rewrites the history,
// until interrupted.
func cmdWatch(ctx context.Context, a *app.App) error {
	watcher := storage.NewWatcher(a.Store(), slog.Default())
	watcher.OnChange(func() {
		if err := a.Reload(ctx); err != nil {
			slog.Error("reload after external change failed", "error", err)
			return
		}
		fmt.Printf("history changed, %d entries\n", len(a.History()))
	})

	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}
