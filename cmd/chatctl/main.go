package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"sudooom.im.relay/internal/client"
	"sudooom.im.relay/internal/event"
	"sudooom.im.relay/internal/reconcile"
)

func main() {
	var (
		url     = pflag.String("url", "ws://localhost:3000/socket", "relay WebSocket URL")
		user    = pflag.String("user", "", "your user id (room)")
		peer    = pflag.String("peer", "", "user id to chat with")
		token   = pflag.String("token", "", "access token from /api/login (token auth mode)")
		dbPath  = pflag.String("db", "", "local history database (default ~/.chatctl/<user>.db)")
		verbose = pflag.BoolP("verbose", "v", false, "debug logging to stderr")
	)
	pflag.Parse()

	if *user == "" || *peer == "" {
		fmt.Fprintln(os.Stderr, "usage: chatctl --user alice --peer bob [--url ws://host/socket] [--token T] [--db path]")
		pflag.PrintDefaults()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot resolve home directory:", err)
			os.Exit(1)
		}
		*dbPath = filepath.Join(home, ".chatctl", *user+".db")
	}

	if err := run(*url, *user, *peer, *token, *dbPath, logger); err != nil {
		fmt.Fprintln(os.Stderr, "chatctl:", err)
		os.Exit(1)
	}
}

func run(url, user, peer, token, dbPath string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := reconcile.OpenSQLite(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	history := reconcile.NewReconciler(user, store, logger)
	if err := history.LoadAll(ctx); err != nil {
		return err
	}

	c, err := client.Dial(ctx, client.Options{URL: url, UserID: user, Token: token}, history, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := render(ctx, os.Stdout, history, peer); err != nil {
		return err
	}

	go readInput(ctx, c, history, peer, stop)

	err = c.Run(ctx, func(out event.Outbound, change reconcile.Change) {
		printEvent(os.Stdout, user, peer, out, change)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readInput 逐行读取 stdin：普通行发送文本，/delete 与 /history 为命令
func readInput(ctx context.Context, c *client.Client, history *reconcile.Reconciler, peer string, quit func()) {
	defer quit()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/history":
			if err := render(ctx, os.Stdout, history, peer); err != nil {
				fmt.Fprintln(os.Stderr, "history:", err)
			}
		case strings.HasPrefix(line, "/delete"):
			ids := strings.Fields(strings.TrimPrefix(line, "/delete"))
			if len(ids) == 0 {
				fmt.Fprintln(os.Stderr, "usage: /delete <id> [id...]")
				continue
			}
			if err := c.Delete(ctx, peer, ids...); err != nil {
				fmt.Fprintln(os.Stderr, "delete:", err)
			}
		default:
			if _, err := c.SendText(ctx, peer, line); err != nil {
				fmt.Fprintln(os.Stderr, "send:", err)
			}
		}
	}
}

func render(ctx context.Context, w io.Writer, history *reconcile.Reconciler, peer string) error {
	entries, err := history.Render(ctx, peer)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "--- %d message(s) with %s ---\n", len(entries), peer)
	for _, e := range entries {
		fmt.Fprintln(w, formatEntry(e))
	}
	return nil
}

func formatEntry(e reconcile.Entry) string {
	stamp := e.Time.Local().Format("15:04:05")
	switch e.Kind {
	case event.KindText:
		return fmt.Sprintf("[%s] %s: %s  (%s)", stamp, e.From, e.Body, e.ID)
	case event.KindFile:
		return fmt.Sprintf("[%s] %s sent file %s (%s, %s)  (%s)", stamp, e.From, e.Name, e.MIME, humanize.Bytes(uint64(len(e.Body))), e.ID)
	default:
		return fmt.Sprintf("[%s] %s sent %s (%s)  (%s)", stamp, e.From, e.Kind, humanize.Bytes(uint64(len(e.Body))), e.ID)
	}
}

func printEvent(w io.Writer, user, peer string, out event.Outbound, change reconcile.Change) {
	switch e := out.(type) {
	case event.Received:
		from, to := e.Parties()
		if change.Appended && from != user && (from == peer || to == peer) {
			fmt.Fprintln(w, formatEntry(reconcile.EntryFrom(e)))
		}
	case *event.Deleted:
		if len(change.Removed) > 0 {
			fmt.Fprintf(w, "*** deleted %s\n", strings.Join(change.Removed, ", "))
		}
	case *event.Incoming:
		fmt.Fprintf(w, "*** %s is calling (%s); calls are not supported in the terminal\n", e.From, e.Modality)
	case *event.Unavailable:
		fmt.Fprintf(w, "*** %s is not connected; the message was not delivered to them\n", e.UserID)
	}
}
