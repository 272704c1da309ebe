package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/lumi-sync/client"
	"github.com/ViniZap4/lumi-sync/filesystem"
	"github.com/ViniZap4/lumi-sync/logging"
)

const usage = `usage: lumi-sync [command] [flags]

commands:
  serve                         run the sync server (default)
  watch  -url URL -token TOKEN  print every tree push, reconnecting on loss
  export -url URL -token TOKEN -dir DIR
                                write the tree as markdown files under DIR
`

func run(ctx context.Context, args []string) error {
	cmd := "serve"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		return serve(ctx)
	case "watch":
		return watch(ctx, args, os.Stdout)
	case "export":
		return export(ctx, args, os.Stdout)
	case "help":
		fmt.Print(usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}
}

type remoteFlags struct {
	url     string
	token   string
	verbose bool
}

func (r *remoteFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.url, "url", envOr("LUMI_URL", "ws://localhost:8080/ws"), "server websocket url")
	fs.StringVar(&r.token, "token", os.Getenv("LUMI_TOKEN"), "session token")
	fs.BoolVar(&r.verbose, "v", false, "verbose logging")
}

func (r *remoteFlags) logger() zerolog.Logger {
	level := "warn"
	if r.verbose {
		level = "debug"
	}
	return logging.NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr}, level)
}

func (r *remoteFlags) validate() error {
	if r.token == "" {
		return errors.New("-token is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func watch(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := rf.validate(); err != nil {
		return err
	}

	return client.Follow(ctx, rf.url, rf.token, rf.logger(), client.Trees(func(t client.Tree) {
		printTree(out, t)
	}))
}

func printTree(out io.Writer, t client.Tree) {
	root, ok := t.Root()
	if !ok {
		fmt.Fprintln(out, "(tree without root)")
		return
	}
	fmt.Fprintf(out, "%s (%d folders)\n", root.Name, len(t))

	var walk func(parentID, indent string)
	walk = func(parentID, indent string) {
		for _, f := range t.Children(parentID) {
			marker := "/"
			if f.IsFile {
				marker = ""
			}
			fmt.Fprintf(out, "%s%s%s  %s\n", indent, f.Name, marker, f.UpdatedAt.Format("2006-01-02 15:04:05"))
			walk(f.ID, indent+"  ")
		}
	}
	walk(root.ID, "  ")
}

func export(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var rf remoteFlags
	rf.register(fs)
	dir := fs.String("dir", "./notes", "destination directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := rf.validate(); err != nil {
		return err
	}
	log := rf.logger()

	c, err := client.Dial(ctx, rf.url, rf.token, log)
	if err != nil {
		return err
	}
	defer c.Close()

	t, err := firstTree(ctx, c)
	if err != nil {
		return err
	}

	e := &filesystem.Exporter{Dir: *dir, Notes: c, Log: log}
	st, err := e.Export(ctx, t)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported to %s: %d written, %d unchanged, %d moved, %d directories, %d skipped\n",
		*dir, st.Written, st.Unchanged, st.Moved, st.Dirs, st.Skipped)
	return nil
}

// firstTree waits for the tree pushed right after an authenticated connect.
func firstTree(ctx context.Context, c *client.Client) (client.Tree, error) {
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return nil, client.ErrClosed
			}
			if ev.Name == client.EventFolders {
				return client.DecodeTree(ev.Data)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
