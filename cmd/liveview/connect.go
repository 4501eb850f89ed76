package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/vango-dev/liveview/pkg/client"
	"github.com/vango-dev/liveview/pkg/protocol"
)

func connectCmd() *cobra.Command {
	var (
		params  map[string]string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "connect <ws-url>",
		Short: "Drive a live view from the terminal",
		Long: `Connect to a live view endpoint and drive it from stdin.

Commands, one per line:
  click <id>              click an element
  submit <id>             submit a form
  change <id> <value>     change a control's value
  key <id> <key>          press a key on an element
  send <event> [k=v ...]  send a raw event
  html                    print the current region
  quit                    disconnect

Examples:
  liveview connect ws://localhost:8080/live/counter/ws
  liveview connect ws://localhost:8080/live/counter/ws -p start=10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			return runConnect(cmd.Context(), args[0], params, logger, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Connect parameter (repeatable)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log connection details")

	return cmd
}

// console serializes output from client callbacks and the input loop.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func runConnect(ctx context.Context, url string, params map[string]string, logger *slog.Logger, in io.Reader, out io.Writer) error {
	con := &console{w: out}
	fatal := make(chan error, 1)

	cfg := client.DefaultConfig(url)
	cfg.Params = params
	cfg.Logger = logger

	c := client.New(cfg, client.Handlers{
		OnRender: func(id, html string) { con.printf("render %s\n%s\n", id, html) },
		OnPatch:  func(html string) { con.printf("patch\n%s\n", html) },
		OnRedirect: func(url string) {
			con.printf("redirect %s\n", url)
		},
		OnError: func(msg string) { con.printf("error %s\n", msg) },
		OnState: func(from, to client.State) {
			logger.Debug("state", "from", from, "to", to)
		},
		OnFatal: func(err error) { fatal <- err },
	})
	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer c.Close()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fatal:
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				con.printf("%v\n", err)
				continue
			}
			switch {
			case cmd.quit:
				return nil
			case cmd.html:
				con.printf("%s\n", c.HTML())
			case cmd.event != nil:
				err = c.Send(ctx, *cmd.event)
			case cmd.interaction != nil:
				err = c.Trigger(ctx, *cmd.interaction)
			}
			if err != nil {
				con.printf("%v\n", err)
			}
		}
	}
}

// command is one parsed input line. At most one field is set.
type command struct {
	interaction *client.Interaction
	event       *protocol.Event
	html        bool
	quit        bool
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}

	need := func(n int, usage string) error {
		if len(fields) < n {
			return fmt.Errorf("usage: %s", usage)
		}
		return nil
	}

	switch verb := fields[0]; verb {
	case "click", "submit", "blur", "focus":
		if err := need(2, verb+" <id>"); err != nil {
			return command{}, err
		}
		trigger := map[string]client.Trigger{
			"click": client.Click, "submit": client.Submit,
			"blur": client.Blur, "focus": client.Focus,
		}[verb]
		return command{interaction: &client.Interaction{Trigger: trigger, ID: fields[1]}}, nil
	case "change":
		if err := need(2, "change <id> <value>"); err != nil {
			return command{}, err
		}
		value := strings.Join(fields[2:], " ")
		return command{interaction: &client.Interaction{Trigger: client.Change, ID: fields[1], Value: &value}}, nil
	case "key":
		if err := need(3, "key <id> <key>"); err != nil {
			return command{}, err
		}
		return command{interaction: &client.Interaction{Trigger: client.KeyDown, ID: fields[1], Key: fields[2]}}, nil
	case "send":
		if err := need(2, "send <event> [k=v ...]"); err != nil {
			return command{}, err
		}
		ev := protocol.Event{Event: fields[1]}
		for _, kv := range fields[2:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return command{}, fmt.Errorf("param %q is not k=v", kv)
			}
			if ev.Params == nil {
				ev.Params = make(map[string]string)
			}
			ev.Params[k] = v
		}
		return command{event: &ev}, nil
	case "html":
		return command{html: true}, nil
	case "quit", "exit":
		return command{quit: true}, nil
	default:
		return command{}, fmt.Errorf("unknown command %q", verb)
	}
}
