package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/HershNagpal/lbms/library"
)

// ShutdownCommand stops the console after running its hook.
const ShutdownCommand = "shutdown"

// Console reads commands line by line and writes one response per command.
// A command may start with a client ID ("3,borrow,0;"); otherwise it runs
// for the client the console connected when it started.
type Console struct {
	disp        *library.Dispatcher
	log         *slog.Logger
	Interactive bool
	// OnShutdown runs when a shutdown; command arrives.
	OnShutdown func(ctx context.Context) error
}

// NewConsole builds a console over a dispatcher.
func NewConsole(d *library.Dispatcher, logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Console{disp: d, log: logger}
}

// Run serves commands from in until EOF, ctx is done or shutdown; arrives.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	self := c.disp.Connect()
	if c.Interactive {
		fmt.Fprintf(out, "Connected as client %s. End each command with ';'.\n", self)
	}

	sc := bufio.NewScanner(in)
	var pending strings.Builder
	for {
		if c.Interactive {
			if pending.Len() == 0 {
				fmt.Fprint(out, "> ")
			} else {
				fmt.Fprint(out, ". ")
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if pending.Len() > 0 && !strings.HasSuffix(pending.String(), library.Delimiter) {
			pending.WriteByte(' ')
		}
		pending.WriteString(line)

		raw := pending.String()
		if !strings.HasSuffix(raw, library.Terminator) {
			fmt.Fprintln(out, c.disp.Execute(self, raw))
			continue
		}
		pending.Reset()

		clientID, cmd := splitClient(self, raw)
		if strings.TrimSuffix(cmd, library.Terminator) == ShutdownCommand {
			return c.shutdown(ctx, clientID, out)
		}
		fmt.Fprintln(out, c.disp.Execute(clientID, cmd))
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read console: %w", err)
	}
	return nil
}

func (c *Console) shutdown(ctx context.Context, clientID string, out io.Writer) error {
	if c.OnShutdown != nil {
		if err := c.OnShutdown(ctx); err != nil {
			c.log.Error("shutdown hook failed", "err", err)
			fmt.Fprintf(out, "%s,%s,error;\n", clientID, ShutdownCommand)
			return err
		}
	}
	fmt.Fprintf(out, "%s,%s,success;\n", clientID, ShutdownCommand)
	return nil
}

// splitClient separates a leading numeric client ID from the command.
func splitClient(fallback, raw string) (string, string) {
	head, rest, ok := strings.Cut(raw, library.Delimiter)
	if !ok || head == "" {
		return fallback, raw
	}
	for _, r := range head {
		if r < '0' || r > '9' {
			return fallback, raw
		}
	}
	return head, strings.TrimSpace(rest)
}
