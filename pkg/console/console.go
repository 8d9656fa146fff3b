// Package console runs the server's line-oriented operator commands.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aeolun/tinychat/pkg/cancellation"
	"github.com/muesli/cancelreader"
)

// ErrUnknownCommand is returned by Handle for a name with no command
var ErrUnknownCommand = errors.New("unknown command")

// Command is one console command
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

// Handler dispatches input lines to registered commands
type Handler struct {
	commands []Command
	out      io.Writer
}

// NewHandler creates a handler that writes command output to out
func NewHandler(out io.Writer, commands ...Command) *Handler {
	h := &Handler{out: out}
	for _, cmd := range commands {
		h.Register(cmd)
	}
	return h
}

// Register adds a command, replacing any command with the same name
func (h *Handler) Register(cmd Command) {
	for i, existing := range h.commands {
		if existing.Name == cmd.Name {
			h.commands[i] = cmd
			return
		}
	}
	h.commands = append(h.commands, cmd)
}

// Get looks up a command by name
func (h *Handler) Get(name string) (Command, bool) {
	for _, cmd := range h.commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return Command{}, false
}

// Commands returns the registered commands in registration order
func (h *Handler) Commands() []Command {
	out := make([]Command, len(h.commands))
	copy(out, h.commands)
	return out
}

// Out returns the writer commands print to
func (h *Handler) Out() io.Writer {
	return h.out
}

// Handle runs a single input line. Blank lines are ignored.
func (h *Handler) Handle(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd, ok := h.Get(fields[0])
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	return cmd.Run(fields[1:])
}

// Run reads commands from in until token is cancelled or input ends.
// Unknown commands are reported and skipped; a failing command ends the
// loop with its error.
func (h *Handler) Run(in io.Reader, token *cancellation.Token) error {
	reader, err := cancelreader.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to open console input: %w", err)
	}
	defer reader.Close()

	// Unblock a pending read as soon as anyone cancels
	if err := token.OnCancel(func() { reader.Cancel() }); err != nil {
		if errors.Is(err, cancellation.ErrAlreadyCancelled) {
			return nil
		}
		return err
	}

	scanner := bufio.NewScanner(reader)
	for {
		cancelled, err := token.IsCancelled()
		if err != nil {
			return fmt.Errorf("failed to check cancellation token: %w", err)
		}
		if cancelled {
			return nil
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && !errors.Is(err, cancelreader.ErrCanceled) {
				return fmt.Errorf("failed to read from console: %w", err)
			}
			return nil
		}

		if err := h.Handle(scanner.Text()); err != nil {
			if errors.Is(err, ErrUnknownCommand) {
				fmt.Fprintf(h.out, "%v (try \"help\")\n", err)
				continue
			}
			return err
		}
	}
}
