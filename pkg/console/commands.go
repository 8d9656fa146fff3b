package console

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/aeolun/tinychat/pkg/cancellation"
	"github.com/aeolun/tinychat/pkg/protocol"
	"github.com/aeolun/tinychat/pkg/server"
)

// DefaultKickReason is sent when kick is given no reason
const DefaultKickReason = "Kicked by server"

// Sessions is the part of the registry the console operates on
type Sessions interface {
	Sessions() []*server.ClientHandle
	Remove(username string) (*server.ClientHandle, bool)
}

// ServerCommands returns the standard server console: exit, help, list and kick
func ServerCommands(h *Handler, source *cancellation.Source, sessions Sessions) []Command {
	return []Command{
		ExitCommand(source),
		HelpCommand(h),
		ListCommand(h, sessions),
		KickCommand(h, sessions),
	}
}

// ExitCommand cancels source, which stops every loop holding one of its tokens
func ExitCommand(source *cancellation.Source) Command {
	return Command{
		Name:        "exit",
		Description: "Stops the server",
		Usage:       "exit",
		Run: func(args []string) error {
			err := source.Cancel()
			if err != nil && !errors.Is(err, cancellation.ErrAlreadyCancelled) {
				return fmt.Errorf("failed to cancel: %w", err)
			}
			return nil
		},
	}
}

// HelpCommand lists the commands registered on h
func HelpCommand(h *Handler) Command {
	return Command{
		Name:        "help",
		Description: "Lists available commands",
		Usage:       "help",
		Run: func(args []string) error {
			w := tabwriter.NewWriter(h.Out(), 0, 4, 2, ' ', 0)
			for _, cmd := range h.Commands() {
				fmt.Fprintf(w, "%s\t%s\n", cmd.Usage, cmd.Description)
			}
			return w.Flush()
		},
	}
}

// ListCommand prints the admitted sessions
func ListCommand(h *Handler, sessions Sessions) Command {
	return Command{
		Name:        "list",
		Description: "Lists connected clients",
		Usage:       "list",
		Run: func(args []string) error {
			all := sessions.Sessions()
			if len(all) == 0 {
				fmt.Fprintln(h.Out(), "No clients connected")
				return nil
			}

			w := tabwriter.NewWriter(h.Out(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tTRANSPORT\tADDRESS\tCONNECTED\tSESSION")
			for _, c := range all {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					c.Username(), c.Transport, c.Addr,
					time.Since(c.ConnectedAt).Truncate(time.Second), c.ID)
			}
			return w.Flush()
		},
	}
}

// KickCommand ends a session with an optional reason
func KickCommand(h *Handler, sessions Sessions) Command {
	return Command{
		Name:        "kick",
		Description: "Disconnects a client",
		Usage:       "kick <username> [reason]",
		Run: func(args []string) error {
			if len(args) == 0 {
				fmt.Fprintln(h.Out(), "Usage: kick <username> [reason]")
				return nil
			}

			c, ok := sessions.Remove(args[0])
			if !ok {
				fmt.Fprintf(h.Out(), "No client named %q\n", args[0])
				return nil
			}

			reason := DefaultKickReason
			if len(args) > 1 {
				reason = strings.Join(args[1:], " ")
			}
			_ = c.Stream.SetDeadline(time.Now().Add(time.Second))
			if err := c.Send(&protocol.ServerEnd{Reason: reason}); err != nil {
				fmt.Fprintf(h.Out(), "Failed to notify %s: %v\n", c.Username(), err)
			}
			c.Stream.Close()

			fmt.Fprintf(h.Out(), "Kicked %s\n", c.Username())
			return nil
		},
	}
}
