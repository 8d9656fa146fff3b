// Package ui is the terminal interface of the tinychat client.
package ui

import (
	"time"

	"github.com/aeolun/tinychat/pkg/handshake"
	"github.com/aeolun/tinychat/pkg/protocol"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gen2brain/beeep"
)

// ViewState represents the current view
type ViewState int

const (
	ViewUsername ViewState = iota
	ViewConnecting
	ViewChat
	ViewEnded
)

// QuitReason is sent to the server when the user leaves
const QuitReason = "Client quit"

// Session is the connection the model drives. *client.Connection satisfies it.
type Session interface {
	Connect(username string) (*handshake.Result, error)
	SendChat(message string) error
	Incoming() <-chan protocol.Packet
	Errors() <-chan error
	GetAddress() string
	Transport() string
	GetBytesSent() uint64
	GetBytesReceived() uint64
	Close(reason string)
}

// Notifier shows a desktop notification
type Notifier func(title, body string) error

// DesktopNotifier notifies through the OS notification service
func DesktopNotifier(title, body string) error {
	return beeep.Notify(title, body, "")
}

// Options configure a Model
type Options struct {
	Username       string // Prefilled in the prompt
	ShowTimestamps bool
	Notify         Notifier // nil disables notifications
}

type chatLine struct {
	at     time.Time
	author string
	text   string
	own    bool
	system bool
}

// Model represents the application state
type Model struct {
	conn   Session
	notify Notifier

	view      ViewState
	username  string
	endReason string

	usernameInput textinput.Model
	composeInput  textinput.Model
	spinner       spinner.Model
	chatViewport  viewport.Model

	lines          []chatLine
	showTimestamps bool

	width  int
	height int

	errorMessage string
	now          func() time.Time
}

// NewModel creates a new application model
func NewModel(conn Session, opts Options) Model {
	usernameInput := textinput.New()
	usernameInput.Placeholder = "username"
	usernameInput.CharLimit = 64
	usernameInput.SetValue(opts.Username)
	usernameInput.Focus()

	composeInput := textinput.New()
	composeInput.Placeholder = "Type a message and press enter"
	composeInput.CharLimit = 1000

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return Model{
		conn:           conn,
		notify:         opts.Notify,
		view:           ViewUsername,
		usernameInput:  usernameInput,
		composeInput:   composeInput,
		spinner:        s,
		chatViewport:   viewport.New(0, 0),
		showTimestamps: opts.ShowTimestamps,
		now:            time.Now,
	}
}

// Init starts the cursor blinking in the username prompt
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// ViewState returns the current view
func (m Model) ViewState() ViewState {
	return m.view
}

// EndReason returns why the session ended, once it has
func (m Model) EndReason() string {
	return m.endReason
}

// Messages delivered to Update
type (
	AuthenticatedMsg struct{ Result *handshake.Result }
	AuthFailedMsg    struct{ Err error }
	ServerPacketMsg  struct{ Packet protocol.Packet }
	DisconnectedMsg  struct{ Err error }
	SendFailedMsg    struct{ Err error }
)

func connectCmd(conn Session, username string) tea.Cmd {
	return func() tea.Msg {
		result, err := conn.Connect(username)
		if err != nil {
			return AuthFailedMsg{Err: err}
		}
		return AuthenticatedMsg{Result: result}
	}
}

// listenForServer waits for the next server packet or the end of the session
func listenForServer(conn Session) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-conn.Incoming()
		if ok {
			return ServerPacketMsg{Packet: p}
		}
		err := <-conn.Errors()
		return DisconnectedMsg{Err: err}
	}
}

func sendChatCmd(conn Session, message string) tea.Cmd {
	return func() tea.Msg {
		if err := conn.SendChat(message); err != nil {
			return SendFailedMsg{Err: err}
		}
		return nil
	}
}

func notifyCmd(notify Notifier, title, body string) tea.Cmd {
	if notify == nil {
		return nil
	}
	return func() tea.Msg {
		// Notification failures are not worth surfacing
		_ = notify(title, body)
		return nil
	}
}
