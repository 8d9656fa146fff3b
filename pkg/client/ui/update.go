package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aeolun/tinychat/pkg/handshake"
	"github.com/aeolun/tinychat/pkg/protocol"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// chrome is the rows taken by header, borders, input and footer
const chrome = 6

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = max(msg.Width-4, 10)
		m.chatViewport.Height = max(msg.Height-chrome, 3)
		m.composeInput.Width = max(msg.Width-6, 10)
		m.refreshChat()
		return m, nil

	case spinner.TickMsg:
		if m.view != ViewConnecting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case AuthenticatedMsg:
		m.view = ViewChat
		m.username = msg.Result.Username
		m.errorMessage = ""
		m.usernameInput.Blur()
		m.composeInput.Focus()
		m.addSystemLine(fmt.Sprintf("Connected to %s over %s as %s", m.conn.GetAddress(), m.conn.Transport(), m.username))
		return m, listenForServer(m.conn)

	case AuthFailedMsg:
		m.view = ViewUsername
		m.errorMessage = describeAuthError(msg.Err)
		m.usernameInput.Focus()
		return m, nil

	case ServerPacketMsg:
		return m.handleServerPacket(msg.Packet)

	case DisconnectedMsg:
		if m.view == ViewEnded {
			return m, nil
		}
		m.view = ViewEnded
		m.composeInput.Blur()
		if msg.Err != nil {
			m.endReason = "Connection lost: " + msg.Err.Error()
		} else {
			m.endReason = "Disconnected"
		}
		return m, notifyCmd(m.notify, "tinychat", m.endReason)

	case SendFailedMsg:
		m.errorMessage = "Send failed: " + msg.Err.Error()
		return m, nil
	}

	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.conn.Close(QuitReason)
		return m, tea.Quit
	}

	switch m.view {
	case ViewUsername:
		switch msg.Type {
		case tea.KeyEsc:
			m.conn.Close(QuitReason)
			return m, tea.Quit
		case tea.KeyEnter:
			username := strings.TrimSpace(m.usernameInput.Value())
			if username == "" {
				m.errorMessage = "Username cannot be empty"
				return m, nil
			}
			m.username = username
			m.errorMessage = ""
			m.view = ViewConnecting
			return m, tea.Batch(m.spinner.Tick, connectCmd(m.conn, username))
		}
		var cmd tea.Cmd
		m.usernameInput, cmd = m.usernameInput.Update(msg)
		return m, cmd

	case ViewConnecting:
		return m, nil

	case ViewChat:
		switch msg.Type {
		case tea.KeyEsc:
			m.conn.Close(QuitReason)
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.composeInput.Value())
			if text == "" {
				return m, nil
			}
			m.composeInput.Reset()
			m.errorMessage = ""
			m.addLine(chatLine{at: m.now(), author: m.username, text: text, own: true})
			return m, sendChatCmd(m.conn, text)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.chatViewport, cmd = m.chatViewport.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.composeInput, cmd = m.composeInput.Update(msg)
		return m, cmd

	case ViewEnded:
		switch msg.String() {
		case "q", "enter", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

func (m Model) handleServerPacket(p protocol.Packet) (tea.Model, tea.Cmd) {
	switch msg := p.(type) {
	case *protocol.ServerChat:
		m.addLine(chatLine{at: m.now(), author: msg.Username, text: msg.Message})
	case *protocol.ServerEnd:
		m.view = ViewEnded
		m.endReason = msg.Reason
		m.composeInput.Blur()
		m.addSystemLine("Server ended the session: " + msg.Reason)
		m.conn.Close(QuitReason)
		return m, notifyCmd(m.notify, "tinychat", "Session ended: "+msg.Reason)
	}
	return m, listenForServer(m.conn)
}

func describeAuthError(err error) string {
	var authErr *handshake.AuthenticationError
	if errors.As(err, &authErr) {
		return "Rejected by server: " + authErr.Reason
	}
	return err.Error()
}

func (m *Model) addSystemLine(text string) {
	m.addLine(chatLine{at: m.now(), text: text, system: true})
}

func (m *Model) addLine(line chatLine) {
	m.lines = append(m.lines, line)
	m.refreshChat()
}

func (m *Model) refreshChat() {
	m.chatViewport.SetContent(m.renderLines())
	m.chatViewport.GotoBottom()
}
