package ui

import (
	"strings"

	"github.com/aeolun/tinychat/pkg/client"
	"github.com/charmbracelet/lipgloss"
)

// View renders the current view
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	switch m.view {
	case ViewUsername:
		return m.renderUsername()
	case ViewConnecting:
		return m.renderConnecting()
	case ViewChat:
		return m.renderChat()
	case ViewEnded:
		return m.renderEnded()
	}
	return ""
}

func (m Model) renderHeader() string {
	header := HeaderStyle.Render("tinychat")
	status := StatusStyle.Render(m.conn.GetAddress() + " · " + m.conn.Transport())
	if m.username != "" && m.view == ViewChat {
		status = StatusStyle.Render(m.username + " @ " + m.conn.GetAddress() + " · " + m.conn.Transport() +
			" · " + client.FormatTraffic(m.conn.GetBytesSent(), m.conn.GetBytesReceived()))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, header, status)
}

func (m Model) renderFooter(shortcuts ...[2]string) string {
	parts := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		parts = append(parts, RenderShortcut(s[0], s[1]))
	}
	return FooterStyle.Render(strings.Join(parts, "  "))
}

func (m Model) centered(content string) string {
	return lipgloss.Place(m.width, m.height-2, lipgloss.Center, lipgloss.Center, content)
}

func (m Model) renderUsername() string {
	var b strings.Builder
	b.WriteString(PromptStyle.Render("Choose a username"))
	b.WriteString("\n")
	b.WriteString(m.usernameInput.View())
	if m.errorMessage != "" {
		b.WriteString("\n\n")
		b.WriteString(RenderError(m.errorMessage))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.centered(CenteredBoxStyle.Render(b.String())),
		m.renderFooter([2]string{"enter", "Connect"}, [2]string{"esc", "Quit"}),
	)
}

func (m Model) renderConnecting() string {
	content := m.spinner.View() + " Connecting as " + m.username + "..."
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.centered(MutedTextStyle.Render(content)),
		m.renderFooter([2]string{"ctrl+c", "Quit"}),
	)
}

func (m Model) renderChat() string {
	pane := ChatPaneStyle.
		Width(max(m.width-2, 10)).
		Render(m.chatViewport.View())

	input := m.composeInput.View()
	if m.errorMessage != "" {
		input = RenderError(m.errorMessage) + "\n" + input
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		pane,
		input,
		m.renderFooter([2]string{"enter", "Send"}, [2]string{"pgup/pgdn", "Scroll"}, [2]string{"esc", "Quit"}),
	)
}

func (m Model) renderEnded() string {
	reason := m.endReason
	if reason == "" {
		reason = "Disconnected"
	}
	content := lipgloss.JoinVertical(lipgloss.Center,
		RenderWarning("Session ended"),
		"",
		reason,
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.centered(CenteredBoxStyle.Render(content)),
		m.renderFooter([2]string{"q", "Quit"}),
	)
}

func (m Model) renderLines() string {
	if len(m.lines) == 0 {
		return MutedTextStyle.Render("No messages yet")
	}

	rendered := make([]string, 0, len(m.lines))
	for _, line := range m.lines {
		var b strings.Builder
		if m.showTimestamps {
			b.WriteString(MessageTimeStyle.Render(line.at.Format("15:04")))
			b.WriteString(" ")
		}
		switch {
		case line.system:
			b.WriteString(SystemMessageStyle.Render("* " + line.text))
		case line.own:
			b.WriteString(OwnAuthorStyle.Render(line.author))
			b.WriteString(": " + line.text)
		default:
			b.WriteString(MessageAuthorStyle.Render(line.author))
			b.WriteString(": " + line.text)
		}
		rendered = append(rendered, b.String())
	}
	return strings.Join(rendered, "\n")
}
