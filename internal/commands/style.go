package commands

import (
	"fmt"
	"io"

	"razgovor/internal/content"
	"razgovor/internal/models"

	"github.com/charmbracelet/lipgloss"
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	selfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	peerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// formatMessage renders one transcript line. Remote text is stripped of
// control characters before it reaches the terminal.
func formatMessage(msg models.Message, selfID string, names map[string]string) string {
	name, ok := names[msg.Sender]
	if !ok {
		name = msg.Sender
	}
	nameStyle := peerStyle
	if msg.Sender == selfID {
		nameStyle = selfStyle
	}
	return fmt.Sprintf("%s %s %s",
		timeStyle.Render(msg.CreatedAt.Local().Format("01-02 15:04")),
		nameStyle.Render(content.StripControl(name)+":"),
		content.StripControl(msg.Content),
	)
}

// transcriptView prints transcript entries once each, in order. A
// transcript that no longer extends what was printed is printed again.
type transcriptView struct {
	out     io.Writer
	selfID  string
	names   map[string]string
	printed []string
	typing  bool
}

func (v *transcriptView) render(transcript []models.Message, typing models.TypingState) {
	if !v.extends(transcript) {
		v.printed = v.printed[:0]
	}
	for _, msg := range transcript[len(v.printed):] {
		fmt.Fprintln(v.out, formatMessage(msg, v.selfID, v.names))
		v.printed = append(v.printed, msg.Key())
	}

	if typing.IsTyping && !v.typing {
		name, ok := v.names[typing.PeerID]
		if !ok {
			name = typing.PeerID
		}
		fmt.Fprintln(v.out, hintStyle.Render(content.StripControl(name)+" is typing..."))
	}
	v.typing = typing.IsTyping
}

func (v *transcriptView) extends(transcript []models.Message) bool {
	if len(transcript) < len(v.printed) {
		return false
	}
	for i, key := range v.printed {
		if transcript[i].Key() != key {
			return false
		}
	}
	return true
}
