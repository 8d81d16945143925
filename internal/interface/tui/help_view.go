package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) updateHelp(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "f1":
		m.mode = m.prevMode
		return m, nil
	}

	return m, nil
}

func (m Model) viewHelp() string {
	help := `
casesim - Help
══════════════

CHAT VIEW
─────────
  Type, Enter  Send a question or conduct to the patient
  ctrl+f       Finalize: get the write-up and grade
  ctrl+r       Keep waiting after a timeout
  ctrl+n       Abandon this case and start a new one
  ctrl+s       Switch to the next specialty (new case)
  y, ctrl+y    Copy the final write-up to clipboard
  ↑/↓ pgup/dn  Scroll the conversation
  tab          Past cases
  esc          Quit

PAST CASES
──────────
  ↑/↓, j/k     Navigate cases
  Enter        Read the full write-up
  /            Filter: esp:pediatria after:ontem before:2024-11-01 words
  y            Copy the selected write-up
  tab, esc     Back to chat
  q            Quit

Press esc to return
`

	return helpStyle.Render(help)
}
