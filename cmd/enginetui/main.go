// Command enginetui is a Bubble Tea dashboard for an already-running
// engined, following the same addr-over-HTTP model enginectl uses.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vizloop/enginecore/internal/interfaces/tui"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8080", "engined base URL")
	flag.Parse()

	p := tea.NewProgram(tui.New(*addr), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
