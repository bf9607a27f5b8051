package main

import (
	"fmt"
	"net/url"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/drivecam/relay/internal/client"
	"github.com/drivecam/relay/internal/tui/app"
	cli "github.com/jawher/mow.cli"
)

func main() {
	cliApp := cli.App("relay-tui", "terminal monitor for the relay hub")

	wsURL := cliApp.String(cli.StringOpt{
		Name:   "u url",
		Desc:   "websocket URL of the hub's consumer endpoint",
		EnvVar: "RELAY_URL",
		Value:  "ws://127.0.0.1:4001/ws",
	})

	cliApp.Action = func() {
		ws := client.New(*wsURL)
		httpClient := client.NewHTTPClient(deriveHTTPBase(*wsURL))

		p := tea.NewProgram(app.New(ws, httpClient), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			cli.Exit(1)
		}
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// deriveHTTPBase converts ws://host:port/ws to http://host:port.
func deriveHTTPBase(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "http://127.0.0.1:4001"
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}
