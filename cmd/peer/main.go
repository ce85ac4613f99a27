// Command peer is a reference client for the signaling hub: a terminal UI
// that registers with the hub, lists other connected peers, and negotiates
// a real WebRTC data channel with whichever peer is selected, using the
// hub purely to exchange opaque offer/answer/ice-candidate frames.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"nhooyr.io/websocket"
)

func main() {
	addr := flag.String("addr", "ws://localhost:8080/api/signaling", "signaling hub websocket URL")
	name := flag.String("name", "", "display name to request (optional)")
	flag.Parse()

	dialURL := *addr
	if *name != "" {
		u, err := url.Parse(dialURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -addr: %v\n", err)
			os.Exit(1)
		}
		q := u.Query()
		q.Set("name", *name)
		u.RawQuery = q.Encode()
		dialURL = u.String()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// pkts bridges the socket reader goroutine and the Bubbletea event loop,
	// same pattern as the chat client this was adapted from.
	pkts := make(chan []byte, 64)
	go func() {
		defer close(pkts)
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			pkts <- data
		}
	}()

	// events carries callbacks from pion's own goroutines (data channel
	// open/message/close) into the same event loop.
	events := make(chan any, 64)

	send := func(data []byte) error {
		wctx, wcancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer wcancel()
		return conn.Write(wctx, websocket.MessageText, data)
	}

	p := tea.NewProgram(
		newModel(send, pkts, events),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
