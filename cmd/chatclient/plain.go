package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fior4neee/Message-Broadcasting/pkg/client"
	"github.com/fior4neee/Message-Broadcasting/pkg/client/commands"
)

// session is the part of *client.Client the line-mode loop uses
type session interface {
	commands.Executor
	Events() <-chan client.Event
}

// runPlain prints events as lines and sends what the user types until they quit,
// stdin ends or the connection drops.
func runPlain(ctx context.Context, c session, input *bufio.Reader, out io.Writer, layout string) error {
	var mu sync.Mutex
	printLines := func(lines ...string) {
		mu.Lock()
		defer mu.Unlock()
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}

	printLines("You can start chatting! Type /help for commands")

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for ev := range c.Events() {
			printLines(ev.Format(layout))
		}
	}()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := input.ReadString('\n')
			if line != "" {
				select {
				case lines <- strings.TrimRight(line, "\r\n"):
				case <-ctx.Done():
					return
				case <-eventsDone:
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			printLines("[CLIENT] Disconnecting...")
			return nil
		case <-eventsDone:
			return errors.New("connection to server lost")
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				printLines("[CLIENT] Disconnecting...")
				return nil
			}
			return err
		case line := <-lines:
			output, quit := commands.Execute(c, commands.Parse(line), layout)
			if quit {
				printLines("[CLIENT] Disconnecting...")
				return nil
			}
			printLines(output...)
		}
	}
}
