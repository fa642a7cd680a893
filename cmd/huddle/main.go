// Command huddle is a minimal terminal chat client.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bhandras/huddle/sdk"
	"github.com/bhandras/huddle/shared/wire"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	serverURL := flag.String("server", envOr("HUDDLE_SERVER_URL", "http://localhost:3005"), "server URL")
	token := flag.String("token", os.Getenv("HUDDLE_TOKEN"), "bearer token")
	timeout := flag.Duration("timeout", sdk.DefaultSubmitTimeout, "send confirmation timeout")
	flag.Parse()

	if *token == "" {
		return errors.New("a token is required (-token or HUDDLE_TOKEN)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := sdk.NewClient(*serverURL, *token)
	chat := sdk.NewChat(client, *timeout)
	ui := &terminal{chat: chat, client: client}
	ui.subscribe()

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()
	if !client.WaitForConnect(10 * time.Second) {
		return errors.New("timed out connecting to server")
	}
	fmt.Printf("Connected to %s. Type /help for commands.\n", *serverURL)

	go chat.Run(ctx)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := ui.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// terminal holds the input loop state. room is only touched by the input
// loop; event handlers just print.
type terminal struct {
	chat   *sdk.Chat
	client *sdk.Client
	room   string
}

func (t *terminal) subscribe() {
	t.client.On(wire.EventJoinedRoom, func(data any) {
		var ev wire.RoomAck
		if wire.Decode(data, &ev) == nil {
			fmt.Printf("* joined %s\n", ev.RoomID)
		}
	})
	t.client.On(wire.EventUserJoinedRoom, func(data any) {
		printRoomEvent(data, "joined")
	})
	t.client.On(wire.EventUserLeftRoom, func(data any) {
		printRoomEvent(data, "left")
	})
	t.client.On(wire.EventUserTyping, func(data any) {
		printRoomEvent(data, "is typing")
	})
	t.client.On(wire.EventNewMessage, func(data any) {
		var ev wire.MessageEvent
		if wire.Decode(data, &ev) == nil {
			m := ev.Message
			fmt.Printf("[%s] %s: %s\n", m.RoomID, m.SenderID, m.Content)
		}
	})
	t.client.On(wire.EventUserStatusChange, func(data any) {
		var ev wire.StatusEvent
		if wire.Decode(data, &ev) == nil {
			fmt.Printf("* %s is %s\n", ev.UserID, ev.Status)
		}
	})
	t.client.On(wire.EventError, func(data any) {
		var ev wire.ErrorPayload
		if wire.Decode(data, &ev) == nil {
			fmt.Printf("! %s (%s)\n", ev.Message, ev.Code)
		}
	})
	t.chat.OnChange = func(roomID string) {
		for _, m := range t.chat.Reconciler().Failed(roomID) {
			fmt.Printf("! not sent %s: %q (%s); /retry %s\n",
				m.IdempotencyKey, m.Content, m.Error, m.IdempotencyKey)
		}
	}
}

func printRoomEvent(data any, verb string) {
	var ev wire.UserRoomEvent
	if wire.Decode(data, &ev) != nil {
		return
	}
	name := ev.User.DisplayName
	if name == "" {
		name = ev.User.ID
	}
	fmt.Printf("* %s %s %s\n", name, verb, ev.RoomID)
}

// handle runs one input line and reports whether the client should exit.
func (t *terminal) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		if t.room == "" {
			fmt.Println("! no room selected, use /join <room>")
			return false
		}
		t.chat.Send(ctx, t.room, line)
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		printHelp()
	case "/join":
		if err = t.client.JoinRoom(ctx, arg); err == nil {
			t.room = arg
		}
	case "/leave":
		if arg == "" {
			arg = t.room
		}
		if err = t.client.LeaveRoom(ctx, arg); err == nil && arg == t.room {
			t.room = ""
		}
	case "/room":
		t.room = arg
	case "/status":
		err = t.client.SetStatus(ctx, arg)
	case "/typing":
		err = t.client.StartTyping(ctx, t.room)
	case "/retry":
		_, err = t.chat.Retry(ctx, arg)
	case "/history":
		for _, item := range t.chat.Reconciler().Stream(t.room) {
			if item.Pending {
				fmt.Printf("  (%s) %s\n", item.Placeholder.Status, item.Placeholder.Content)
				continue
			}
			fmt.Printf("  %s: %s\n", item.Message.SenderID, item.Message.Content)
		}
	default:
		fmt.Printf("! unknown command %s\n", cmd)
	}
	if err != nil {
		fmt.Printf("! %s: %v\n", cmd, err)
	}
	return false
}

func printHelp() {
	fmt.Println(`Commands:
  /join <room>     join a room and make it current
  /leave [room]    leave a room (default: current)
  /room <room>     switch the current room
  /status <s>      set presence (online, away, offline)
  /typing          send a typing indicator to the current room
  /retry <key>     re-send a failed message
  /history         show the current room stream
  /quit            exit
Any other line is sent to the current room.`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
