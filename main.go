package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/clustrhq/clustr-go/api"
	clustr "github.com/clustrhq/clustr-go/app"
)

// terminalUI implements the Notifier and Confirmer ports on stdin/stdout.
type terminalUI struct {
	in *bufio.Reader
}

func (t *terminalUI) Notify(title, message string) {
	fmt.Printf("[%s] %s\n", title, message)
}

func (t *terminalUI) Confirm(title, message string) bool {
	fmt.Printf("[%s] %s (y/N): ", title, message)
	line, err := t.in.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	config, err := clustr.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(); err != nil {
		fmt.Fprint(os.Stderr, clustr.FormatValidationErrors(err))
		os.Exit(1)
	}

	ui := &terminalUI{in: bufio.NewReader(os.Stdin)}
	app, err := clustr.NewApp(config, ui, ui, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	fmt.Println("clustr - type 'help' for commands")
	repl(ctx, app, ui)
}

func repl(ctx context.Context, app *clustr.App, ui *terminalUI) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fmt.Print("> ")
		line, err := ui.in.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch cmd {
		case "help":
			fmt.Print(`login <email> <password>    sign in
signup <email> <pw> <name>  create an account
events                      refresh and list events
category <id>               filter by category
search <text>               search events
join <event-id>             join an event
leave <event-id>            leave an event
chat <event-id>             open an event's chat room
say <text>                  send a message to the open room
closechat                   leave the chat room
quit                        exit
`)
		case "login":
			email, password, _ := strings.Cut(arg, " ")
			res, err := app.API.Login(ctx, api.LoginInput{Email: email, Password: password})
			if err != nil {
				ui.Notify("Error", api.ServerMessage(err, "Login failed"))
				continue
			}
			if err := app.Sessions.SetSession(ctx, res.Token, res.User); err != nil {
				ui.Notify("Error", err.Error())
				continue
			}
			ui.Notify("Success", "Logged in as "+res.User.Username)
		case "signup":
			parts := strings.SplitN(arg, " ", 3)
			if len(parts) < 3 {
				ui.Notify("Error", "usage: signup <email> <password> <username>")
				continue
			}
			in := api.SignupInput{Email: parts[0], Password: parts[1], Username: parts[2]}
			res, err := app.API.Signup(ctx, in)
			if err != nil {
				ui.Notify("Error", api.ServerMessage(err, "Signup failed"))
				continue
			}
			if err := app.Sessions.SetSession(ctx, res.Token, res.User); err != nil {
				ui.Notify("Error", err.Error())
				continue
			}
			ui.Notify("Success", "Welcome, "+res.User.Username)
		case "events":
			app.Catalog.FetchEvents(ctx)
			printEvents(app)
		case "category":
			app.Catalog.SetCategory(arg)
		case "search":
			app.Catalog.SetSearchQuery(arg)
		case "join":
			app.Catalog.JoinEvent(ctx, arg)
		case "leave":
			app.Catalog.LeaveEvent(ctx, arg)
		case "chat":
			if err := app.Chat.Connect(ctx); err != nil {
				ui.Notify("Error", err.Error())
				continue
			}
			app.Chat.OpenRoom(ctx, arg)
			for _, m := range app.Chat.Messages() {
				fmt.Printf("%s: %s\n", m.Username, m.Content)
			}
		case "say":
			if app.Chat.CurrentEventID() == "" {
				ui.Notify("Error", "No chat room open; use 'chat <event-id>' first")
				continue
			}
			app.Chat.SendMessage(ctx, app.Chat.CurrentEventID(), arg)
		case "closechat":
			app.Chat.CloseRoom()
		case "quit", "exit":
			return
		case "":
		default:
			fmt.Println("unknown command; try 'help'")
		}
	}
}

func printEvents(app *clustr.App) {
	events := app.Catalog.Events()
	if len(events) == 0 {
		fmt.Println("no events")
		return
	}
	for _, e := range events {
		fmt.Printf("%s  %-30s  %s  %d/%d\n",
			e.ID, e.Title, e.EventDate.Format("Jan 2 15:04"), e.AttendeeCount, e.MaxAttendees)
	}
}
