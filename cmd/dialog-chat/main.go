// ABOUTME: Terminal client for dialog-relay: streams replies and manages conversations
// ABOUTME: Subcommands list, show, delete, export, usage, and watch wrap internal/client

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/google/uuid"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/2389/dialog-relay/internal/client"
	"github.com/2389/dialog-relay/internal/message"
)

var version = "dev"

// runner carries the streams commands write to.
type runner struct {
	ctx context.Context
	in  io.Reader
	out io.Writer
	err io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := &runner{ctx: ctx, in: os.Stdin, out: os.Stdout, err: os.Stderr}
	if err := r.app().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %v", err))
		os.Exit(1)
	}
}

func (r *runner) app() *cli.App {
	app := cli.NewApp()
	app.Name = "dialog-chat"
	app.Usage = "chat with a dialog-relay server from the terminal"
	app.UsageText = "dialog-chat [--conversation ID] [message...]"
	app.Version = version
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "path to the TOML config (default: $XDG_CONFIG_HOME/dialog-relay/chat.toml)"},
		cli.StringFlag{Name: "server", Usage: "server URL, overrides server_url"},
		cli.StringFlag{Name: "token", Usage: "bearer token, overrides token"},
		cli.StringFlag{Name: "conversation", Usage: "continue an existing conversation"},
		cli.StringFlag{Name: "model", Usage: "model override"},
		cli.BoolFlag{Name: "no-stream", Usage: "wait for the whole reply instead of streaming"},
	}
	app.Action = r.send
	app.Commands = []cli.Command{
		{Name: "list", Usage: "list conversations", Action: r.list},
		{Name: "show", Usage: "print a conversation", ArgsUsage: "ID", Action: r.show},
		{Name: "delete", Usage: "delete a conversation", ArgsUsage: "ID", Action: r.delete},
		{
			Name:      "export",
			Usage:     "print a transcript",
			ArgsUsage: "ID",
			Flags:     []cli.Flag{cli.StringFlag{Name: "format", Value: "markdown", Usage: "markdown or html"}},
			Action:    r.export,
		},
		{Name: "usage", Usage: "show stored usage totals", Action: r.usage},
		{Name: "watch", Usage: "print conversation changes as they happen", Action: r.watch},
	}
	return app
}

// setup loads config, applies flag overrides, and returns a client.
func (r *runner) setup(c *cli.Context) (*client.Client, *Config, error) {
	path, explicit := c.GlobalString("config"), true
	if path == "" {
		path, explicit = defaultConfigPath(), false
	}

	cfg, err := LoadConfig(path, explicit, Config{
		ServerURL: c.GlobalString("server"),
		Token:     c.GlobalString("token"),
		Model:     c.GlobalString("model"),
	})
	if err != nil {
		return nil, nil, err
	}
	return client.New(cfg.ServerURL, cfg.Token), cfg, nil
}

// send posts one user message. Without arguments the message is read from
// stdin.
func (r *runner) send(c *cli.Context) error {
	text := strings.TrimSpace(strings.Join(c.Args(), " "))
	if text == "" {
		data, err := io.ReadAll(bufio.NewReader(r.in))
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		text = strings.TrimSpace(string(data))
	}
	if text == "" {
		return cli.ShowAppHelp(c)
	}

	api, cfg, err := r.setup(c)
	if err != nil {
		return err
	}

	req := client.DialogRequest{
		ConversationID: c.GlobalString("conversation"),
		Model:          cfg.Model,
		IdempotencyKey: uuid.New().String(),
	}
	if req.ConversationID != "" {
		conv, err := api.GetConversation(r.ctx, req.ConversationID)
		if err != nil {
			return fmt.Errorf("loading conversation: %w", err)
		}
		req.Messages = history(conv.Messages)
	}
	req.Messages = append(req.Messages, message.New(message.RoleUser, text))

	if c.GlobalBool("no-stream") {
		res, err := api.Complete(r.ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, res.Text)
		if req.ConversationID == "" {
			r.printNewConversation(res.ConversationID)
		}
		return nil
	}

	out, err := api.StreamDialog(r.ctx, req, func(delta string) {
		fmt.Fprint(r.out, delta)
	})
	fmt.Fprintln(r.out)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return errors.New("interrupted")
		}
		return err
	}
	if out.Redirect {
		r.printNewConversation(out.ConversationID)
	}
	return nil
}

func (r *runner) printNewConversation(id string) {
	fmt.Fprintf(r.err, "%s %s\n", color.HiBlackString("conversation:"), id)
}

// history converts stored messages into a request transcript.
func history(msgs []*client.Message) []message.Message {
	out := make([]message.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		role := message.Role(m.Role)
		if !role.Valid() || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, message.New(role, m.Content))
	}
	return out
}

func (r *runner) list(c *cli.Context) error {
	api, _, err := r.setup(c)
	if err != nil {
		return err
	}
	convs, err := api.ListConversations(r.ctx)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(r.out, "No conversations.")
		return nil
	}

	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUPDATED\tMODEL\tTITLE")
	for _, conv := range convs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", conv.ID, conv.UpdatedAt.Local().Format("2006-01-02 15:04"), conv.Model, conv.Title)
	}
	return tw.Flush()
}

func requireID(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", errors.New("conversation ID is required")
	}
	return id, nil
}

func (r *runner) show(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	api, _, err := r.setup(c)
	if err != nil {
		return err
	}
	conv, err := api.GetConversation(r.ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintln(r.out, color.New(color.Bold).Sprint(conv.Title))
	fmt.Fprintln(r.out, color.HiBlackString("%s · %s", conv.Model, conv.CreatedAt.Local().Format("2006-01-02 15:04")))
	for _, m := range conv.Messages {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, roleLabel(m.Role))
		fmt.Fprintln(r.out, m.Content)
	}
	return nil
}

func roleLabel(role string) string {
	switch role {
	case string(message.RoleUser):
		return color.GreenString("you")
	case string(message.RoleAssistant):
		return color.CyanString("assistant")
	default:
		return color.YellowString(role)
	}
}

func (r *runner) delete(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	api, _, err := r.setup(c)
	if err != nil {
		return err
	}
	if err := api.DeleteConversation(r.ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s deleted %s\n", color.GreenString("✓"), id)
	return nil
}

func (r *runner) export(c *cli.Context) error {
	id, err := requireID(c)
	if err != nil {
		return err
	}
	api, _, err := r.setup(c)
	if err != nil {
		return err
	}
	body, err := api.Transcript(r.ctx, id, c.String("format"))
	if err != nil {
		return err
	}
	fmt.Fprint(r.out, body)
	return nil
}

func (r *runner) usage(c *cli.Context) error {
	api, _, err := r.setup(c)
	if err != nil {
		return err
	}
	u, err := api.Usage(r.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Conversations:    %d\n", u.Conversations)
	fmt.Fprintf(r.out, "Messages:         %d\n", u.Messages)
	fmt.Fprintf(r.out, "Assistant tokens: %d\n", u.AssistantTokens)
	return nil
}

func (r *runner) watch(c *cli.Context) error {
	api, _, err := r.setup(c)
	if err != nil {
		return err
	}
	fmt.Fprintln(r.err, color.HiBlackString("watching for changes, Ctrl-C to stop"))

	err = api.WatchConversations(r.ctx, func(n client.Notice) {
		fmt.Fprintf(r.out, "%-8s %s\n", n.Reason, n.ConversationID)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
