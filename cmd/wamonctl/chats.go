package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tupski/wa-monitor/internal/chat"
)

var chatsCommand = &cli.Command{
	Name:   "chats",
	Usage:  "List conversations",
	Action: cmdChats,
}

var messagesCommand = &cli.Command{
	Name:      "messages",
	Usage:     "Show a conversation's messages, deleted ones included",
	ArgsUsage: "CHAT",
	Action:    cmdMessages,
}

var callsCommand = &cli.Command{
	Name:      "calls",
	Usage:     "Show a conversation's call log",
	ArgsUsage: "CHAT",
	Action:    cmdCalls,
}

var mediaCommand = &cli.Command{
	Name:      "media",
	Usage:     "Queue a media download for a message",
	ArgsUsage: "CHAT MESSAGE",
	Action:    cmdMedia,
}

var profilesCommand = &cli.Command{
	Name:      "profiles",
	Usage:     "Load profile pictures (all conversations when no ids are given)",
	ArgsUsage: "[CONTACT...]",
	Action:    cmdProfiles,
}

func cmdChats(ctx *cli.Context) error {
	rctx, cancel := timeout(ctx)
	defer cancel()

	chats, err := getClient(ctx).ListChats(rctx)
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(chats)
	}
	for _, c := range chats {
		fmt.Printf("%-40s %s\n", c.ID, c.Label())
	}
	return nil
}

func cmdMessages(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a chat id")
	}
	rctx, cancel := timeout(ctx)
	defer cancel()

	msgs, err := getClient(ctx).GetMessages(rctx, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(msgs)
	}
	for _, m := range msgs {
		fmt.Println(formatMessage(m))
	}
	return nil
}

func formatMessage(m chat.Message) string {
	at := time.Unix(m.Timestamp, 0).Format("2006-01-02 15:04")
	from := m.SenderID
	if m.FromMe {
		from = "me"
	}
	line := fmt.Sprintf("%s %s: %s", at, from, m.BodyText())
	if m.Type != chat.KindChat {
		line += fmt.Sprintf(" [%s]", m.Type)
	}
	if m.Media != nil {
		line += " (" + m.Media.Path + ")"
	}
	if m.Deleted {
		line += fmt.Sprintf(" {deleted for %s}", m.DeletedScope)
	}
	return line
}

func cmdCalls(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a chat id")
	}
	rctx, cancel := timeout(ctx)
	defer cancel()

	calls, err := getClient(ctx).GetCallLogs(rctx, ctx.Args().Get(0))
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(calls)
	}
	for _, c := range calls {
		kind := "voice"
		if c.IsVideo {
			kind = "video"
		}
		fmt.Printf("%s %s %s call from %s\n", time.Unix(c.Timestamp, 0).Format("2006-01-02 15:04"), c.Status, kind, c.From)
	}
	return nil
}

func cmdMedia(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("you must specify a chat id and a message id")
	}
	rctx, cancel := timeout(ctx)
	defer cancel()

	res, err := getClient(ctx).RequestMedia(rctx, ctx.Args().Get(0), ctx.Args().Get(1))
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(res)
	}
	fmt.Printf("Request %d %s. Run 'wamonctl watch --prefix media.' to follow it.\n", res.RequestID, res.Status)
	return nil
}

// cmdProfiles blocks until the load finishes, so it gets no request timeout.
func cmdProfiles(ctx *cli.Context) error {
	sum, err := getClient(ctx).LoadProfiles(ctx.Context, ctx.Args().Slice())
	if err != nil {
		return err
	}
	if ctx.Bool("json") {
		return outputJSON(sum)
	}
	fmt.Printf("Loaded %d of %d (%d errors)\n", sum.Loaded, sum.Total, sum.Errors)
	return nil
}
