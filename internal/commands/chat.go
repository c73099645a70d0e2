package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"razgovor/internal/client"
	"razgovor/internal/content"

	"github.com/spf13/cobra"
)

func newUsersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				me, err := c.Profile(ctx)
				if err != nil {
					return err
				}
				users, err := c.Users(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("%d users", len(users))))
				for _, u := range users {
					name := peerStyle.Render(content.StripControl(u.DisplayName))
					if u.ID == me.ID {
						name = selfStyle.Render(content.StripControl(u.DisplayName)) + hintStyle.Render(" (you)")
					}
					fmt.Fprintf(out, "  %s %s\n", name, timeStyle.Render(u.ID))
				}
				return nil
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <user>",
		Short: "Print the conversation with a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				me, err := c.Profile(ctx)
				if err != nil {
					return err
				}
				users, err := c.Users(ctx)
				if err != nil {
					return err
				}
				peer, err := findUser(users, args[0])
				if err != nil {
					return err
				}

				messages, err := c.History(ctx, peer.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(messages) == 0 {
					fmt.Fprintln(out, hintStyle.Render("No messages yet"))
					return nil
				}
				names := displayNames(users)
				for _, msg := range messages {
					fmt.Fprintln(out, formatMessage(msg, me.ID, names))
				}
				return nil
			})
		},
	}
}

func newSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <user> <message>",
		Short: "Send one message without opening the live channel",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				users, err := c.Users(ctx)
				if err != nil {
					return err
				}
				peer, err := findUser(users, args[0])
				if err != nil {
					return err
				}

				msg, err := c.SendTo(ctx, peer.ID, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), formatMessage(msg, msg.Sender, displayNames(users)))
				return nil
			})
		},
	}
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <user>",
		Short: "Open a live conversation",
		Long: `Open a live conversation with a user.

Each line read from stdin is sent as a message. Type /quit to leave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, func(ctx context.Context, c *client.Client) error {
				users, err := c.Users(ctx)
				if err != nil {
					return err
				}
				peer, err := findUser(users, args[0])
				if err != nil {
					return err
				}

				if err := c.Connect(ctx); err != nil {
					return fmt.Errorf("failed to connect: %w", err)
				}
				defer c.Disconnect()
				changes := c.Changes()
				if err := c.SelectPeer(ctx, peer.ID); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, headerStyle.Render("Chat with "+content.StripControl(peer.DisplayName))+hintStyle.Render("  /quit to leave"))
				view := &transcriptView{out: out, selfID: c.Self().ID, names: displayNames(users)}
				view.render(c.Transcript(), c.Typing())

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				lines := make(chan string)
				go func() {
					defer close(lines)
					scanner := bufio.NewScanner(cmd.InOrStdin())
					for scanner.Scan() {
						select {
						case lines <- scanner.Text():
						case <-ctx.Done():
							return
						}
					}
				}()

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-changes:
						view.render(c.Transcript(), c.Typing())
					case line, ok := <-lines:
						if !ok {
							return nil
						}
						line = strings.TrimSpace(line)
						switch line {
						case "":
							continue
						case "/quit":
							return nil
						}
						if _, err := c.Send(ctx, line); err != nil {
							fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(err.Error()))
						}
					}
				}
			})
		},
	}
}
