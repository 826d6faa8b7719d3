package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-chat-stream/internal/http/handlers"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/sysutil"
)

const defaultBaseURL = "http://localhost:8080/api/v1"

type globalOptions struct {
	baseURL string
	token   string
	user    string
	timeout time.Duration
	asJSON  bool
}

func (o *globalOptions) client() *apiClient {
	return newAPIClient(
		sysutil.FirstNonEmpty(o.baseURL, os.Getenv("CHATCTL_URL"), defaultBaseURL),
		sysutil.FirstNonEmpty(o.token, os.Getenv("CHATCTL_TOKEN")),
		o.user,
		o.timeout,
	)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Command-line client for the chat streaming API",
		Long: `chatctl talks to a running chat server.

Examples:
  # Mint a development token and list chats
  export CHATCTL_TOKEN=$(chatctl token alice --secret "$AUTH_JWT_SECRET")
  chatctl chats list

  # Stream a reply into the terminal
  chatctl ask "Which apples are best for pie?"
  chatctl ask --chat 7f3c... "And for sauce?"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.baseURL, "url", "", "API base URL (env CHATCTL_URL, default "+defaultBaseURL+")")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "Bearer token (env CHATCTL_TOKEN)")
	root.PersistentFlags().StringVar(&opts.user, "user", "", "User id sent as "+middleware.HeaderUserID+" (servers that trust the header)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Request timeout (0 = none)")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print raw JSON")

	root.AddCommand(newChatsCmd(opts), newAskCmd(opts), newTokenCmd())
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newChatsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Manage stored chats",
	}

	var page, size int
	list := &cobra.Command{
		Use:   "list",
		Short: "List chats, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := opts.client().ListChats(cmd.Context(), page, size)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, res)
			}
			for _, c := range res.Chats {
				shared := ""
				if c.Shared() {
					shared = "  [shared]"
				}
				fmt.Fprintf(out, "%s  %s  %s (%d messages)%s\n",
					c.ID, c.CreatedAt.Format(time.DateTime), c.Title, len(c.Messages), shared)
			}
			fmt.Fprintf(out, "page %d/%d, %d total\n", res.Pagination.Page, res.Pagination.TotalPages, res.Pagination.Total)
			for _, w := range res.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			return nil
		},
	}
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&size, "page-size", 20, "Items per page")

	var shared bool
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			fetch := c.GetChat
			if shared {
				fetch = c.GetShared
			}
			rec, err := fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.asJSON {
				return printJSON(out, rec)
			}
			fmt.Fprintf(out, "# %s\n\n", rec.Title)
			for _, m := range rec.Messages {
				suffix := ""
				if m.Incomplete {
					suffix = " [incomplete]"
				}
				fmt.Fprintf(out, "%s: %s%s\n\n", m.Role, m.Content, suffix)
			}
			return nil
		},
	}
	get.Flags().BoolVar(&shared, "shared", false, "Read through the public share link")

	share := &cobra.Command{
		Use:   "share <id>",
		Short: "Publish a chat and print its share path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := opts.client().ShareChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rec.SharePath)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteChat(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all of your chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			n, err := opts.client().ClearChats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d chats\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&yes, "yes", false, "Confirm")

	cmd.AddCommand(list, get, share, del, clearCmd)
	return cmd
}

func newAskCmd(opts *globalOptions) *cobra.Command {
	var (
		chatID string
		rec    handlers.RecommendationRequest
	)
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a message and stream the reply",
		Long: `Send a message and stream the reply to stdout.

With --recommend the message is built from --categories and --descriptors.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := handlers.PostChatRequest{ChatID: chatID, Content: strings.Join(args, " ")}
			if rec.GroceryType != "" {
				req.Mode = handlers.ModeRecommend
				req.Recommendation = &rec
			}

			out := cmd.OutOrStdout()
			meta, done, err := opts.client().Ask(cmd.Context(), req, func(d string) {
				fmt.Fprint(out, d)
			})
			fmt.Fprintln(out)
			if meta != nil && meta.ChatID != "" && chatID == "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "chat: %s\n", meta.ChatID)
			}
			if err != nil {
				return err
			}
			if done.Outcome != "completed" {
				return fmt.Errorf("reply %s", done.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "Continue the stored chat with this id")
	cmd.Flags().StringVar(&rec.GroceryType, "recommend", "", "Ask for recommendations of this grocery type")
	cmd.Flags().StringVar(&rec.Categories, "categories", "", "Recommendation categories")
	cmd.Flags().StringVar(&rec.Descriptors, "descriptors", "", "Recommendation description")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		issuer string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an HS256 bearer token for development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := middleware.SignToken(
				sysutil.FirstNonEmpty(secret, os.Getenv("AUTH_JWT_SECRET")),
				sysutil.FirstNonEmpty(issuer, os.Getenv("AUTH_ISSUER")),
				args[0], email, ttl,
			)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (env AUTH_JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "", "Token issuer (env AUTH_ISSUER)")
	cmd.Flags().StringVar(&email, "email", "", "Email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
