package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/DevRickLin/chat-relay/internal/api"
	"github.com/DevRickLin/chat-relay/internal/biz/domain"
	"github.com/DevRickLin/chat-relay/internal/mcp"
)

func runSend(cmd *cobra.Command, args []string) error {
	client := mcp.NewClient(apiURL)
	contact, text := args[0], strings.Join(args[1:], " ")

	resp, err := client.SendMessage(cmd.Context(), contact, text)
	if err != nil {
		return err
	}
	return printSend(cmd.OutOrStdout(), resp)
}

func runSay(cmd *cobra.Command, args []string) error {
	client := mcp.NewClient(apiURL)

	res, err := client.Utterance(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Text)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	client := mcp.NewClient(apiURL)
	query := strings.Join(args, " ")

	msgs, err := client.SearchMessages(cmd.Context(), query, limit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No messages matching %q\n", query)
		return nil
	}
	printMessages(cmd.OutOrStdout(), msgs, true, time.Now())
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	client := mcp.NewClient(apiURL)
	ctx := cmd.Context()

	if len(args) == 0 {
		msgs, err := client.GetRecent(ctx, limit)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages yet")
			return nil
		}
		printMessages(cmd.OutOrStdout(), oldestFirst(msgs), true, time.Now())
		return nil
	}

	conv, err := resolveConversation(ctx, client, strings.Join(args, " "))
	if err != nil {
		return err
	}
	msgs, err := client.GetChatHistory(ctx, conv, limit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No messages with %s\n", conv)
		return nil
	}
	printMessages(cmd.OutOrStdout(), oldestFirst(msgs), false, time.Now())
	return nil
}

// oldestFirst reverses a newest-first listing so it reads like a chat
func oldestFirst(msgs []domain.Message) []domain.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := mcp.NewClient(apiURL)

	health, err := client.Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", apiURL, err)
	}
	printHealth(cmd.OutOrStdout(), health)
	if health.Status != "ok" {
		return fmt.Errorf("relay is %s", health.Status)
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := mcp.NewServer(mcp.NewClient(apiURL), version, logger.Named("mcp"))
	return server.Run(ctx)
}

// resolveConversation maps a contact name to a known conversation ID, case-insensitively
func resolveConversation(ctx context.Context, client *mcp.Client, name string) (string, error) {
	chats, err := client.ListChats(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range chats {
		if c.ConversationID == name {
			return name, nil
		}
	}
	for _, c := range chats {
		if strings.EqualFold(c.ConversationID, name) {
			return c.ConversationID, nil
		}
	}
	return name, nil
}

func printSend(w io.Writer, resp *api.SendResponse) error {
	if resp.Error != "" {
		return fmt.Errorf("send to %s %s after %d attempt(s): %s", resp.ConversationID, resp.State, resp.Attempts, resp.Error)
	}
	fmt.Fprintf(w, "Sent to %s\n", resp.ConversationID)
	return nil
}

func printMessages(w io.Writer, msgs []domain.Message, withConversation bool, now time.Time) {
	for _, m := range msgs {
		var b strings.Builder
		b.WriteString("[")
		b.WriteString(humanize.RelTime(m.Timestamp, now, "ago", "from now"))
		b.WriteString("] ")
		if withConversation && m.ConversationID != m.SenderName {
			b.WriteString(m.ConversationID)
			b.WriteString(" / ")
		}
		b.WriteString(m.SenderName)
		b.WriteString(": ")
		b.WriteString(m.Content)
		if !m.IsRead && !m.IsFromMe {
			b.WriteString(" (unread)")
		}
		fmt.Fprintln(w, b.String())
	}
}

func printHealth(w io.Writer, h *api.HealthResponse) {
	fmt.Fprintf(w, "status:  %s\n", h.Status)
	fmt.Fprintf(w, "relay:   %s\n", h.Relay)
	if c := h.Connector; c != nil {
		fmt.Fprintf(w, "browser: %s\n", yesNo(c.BrowserRunning))
		fmt.Fprintf(w, "login:   %s\n", yesNo(c.LoggedIn))
		fmt.Fprintf(w, "phone:   %s\n", yesNo(c.PhoneConnected))
	}
	if h.Error != "" {
		fmt.Fprintf(w, "error:   %s\n", h.Error)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
