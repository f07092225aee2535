package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	gatherly "github.com/gatherly/gatherly-go"
)

func init() {
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <topic>",
	Short: "Print the message history of a conversation or group",
	Long:  "Fetch and print the historical message page for a topic.\nTopics are written kind:id, e.g. 'gatherly history dm:7' or 'gatherly history group:12'.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, err := parseTopic(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		client, err := newSDKClient(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sync := gatherly.NewSynchronizer(client.SyncAPI(), client.PollAggregator(),
			client.Channel(gatherly.NewDispatcher(), nil), cfg.Auth.UserID, topic)
		if err := sync.LoadMessages(ctx, false); err != nil {
			return fmt.Errorf("failed to load messages: %w", err)
		}

		msgs := sync.Messages()
		fmt.Println(headerStyle.Render(fmt.Sprintf("%s — %d messages", topic, len(msgs))))
		for _, m := range msgs {
			printMessage(m)
		}
		return nil
	},
}

func printMessage(m gatherly.Message) {
	ts := m.CreatedAt.Local().Format("15:04")
	meta := metaStyle.Render(fmt.Sprintf("[%s] %s", ts, m.Sender.Username))

	switch {
	case m.IsDeleted:
		fmt.Printf("%s %s\n", meta, deletedStyle.Render("(deleted)"))
	case m.IsOwn:
		fmt.Printf("%s %s\n", meta, ownMessageStyle.Render(m.Content))
	default:
		fmt.Printf("%s %s\n", meta, otherMessageStyle.Render(m.Content))
	}

	if m.PollVotes != nil {
		for option, count := range m.PollVotes {
			fmt.Printf("    %s\n", statusStyle.Render(fmt.Sprintf("%s: %d", option, count)))
		}
	}
}
