package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	gatherly "github.com/gatherly/gatherly-go"
)

func init() {
	rootCmd.AddCommand(listenCmd)
}

var listenCmd = &cobra.Command{
	Use:   "listen <topic>",
	Short: "Stream live events for a conversation or group",
	Long:  "Connect to the push channel, join the given topic, and print events as they arrive.\nTopics are written kind:id, e.g. 'gatherly listen group:12'. Interrupt to stop.",
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

		dispatcher := gatherly.NewDispatcher()
		dispatcher.OnStateChanged(func(state gatherly.ConnectionState) {
			fmt.Println(statusStyle.Render("• " + string(state)))
		})
		dispatcher.OnNewMessage(func(msg gatherly.Message, t gatherly.Topic) {
			if t == topic {
				printMessage(msg)
			}
		})
		dispatcher.OnMessageUpdated(func(msg gatherly.Message, t gatherly.Topic) {
			if t == topic {
				fmt.Println(metaStyle.Render(fmt.Sprintf("message %d edited:", msg.ID)))
				printMessage(msg)
			}
		})
		dispatcher.OnMessageDeleted(func(messageID int64, t gatherly.Topic) {
			if t == topic {
				fmt.Println(deletedStyle.Render(fmt.Sprintf("message %d deleted", messageID)))
			}
		})

		channel := client.Channel(dispatcher, &gatherly.ChannelConfig{
			Logf: func(format string, args ...any) {
				fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf(format, args...)))
			},
		})

		ctx := context.Background()
		if err := channel.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		channel.Join(ctx, topic)
		fmt.Println(headerStyle.Render("listening on " + topic.String()))

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		channel.Leave(ctx, topic)
		return channel.Disconnect()
	},
}
