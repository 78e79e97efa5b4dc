package main

import (
	"bufio"
	"errors"
	"os"

	"github.com/RoanBrand/psmq/client"
	"github.com/RoanBrand/psmq/internal/model"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	pubTopic   string
	pubMessage string
	pubPrio    uint32
	pubEmpty   bool
)

var pubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Publish a message, or every line read from stdin",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pubEmpty && pubMessage != "" {
			return errors.New("-e and -m are mutually exclusive")
		}

		ctx := cmd.Context()
		c, err := client.New(ctx, tr, brokerName, client.Options{Name: queueName})
		if err != nil {
			return err
		}
		defer c.Close()
		log.WithFields(log.Fields{"broker": brokerName, "slot": c.Slot()}).Debug("Connected")

		switch {
		case pubEmpty:
			return c.Publish(ctx, pubTopic, nil, pubPrio)
		case pubMessage != "":
			return c.Publish(ctx, pubTopic, []byte(pubMessage), pubPrio)
		}

		s := bufio.NewScanner(os.Stdin)
		s.Buffer(make([]byte, model.DataMax), model.DataMax)
		for s.Scan() {
			if err := c.Publish(ctx, pubTopic, s.Bytes(), pubPrio); err != nil {
				return err
			}
		}
		return s.Err()
	},
}

func init() {
	pubCmd.Flags().StringVarP(&pubTopic, "topic", "t", "", "topic to publish on")
	pubCmd.Flags().StringVarP(&pubMessage, "message", "m", "", "message to publish, stdin is read if not set")
	pubCmd.Flags().Uint32VarP(&pubPrio, "prio", "p", 0, "message priority")
	pubCmd.Flags().BoolVarP(&pubEmpty, "empty", "e", false, "publish a message without payload")
	pubCmd.MarkFlagRequired("topic")
}
