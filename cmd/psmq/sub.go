package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/RoanBrand/psmq/client"
	"github.com/RoanBrand/psmq/internal/model"
	"github.com/RoanBrand/psmq/transport"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var subTopics []string

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Subscribe to topics and print what is published on them",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c, err := client.New(ctx, tr, brokerName, client.Options{Name: queueName})
		if err != nil {
			return err
		}
		defer c.Close()
		log.WithFields(log.Fields{"broker": brokerName, "slot": c.Slot(), "channel": c.Name()}).Info("Connected")

		for _, t := range subTopics {
			if err = c.Subscribe(ctx, t); err != nil {
				return err
			}
			if _, err = c.WaitAck(ctx, model.SUBSCRIBE, transport.Forever); err != nil {
				return fmt.Errorf("subscribe %s: %w", t, err)
			}
			log.WithField("topic", t).Info("Subscribed")
		}

		for {
			m, err := c.Receive(ctx, transport.Forever)
			if err != nil {
				if errors.Is(err, transport.ErrInterrupted) || errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			switch m.Cmd {
			case model.PUBLISH:
				printMessage(m)
			case model.CLOSE:
				return errors.New("broker has closed the connection")
			default:
				log.WithField("cmd", fmt.Sprintf("%q", m.Cmd)).Debug("Ignoring reply")
			}
		}
	},
}

func init() {
	subCmd.Flags().StringArrayVarP(&subTopics, "topic", "t", nil, "topic pattern to subscribe to, can be repeated")
	subCmd.MarkFlagRequired("topic")
}

func printMessage(m *client.Message) {
	if printable(m.Payload) {
		fmt.Printf("p:%d %s data(%4d): %s\n", m.Prio, m.Topic, len(m.Payload), m.Payload)
		return
	}
	fmt.Printf("p:%d %s data(%d)\n%s", m.Prio, m.Topic, len(m.Payload), hex.Dump(m.Payload))
}

func printable(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
