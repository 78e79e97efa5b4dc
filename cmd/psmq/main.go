// Command psmq publishes to and subscribes on a running psmq broker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/RoanBrand/psmq/transport/mqueue"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	brokerName string
	queueName  string
	verbose    bool

	tr = mqueue.New()
)

var rootCmd = &cobra.Command{
	Use:          "psmq",
	Short:        "Publish and subscribe through a psmq broker",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&brokerName, "broker", "b", "/psmqd", "name of the broker control channel")
	rootCmd.PersistentFlags().StringVarP(&queueName, "name", "n", "", "name of the client channel (generated if empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(pubCmd, subCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
