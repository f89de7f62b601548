package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"queue-monitor/services"
)

type rebuilder interface {
	Rebuild(ctx context.Context, queueID string) (*services.RebuildResult, error)
}

// newRebuildCommand regenerates entries and events of each queue from its
// history ledger. Nothing else may be writing to those queues meanwhile.
func newRebuildCommand(r rebuilder, defaultQueues []string) *cobra.Command {
	var queues []string

	command := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild queue entries and events from the history ledger",
		RunE: func(command *cobra.Command, args []string) error {
			if len(queues) == 0 {
				queues = defaultQueues
			}
			if len(queues) == 0 {
				return errors.New("no queue given; use --queue or QUEUE_IDS")
			}

			for _, queueID := range queues {
				result, err := r.Rebuild(command.Context(), queueID)
				if err != nil {
					return err
				}
				command.Printf("%s: %d records, %d entries, %d transitions, %d events in %s\n",
					queueID, result.Records, result.Inserted, result.Transitions, result.Events, result.Duration)
			}
			return nil
		},
	}

	command.Flags().StringSliceVarP(&queues, "queue", "q", nil, "queue ID to rebuild (repeatable)")
	return command
}
