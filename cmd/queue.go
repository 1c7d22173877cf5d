/*
Copyright 2025 Saldo Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// queueCommands groups the manual queue triggers. Each subcommand runs one
// maintenance pass and exits; cron or any external scheduler drives them.
func queueCommands(b *saldoInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "trigger queue processing passes",
	}

	cmd.AddCommand(queueProcessCommands(b))
	cmd.AddCommand(queueRetriesCommands(b))
	cmd.AddCommand(queueRecoverCommands(b))
	cmd.AddCommand(queueSweepCommands(b))

	return cmd
}

func queueProcessCommands(b *saldoInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "process one batch of pending queue items",
		Run: func(cmd *cobra.Command, args []string) {
			processed, err := b.saldo.ProcessQueueBatch(context.Background())
			if err != nil {
				logrus.Error(err)
				return
			}
			fmt.Printf("Processed %d queue items\n", processed)
		},
	}
}

func queueRetriesCommands(b *saldoInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "retries",
		Short: "reactivate failed items whose backoff has elapsed",
		Run: func(cmd *cobra.Command, args []string) {
			reactivated, err := b.saldo.ProcessRetries(context.Background())
			if err != nil {
				logrus.Error(err)
				return
			}
			fmt.Printf("Reactivated %d queue items\n", reactivated)
		},
	}
}

func queueRecoverCommands(b *saldoInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "reset items stuck in PROCESSING past the cutoff",
		Run: func(cmd *cobra.Command, args []string) {
			recovered, err := b.saldo.RecoverStuckItems(context.Background())
			if err != nil {
				logrus.Error(err)
				return
			}
			fmt.Printf("Recovered %d queue items\n", recovered)
		},
	}
}

func queueSweepCommands(b *saldoInstance) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "release abandoned locks and requeue unprocessed webhook events",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			released, err := b.saldo.CleanupAbandonedLocks(ctx)
			if err != nil {
				logrus.Error(err)
			} else {
				fmt.Printf("Released %d abandoned locks\n", released)
			}

			requeued, err := b.saldo.SweepUnprocessedWebhookEvents(ctx, limit)
			if err != nil {
				logrus.Error(err)
				return
			}
			fmt.Printf("Requeued %d webhook events\n", requeued)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum webhook events to requeue")

	return cmd
}
