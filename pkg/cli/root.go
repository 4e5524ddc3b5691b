/*
 * Copyright 2026 FieldOps Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldops/driverd/pkg/models"
	"github.com/fieldops/driverd/pkg/version"
)

// NewRootCommand builds the driver CLI. Exit code 0 covers partial
// per-point results; a non-nil error (exit 1) means the RPC itself failed.
func NewRootCommand() *cobra.Command {
	opts := &clientOptions{}

	root := &cobra.Command{
		Use:           "driver",
		Short:         "Interact with the platform driver service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.busURL, "bus-url", "nats://localhost:4222", "message bus URL")
	root.PersistentFlags().StringVar(&opts.peer, "peer", "platform.driver", "driver service peer id")
	root.PersistentFlags().StringVar(&opts.requester, "requester", "driver-cli", "requester identity for writes and reservations")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "RPC timeout")

	root.AddCommand(
		newGetCommand(opts),
		newSetCommand(opts),
		newLastCommand(opts),
		newQueryCommand(opts, "revert", "Revert points to their configured defaults"),
		newQueryCommand(opts, "start", "Resume polling of points at runtime"),
		newQueryCommand(opts, "stop", "Suspend polling of points at runtime"),
		newQueryCommand(opts, "enable", "Persistently enable equipment"),
		newQueryCommand(opts, "disable", "Persistently disable equipment"),
		newQueryCommand(opts, "status", "Report point status"),
		newListCommand(opts),
		newNodeCommand(opts),
		newInterfaceCommand(opts),
		newReserveCommand(opts),
		newCancelCommand(opts),
		newVersionCommand(),
	)

	return root
}

// topicCompletion offers live topics from the service for shell completion.
func topicCompletion(opts *clientOptions) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) != 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		var topics []string

		req := models.ListTopicsRequest{Query: models.Query{Topic: toComplete + "*"}}
		if err := opts.call("list_topics", req, &topics); err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		return topics, cobra.ShellCompDirectiveNoFileComp
	}
}

func addQueryFlags(cmd *cobra.Command, opts *clientOptions) {
	cmd.Flags().StringVar(&opts.tag, "tag", "", "tag-service query")
	cmd.Flags().StringVar(&opts.regex, "regex", "", "regex post-filter on topics")
}

func queryFromArgs(opts *clientOptions, args []string) models.Query {
	topic := ""
	if len(args) > 0 {
		topic = args[0]
	}

	return models.Query{Topic: topic, Tag: opts.tag, Regex: opts.regex}
}

func newGetCommand(opts *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "get TOPIC",
		Short:             "Read the selected points from their devices",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: topicCompletion(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			var results models.PointResults

			if err := opts.call("get", queryFromArgs(opts, args), &results); err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	addQueryFlags(cmd, opts)

	return cmd
}

func newSetCommand(opts *clientOptions) *cobra.Command {
	var (
		confirm   bool
		mapPoints bool
	)

	cmd := &cobra.Command{
		Use:               "set TOPIC VALUE",
		Short:             "Write the selected points",
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: topicCompletion(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.SetRequest{
				Query:         queryFromArgs(opts, args),
				Value:         parseValue(args[1]),
				Requester:     opts.requester,
				ConfirmValues: confirm,
				MapPoints:     mapPoints,
			}

			var results models.PointResults

			if err := opts.call("set", req, &results); err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	addQueryFlags(cmd, opts)
	cmd.Flags().BoolVar(&confirm, "confirm", false, "re-read points after writing")
	cmd.Flags().BoolVar(&mapPoints, "map-points", false, "interpret VALUE as a JSON point-to-value mapping")

	return cmd
}

func newLastCommand(opts *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "last TOPIC",
		Short:             "Show last-known values without touching the device",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: topicCompletion(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.LastRequest{Query: queryFromArgs(opts, args)}

			var results map[string]models.LastResult

			if err := opts.call("last", req, &results); err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	addQueryFlags(cmd, opts)

	return cmd
}

// newQueryCommand covers the operations that take a bare query and return a
// per-point result map.
func newQueryCommand(opts *clientOptions, method, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:               method + " TOPIC",
		Short:             short,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: topicCompletion(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			var results map[string]interface{}

			if err := opts.call(method, queryFromArgs(opts, args), &results); err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	addQueryFlags(cmd, opts)

	return cmd
}

func newListCommand(opts *clientOptions) *cobra.Command {
	var (
		active  bool
		enabled bool
	)

	cmd := &cobra.Command{
		Use:               "list [TOPIC]",
		Short:             "List matching point topics",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: topicCompletion(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.ListTopicsRequest{
				Query:   queryFromArgs(opts, args),
				Active:  active,
				Enabled: enabled,
			}

			var topics []string

			if err := opts.call("list_topics", req, &topics); err != nil {
				return err
			}

			for _, topic := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), topic)
			}

			return nil
		},
	}

	addQueryFlags(cmd, opts)
	cmd.Flags().BoolVar(&active, "active", false, "only points active at runtime")
	cmd.Flags().BoolVar(&enabled, "enabled", false, "only points on enabled equipment")

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetFullVersion())
		},
	}
}
