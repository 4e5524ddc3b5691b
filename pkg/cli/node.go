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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldops/driverd/pkg/models"
)

func newNodeCommand(opts *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage equipment tree nodes",
	}

	cmd.AddCommand(newNodeAddCommand(opts), newNodeRemoveCommand(opts))

	return cmd
}

func newNodeAddCommand(opts *clientOptions) *cobra.Command {
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "add TOPIC CONFIG_FILE",
		Short: "Add a device or topic segment from a JSON config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("reading config %s: %w", args[1], err)
			}

			var cfg models.EquipmentConfig
			if err := json.Unmarshal(blob, &cfg); err != nil {
				return fmt.Errorf("parsing config %s: %w", args[1], err)
			}

			req := models.AddNodeRequest{NodeTopic: args[0], Config: cfg}

			if noSchedule {
				f := false
				req.UpdateSchedule = &f
			}

			var ok bool

			if err := opts.call("add_node", req, &ok); err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), ok)
		},
	}

	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "do not update the poll schedule")

	return cmd
}

func newNodeRemoveCommand(opts *clientOptions) *cobra.Command {
	var leaveDisconnected bool

	cmd := &cobra.Command{
		Use:               "remove TOPIC",
		Short:             "Remove a node and, unless asked otherwise, its remote",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: topicCompletion(opts),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.RemoveNodeRequest{
				Topic:             args[0],
				LeaveDisconnected: leaveDisconnected,
			}

			var ok bool

			if err := opts.call("remove_node", req, &ok); err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), ok)
		},
	}

	cmd.Flags().BoolVar(&leaveDisconnected, "leave-disconnected", false, "keep the remote connection open")

	return cmd
}

func newInterfaceCommand(opts *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interface",
		Short: "Manage protocol driver interfaces",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List available driver types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var types []string

			if err := opts.call("list_interfaces", nil, &types); err != nil {
				return err
			}

			for _, t := range types {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}

			return nil
		},
	}

	install := &cobra.Command{
		Use:   "install NAME",
		Short: "Install a driver interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return opts.call("add_interface", args[0], nil)
		},
	}

	remove := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a driver interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return opts.call("remove_interface", args[0], nil)
		},
	}

	cmd.AddCommand(list, install, remove)

	return cmd
}

func newReserveCommand(opts *clientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reserve TASK_ID PRIORITY DEVICE START END [DEVICE START END]...",
		Short: "Reserve exclusive write access to devices",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) < 5 || (len(args)-2)%3 != 0 {
				return fmt.Errorf("expected TASK_ID PRIORITY followed by DEVICE START END triples")
			}

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, priority := args[0], args[1]

			var requests [][]string
			for i := 2; i < len(args); i += 3 {
				requests = append(requests, []string{args[i], args[i+1], args[i+2]})
			}

			req := models.ReservationRequest{
				Sender:   &opts.requester,
				TaskID:   &taskID,
				Priority: &priority,
				Requests: requests,
			}

			var result models.ReservationResult

			if err := opts.call("request_new_schedule", req, &result); err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	return cmd
}

func newCancelCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel TASK_ID",
		Short: "Cancel a reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.ReservationRequest{
				Sender: &opts.requester,
				TaskID: &args[0],
			}

			var result models.ReservationResult

			if err := opts.call("request_cancel_schedule", req, &result); err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}
