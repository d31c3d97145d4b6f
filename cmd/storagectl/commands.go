package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/redbco/redb-storage/cmd/storagectl/internal/args"
	"github.com/redbco/redb-storage/pkg/adapter"
	"github.com/redbco/redb-storage/pkg/datastore"
	"github.com/redbco/redb-storage/pkg/health"
)

// setupCommands attaches every subcommand to root.
func setupCommands(root *cobra.Command, c *cli) {
	root.AddCommand(
		healthCmd(c),
		configCmd(c),
		insertCmd(c),
		queryCmd(c),
		updateCmd(c),
		deleteCmd(c),
		rawCmd(c),
		watchCmd(c),
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResponse prints resp and turns a failed response into an error.
func printResponse[T any](cmd *cobra.Command, resp datastore.Response[T]) error {
	if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}
	return resp.Err()
}

func healthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Ping every configured backend",
		Long:  `Ping the primary, the secondary and the replication journal. Exits non-zero when the store is unhealthy.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.open(cmd)
			if err != nil {
				return err
			}
			report := store.HealthCheck(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.Status == health.StatusUnhealthy {
				return errors.New("storage is unhealthy")
			}
			return nil
		},
	}
}

func configCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the active configuration",
		Long:  `Display the mode, backends and encryption settings. Secrets are never printed.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.open(cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), store.GetConfig())
		},
	}
}

func insertCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "insert [collection]",
		Short: "Insert a record",
		Long: `Insert one record given as a JSON object.

Examples:
  storagectl insert sensors --data '{"temperature": 21.5, "room": "lab"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			data, _ := cmd.Flags().GetString("data")
			rec, err := args.ParseRecord(data)
			if err != nil {
				return err
			}
			store, err := c.open(cmd)
			if err != nil {
				return err
			}
			return printResponse(cmd, store.Insert(cmd.Context(), a[0], rec))
		},
	}
	cmd.Flags().String("data", "", "Record as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func addWhereFlag(cmd *cobra.Command) {
	cmd.Flags().StringArray("where", nil, "Condition as field:op:value, repeatable (e.g. temperature:>=:20, room:in:a,b, label:is_null)")
}

func queryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [collection]",
		Short: "Query records",
		Long: `Query records matching every --where condition.

Examples:
  storagectl query sensors --where temperature:>:20 --order temperature --desc --limit 10
  storagectl query sensors --where room:in:lab,office --count`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			where, _ := cmd.Flags().GetStringArray("where")
			filter, err := args.ParseWhere(where)
			if err != nil {
				return err
			}
			opts := datastore.QueryOptions{}
			opts.OrderBy, _ = cmd.Flags().GetString("order")
			if desc, _ := cmd.Flags().GetBool("desc"); desc {
				opts.Direction = "desc"
			}
			opts.Limit, _ = cmd.Flags().GetInt("limit")
			opts.Offset, _ = cmd.Flags().GetInt("offset")
			opts.Count, _ = cmd.Flags().GetBool("count")
			opts.Fields, _ = cmd.Flags().GetStringSlice("select")

			store, err := c.open(cmd)
			if err != nil {
				return err
			}
			return printResponse(cmd, store.QueryByFilters(cmd.Context(), a[0], filter, opts))
		},
	}
	addWhereFlag(cmd)
	cmd.Flags().String("order", "", "Field to sort by")
	cmd.Flags().Bool("desc", false, "Sort descending")
	cmd.Flags().Int("limit", 0, "Maximum number of records (0 = no limit)")
	cmd.Flags().Int("offset", 0, "Number of records to skip")
	cmd.Flags().Bool("count", false, "Only count matching records")
	cmd.Flags().StringSlice("select", nil, "Fields to return")
	return cmd
}

func updateCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [collection]",
		Short: "Update matching records",
		Long: `Apply --set assignments to every record matching the --where conditions.

Examples:
  storagectl update sensors --set room=archive --where temperature:<:0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			set, _ := cmd.Flags().GetStringArray("set")
			patch, err := args.ParseAssignments(set)
			if err != nil {
				return err
			}
			where, _ := cmd.Flags().GetStringArray("where")
			filter, err := args.ParseWhere(where)
			if err != nil {
				return err
			}
			store, err := c.open(cmd)
			if err != nil {
				return err
			}
			return printResponse(cmd, store.Update(cmd.Context(), a[0], patch, filter))
		},
	}
	cmd.Flags().StringArray("set", nil, "Assignment as field=value, repeatable")
	addWhereFlag(cmd)
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func deleteCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete [collection]",
		Short: "Delete matching records",
		Long:  `Delete every record matching the --where conditions. Deleting without conditions requires --all.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			where, _ := cmd.Flags().GetStringArray("where")
			filter, err := args.ParseWhere(where)
			if err != nil {
				return err
			}
			if all, _ := cmd.Flags().GetBool("all"); filter.IsEmpty() && !all {
				return errors.New("refusing to delete every record without --all")
			}
			store, err := c.open(cmd)
			if err != nil {
				return err
			}
			return printResponse(cmd, store.Delete(cmd.Context(), a[0], filter))
		},
	}
	addWhereFlag(cmd)
	cmd.Flags().Bool("all", false, "Allow deleting every record")
	return cmd
}

func rawCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "raw [statement]",
		Short: "Run a raw statement on a relational primary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			store, err := c.open(cmd)
			if err != nil {
				return err
			}
			return printResponse(cmd, store.RawQuery(cmd.Context(), a[0]))
		},
	}
}

// notificationView is the printed form of a change notification.
type notificationView struct {
	adapter.Notification
	Error string `json:"error,omitempty"`
}

func watchCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [collection]",
		Short: "Stream change notifications",
		Long: `Print one JSON line per change until interrupted. Only backends with push
notifications (firestore, mongodb) can be watched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, a []string) error {
			where, _ := cmd.Flags().GetStringArray("where")
			filter, err := args.ParseWhere(where)
			if err != nil {
				return err
			}
			store, err := c.open(cmd)
			if err != nil {
				return err
			}

			var mu sync.Mutex
			enc := json.NewEncoder(cmd.OutOrStdout())
			resp := store.Subscribe(cmd.Context(), a[0], func(n adapter.Notification) {
				view := notificationView{Notification: n}
				if n.Err != nil {
					view.Error = n.Err.Error()
				}
				mu.Lock()
				defer mu.Unlock()
				_ = enc.Encode(view)
			}, filter)
			if !resp.Success {
				return printResponse(cmd, resp)
			}
			defer store.Unsubscribe(resp.Data)

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (subscription %s), press Ctrl+C to stop\n", a[0], resp.Data)
			<-cmd.Context().Done()
			return nil
		},
	}
	addWhereFlag(cmd)
	return cmd
}
