package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vmstore"
	"github.com/hupe1980/vmstore/docstore"
)

func newPingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect, authenticate and ping the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start := time.Now()

			conn, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer disconnect(ctx, conn)

			if err := conn.Ping(ctx); err != nil {
				return WrapExitError(ExitFailure, "ping failed", err)
			}

			cfg := conn.Config()
			topology := cfg.Topology()
			endpoints := make([]string, len(topology.Endpoints))
			for i, ep := range topology.Endpoints {
				endpoints[i] = ep.Address()
			}
			return opts.output(cmd).Message("ok", map[string]any{
				"backend":   cfg.Backend,
				"database":  cfg.DatabaseName,
				"endpoints": endpoints,
				"elapsed":   time.Since(start).String(),
			})
		},
	}
}

func newGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Load one view model by id",
		Long: `Load one view model by id. A missing document is not an error: the
result carries only the id and no action, exactly as Get returns it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			conn, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer disconnect(ctx, conn)

			vm, err := vmstore.NewStore(conn, args[0]).Get(ctx, args[1])
			if err != nil {
				return WrapExitError(ExitFailure, "get failed", err)
			}
			return opts.output(cmd).ViewModels([]*vmstore.ViewModel{vm})
		},
	}
}

// FindOptions holds flags for the find command.
type FindOptions struct {
	Filter string
	Sort   []string
	Skip   int64
	Limit  int64
	Fields []string
}

func newFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{}

	cmd := &cobra.Command{
		Use:   "find <collection>",
		Short: "Query view models with an equality filter",
		Long: `Query view models. The filter is a JSON object passed to the backend
unchanged. Sort fields are ascending unless prefixed with "-".

Examples:
  vmstore find users --filter '{"tenant":"acme"}'
  vmstore find users --sort -createdAt --limit 5 --fields name,email`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, findOpts, err := opts.parse()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid query", err)
			}

			ctx := cmd.Context()
			conn, err := rootOpts.connect(ctx)
			if err != nil {
				return err
			}
			defer disconnect(ctx, conn)

			vms, err := vmstore.NewStore(conn, args[0]).Find(ctx, filter, findOpts)
			if err != nil {
				return WrapExitError(ExitFailure, "find failed", err)
			}
			return rootOpts.output(cmd).ViewModels(vms)
		},
	}

	cmd.Flags().StringVarP(&opts.Filter, "filter", "f", "", "JSON filter document")
	cmd.Flags().StringSliceVar(&opts.Sort, "sort", nil, "sort fields, \"-field\" for descending")
	cmd.Flags().Int64Var(&opts.Skip, "skip", 0, "number of matches to skip")
	cmd.Flags().Int64Var(&opts.Limit, "limit", 0, "maximum number of results (0 = no limit)")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "attributes to return")

	return cmd
}

func (o *FindOptions) parse() (docstore.Filter, *docstore.FindOptions, error) {
	filter := docstore.Filter{}
	if o.Filter != "" {
		if err := json.Unmarshal([]byte(o.Filter), &filter); err != nil {
			return nil, nil, fmt.Errorf("filter: %w", err)
		}
	}
	if o.Skip < 0 || o.Limit < 0 {
		return nil, nil, fmt.Errorf("skip and limit must not be negative")
	}

	findOpts := &docstore.FindOptions{
		Skip:       o.Skip,
		Limit:      o.Limit,
		Projection: o.Fields,
	}
	for _, s := range o.Sort {
		field, order := s, docstore.Ascending
		if rest, ok := strings.CutPrefix(s, "-"); ok {
			field, order = rest, docstore.Descending
		}
		if field == "" {
			return nil, nil, fmt.Errorf("empty sort field")
		}
		findOpts.Sort = append(findOpts.Sort, docstore.SortField{Field: field, Order: order})
	}
	return filter, findOpts, nil
}

func newClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <collection>...",
		Short: "Delete every document of the named collections",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			conn, err := opts.connect(ctx)
			if err != nil {
				return err
			}
			defer disconnect(ctx, conn)

			for _, name := range args {
				if err := vmstore.NewStore(conn, name).Clear(ctx); err != nil {
					return WrapExitError(ExitFailure, fmt.Sprintf("failed to clear %s", name), err)
				}
			}
			return opts.output(cmd).Message("cleared", map[string]any{
				"collections": conn.Registry().Names(),
			})
		},
	}
}

func disconnect(ctx context.Context, conn *vmstore.Conn) {
	_ = conn.Disconnect(ctx)
}
