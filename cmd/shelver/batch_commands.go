package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"shelver/internal/api"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Create and run reclassification batches",
	}

	batchCmd.AddCommand(newBatchCreateCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchStatusCommand(ctx))
	batchCmd.AddCommand(newBatchProgressCommand(ctx))
	batchCmd.AddCommand(newBatchValidateCommand(ctx))
	batchCmd.AddCommand(newBatchRunCommand(ctx, "execute", "Queue execution of a batch", (*api.Client).ExecuteBatch))
	batchCmd.AddCommand(newBatchRunCommand(ctx, "resume", "Queue continuation of a paused batch", (*api.Client).ResumeBatch))
	batchCmd.AddCommand(newBatchActionCommand(ctx, "pause", "Pause a batch before its next item", "paused", (*api.Client).PauseBatch))
	batchCmd.AddCommand(newBatchActionCommand(ctx, "cancel", "Cancel every item that has not run", "cancelled", (*api.Client).CancelBatch))
	batchCmd.AddCommand(newBatchItemCommand(ctx, "skip", "Skip a failed or invalid item", (*api.Client).SkipBatchItem))
	batchCmd.AddCommand(newBatchItemCommand(ctx, "retry", "Make a failed item runnable again", (*api.Client).RetryBatchItem))

	return batchCmd
}

// parseBatchItem accepts "classificationID:libraryID".
func parseBatchItem(value string) (api.BatchItemInput, error) {
	left, right, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return api.BatchItemInput{}, fmt.Errorf("invalid item %q: expected <classification-id>:<library-id>", value)
	}
	cid, err := parseID(left, "classification id")
	if err != nil {
		return api.BatchItemInput{}, err
	}
	lid, err := parseID(right, "library id")
	if err != nil {
		return api.BatchItemInput{}, err
	}
	return api.BatchItemInput{ClassificationID: cid, TargetLibraryID: lid}, nil
}

func readBatchFile(path string, stdin io.Reader) ([]api.BatchItemInput, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var items []api.BatchItemInput
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	return items, nil
}

func newBatchCreateCommand(ctx *commandContext) *cobra.Command {
	var itemFlags []string
	var file string
	var pauseOnError bool
	var by string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a batch from --item pairs or a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var items []api.BatchItemInput
			if file != "" {
				fromFile, err := readBatchFile(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				items = append(items, fromFile...)
			}
			for _, value := range itemFlags {
				item, err := parseBatchItem(value)
				if err != nil {
					return err
				}
				items = append(items, item)
			}
			if len(items) == 0 {
				return fmt.Errorf("no items given; use --item or --file")
			}
			req := api.CreateBatchRequest{Items: items, CreatedBy: by}
			if cmd.Flags().Changed("pause-on-error") {
				req.PauseOnError = &pauseOnError
			}
			return ctx.withClient(func(client *api.Client) error {
				detail, err := client.CreateBatch(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created batch %d with %d item(s)\n", detail.Batch.ID, detail.Batch.TotalItems)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&itemFlags, "item", "i", nil, "Item as <classification-id>:<library-id> (repeatable)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON array of {classificationId, targetLibraryId}; - reads stdin")
	cmd.Flags().BoolVar(&pauseOnError, "pause-on-error", false, "Pause on the first failed item (defaults to batch.pause_on_error)")
	cmd.Flags().StringVar(&by, "by", "cli", "Who created the batch")
	return cmd
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				batches, err := client.Batches(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, batches)
				}
				rows := make([][]string, 0, len(batches))
				for _, b := range batches {
					rows = append(rows, []string{
						strconv.FormatInt(b.ID, 10),
						b.Status,
						fmt.Sprintf("%d/%d", b.CompletedItems, b.TotalItems),
						strconv.Itoa(b.FailedItems),
						strconv.Itoa(b.SkippedItems),
						orDash(b.CreatedBy),
						orDash(b.CreatedAt),
					})
				}
				printTable(cmd.OutOrStdout(),
					[]string{"ID", "Status", "Done", "Failed", "Skipped", "By", "Created"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
					"No batches")
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of batches")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func renderBatchDetail(out io.Writer, detail api.BatchDetail) {
	b := detail.Batch
	paused := "-"
	if b.PausedAtItem != nil {
		paused = strconv.Itoa(*b.PausedAtItem)
	}
	fmt.Fprintln(out, renderDetail([][2]string{
		{"Batch", strconv.FormatInt(b.ID, 10)},
		{"Status", b.Status},
		{"Items", fmt.Sprintf("%d total, %d completed, %d failed, %d skipped", b.TotalItems, b.CompletedItems, b.FailedItems, b.SkippedItems)},
		{"Pause on error", yesNo(b.PauseOnError)},
		{"Paused at item", paused},
		{"Error", orDash(b.ErrorMessage)},
	}))
	rows := make([][]string, 0, len(detail.Items))
	for _, it := range detail.Items {
		rows = append(rows, []string{
			strconv.Itoa(it.ExecutionOrder),
			strconv.FormatInt(it.ID, 10),
			strconv.FormatInt(it.ClassificationID, 10),
			strconv.FormatInt(it.TargetLibraryID, 10),
			it.Status,
			truncate(it.ErrorMessage, 60),
		})
	}
	printTable(out, []string{"#", "Item", "Classification", "Library", "Status", "Error"}, rows,
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft, alignLeft}, "No items")
}

func newBatchStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show a batch with every item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				detail, err := client.Batch(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}
				renderBatchDetail(cmd.OutOrStdout(), detail)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func newBatchProgressCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "progress <id>",
		Short: "Show batch progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				p, err := client.BatchProgress(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %d %s: %d%% (%d/%d completed, %d failed, %d skipped)\n",
					p.BatchID, p.Status, p.Percent, p.CompletedItems, p.TotalItems, p.FailedItems, p.SkippedItems)
				return nil
			})
		},
	}
}

func newBatchValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <id>",
		Short: "Preview every item without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				detail, err := client.ValidateBatch(cmd.Context(), id)
				if err != nil {
					return err
				}
				renderBatchDetail(cmd.OutOrStdout(), detail)
				return nil
			})
		},
	}
}

type (
	batchRunFunc    func(*api.Client, context.Context, int64) (api.BatchExecuteResponse, error)
	batchActionFunc func(*api.Client, context.Context, int64) (api.Batch, error)
	batchItemFunc   func(*api.Client, context.Context, int64, int64) (api.BatchItem, error)
)

func newBatchRunCommand(ctx *commandContext, name, short string, run batchRunFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				resp, err := run(client, cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %d queued as task %d\n", resp.BatchID, resp.TaskID)
				return nil
			})
		},
	}
}

func newBatchActionCommand(ctx *commandContext, name, short, verb string, action batchActionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				b, err := action(client, cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Batch %d %s (status %s)\n", b.ID, verb, b.Status)
				return nil
			})
		},
	}
}

func newBatchItemCommand(ctx *commandContext, name, short string, action batchItemFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <batch-id> <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := parseID(args[0], "batch id")
			if err != nil {
				return err
			}
			itemID, err := parseID(args[1], "item id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				it, err := action(client, cmd.Context(), batchID, itemID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Item %d of batch %d is now %s\n", it.ID, batchID, it.Status)
				return nil
			})
		},
	}
}
