package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"shelver/internal/api"
)

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var mediaType string
	var title string
	var priority int

	cmd := &cobra.Command{
		Use:   "classify <external-id>",
		Short: "Queue an item for classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *api.Client) error {
				resp, err := client.Classify(cmd.Context(), api.ClassifyRequest{
					ExternalID: args[0],
					MediaType:  mediaType,
					Title:      title,
					Priority:   priority,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued classification task %d\n", resp.TaskID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&mediaType, "type", "t", "movie", "Media type: movie or tv")
	cmd.Flags().StringVar(&title, "title", "", "Title hint used when metadata lookup fails")
	cmd.Flags().IntVar(&priority, "priority", 0, "Queue priority; higher runs first")
	return cmd
}

func newClassificationCommand(ctx *commandContext) *cobra.Command {
	classificationCmd := &cobra.Command{
		Use:     "classification",
		Aliases: []string{"cls"},
		Short:   "Inspect and correct classification records",
	}
	classificationCmd.AddCommand(newClassificationShowCommand(ctx))
	classificationCmd.AddCommand(newReassignCommand(ctx))
	classificationCmd.AddCommand(newClarifyCommand(ctx))
	return classificationCmd
}

func newClassificationShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a classification record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "classification id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				rec, err := client.Classification(cmd.Context(), id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, rec)
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderDetail([][2]string{
					{"ID", strconv.FormatInt(rec.ID, 10)},
					{"External ID", rec.ExternalID},
					{"Media type", rec.MediaType},
					{"Title", orDash(rec.Title)},
					{"Library", libraryLabel(rec.LibraryID)},
					{"Confidence", strconv.Itoa(rec.Confidence)},
					{"Method", rec.Method},
					{"Reason", orDash(rec.Reason)},
					{"Routed", yesNo(rec.Routed)},
					{"Route error", orDash(rec.RouteError)},
					{"Created", orDash(rec.CreatedAt)},
				}))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func libraryLabel(id *int64) string {
	if id == nil {
		return "none"
	}
	return strconv.FormatInt(*id, 10)
}

func newReassignCommand(ctx *commandContext) *cobra.Command {
	var libraryID int64
	var by string

	cmd := &cobra.Command{
		Use:   "reassign <id>",
		Short: "Move a classified item to another library and record the correction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "classification id")
			if err != nil {
				return err
			}
			if libraryID <= 0 {
				return fmt.Errorf("--library is required")
			}
			return ctx.withClient(func(client *api.Client) error {
				res, err := client.Reassign(cmd.Context(), id, api.ReassignRequest{LibraryID: libraryID, CorrectedBy: by})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Classification %d reassigned from library %s to %d\n",
					id, libraryLabel(res.Correction.OriginalLibraryID), res.Correction.CorrectedLibraryID)
				if res.Route != nil {
					fmt.Fprintf(out, "Routed via %s (%s)\n", res.Route.Router, res.Route.Action)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64VarP(&libraryID, "library", "l", 0, "Target library id")
	cmd.Flags().StringVar(&by, "by", "cli", "Who made the correction")
	return cmd
}

func newClarifyCommand(ctx *commandContext) *cobra.Command {
	var question, answer string
	var before, boost int

	cmd := &cobra.Command{
		Use:   "clarify <id>",
		Short: "Record an operator answer that raises a classification's confidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "classification id")
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *api.Client) error {
				cl, err := client.Clarify(cmd.Context(), id, api.ClarifyRequest{
					Question:         question,
					Answer:           answer,
					ConfidenceBefore: before,
					Boost:            boost,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Confidence %d -> %d\n", cl.ConfidenceBefore, cl.ConfidenceAfter)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "Question that was asked")
	cmd.Flags().StringVarP(&answer, "answer", "a", "", "Operator answer")
	cmd.Flags().IntVar(&before, "before", 0, "Confidence before the answer")
	cmd.Flags().IntVar(&boost, "boost", 10, "Confidence added by the answer")
	return cmd
}
