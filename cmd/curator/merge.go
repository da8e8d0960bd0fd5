package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/persona-curator/internal/merge"
)

type mergeOptions struct {
	dryRun      bool
	receiptFor  string
	out         string
	approvedBy  string
	receiptPath string
	push        bool
}

func newMergeCommand(root *rootOptions) *cobra.Command {
	opts := &mergeOptions{}

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Preview, attest or apply the approved candidates",
		Long: strings.TrimSpace(`Merge commits every approved candidate into the profile, the evidence log
and the prompt in one step, or not at all.

Run --dry-run to see what would change, --receipt-for to produce a receipt
for the approved set, then apply that receipt with --approved-by and --receipt.`),
		Example: strings.Join([]string{
			"  curator merge --dry-run",
			"  curator merge --receipt-for alice --out receipt.json",
			"  curator merge --approved-by alice --receipt receipt.json --push",
		}, "\n"),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := opts.mode()
			if err != nil {
				return err
			}
			a, err := root.load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch mode {
			case "dry-run":
				return runMergeDryRun(a, out)
			case "receipt":
				return runMergeReceipt(a, out, opts)
			default:
				return runMergeApply(cmd.Context(), a, out, opts)
			}
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "List what would be merged without writing")
	cmd.Flags().StringVar(&opts.receiptFor, "receipt-for", "", "Emit a receipt template for the approved set, signed by this approver")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Write the receipt template to this file instead of stdout")
	cmd.Flags().StringVar(&opts.approvedBy, "approved-by", "", "Approver applying the merge")
	cmd.Flags().StringVar(&opts.receiptPath, "receipt", "", "Receipt file to apply")
	cmd.Flags().BoolVar(&opts.push, "push", false, "Push changed files to the configured GitHub repository after merging")

	return cmd
}

// mode picks exactly one of the three merge modes.
func (o *mergeOptions) mode() (string, error) {
	var modes []string
	if o.dryRun {
		modes = append(modes, "dry-run")
	}
	if o.receiptFor != "" {
		modes = append(modes, "receipt")
	}
	if o.approvedBy != "" || o.receiptPath != "" {
		modes = append(modes, "apply")
	}
	switch {
	case len(modes) == 0:
		return "", fmt.Errorf("one of --dry-run, --receipt-for or --approved-by with --receipt is required")
	case len(modes) > 1:
		return "", fmt.Errorf("choose one mode, got %s", strings.Join(modes, " and "))
	}
	if modes[0] == "apply" {
		if strings.TrimSpace(o.approvedBy) == "" || o.receiptPath == "" {
			return "", fmt.Errorf("apply needs both --approved-by and --receipt")
		}
	}
	if o.out != "" && modes[0] != "receipt" {
		return "", fmt.Errorf("--out only applies to --receipt-for")
	}
	if o.push && modes[0] != "apply" {
		return "", fmt.Errorf("--push only applies when applying a receipt")
	}
	return modes[0], nil
}

func runMergeDryRun(a *app, out io.Writer) error {
	preview, err := a.engine.Preview()
	if err != nil {
		return err
	}
	if len(preview.Approved) == 0 {
		fmt.Fprintln(out, "No approved candidates.")
		return nil
	}
	fmt.Fprintf(out, "%d approved candidate(s) would be merged:\n", len(preview.Approved))
	for _, item := range preview.Items {
		fmt.Fprintf(out, "  %s  %-11s -> %s, %s\n", item.CandidateID, item.Category, item.EvidenceID, item.GrowthID)
		if item.PromptLine != "" {
			note := ""
			if !item.PromptInserted {
				note = " (no change)"
			}
			fmt.Fprintf(out, "      prompt %q: %s%s\n", item.PromptSection, item.PromptLine, note)
		}
	}
	return nil
}

func runMergeReceipt(a *app, out io.Writer, opts *mergeOptions) error {
	approved := a.store.Approved()
	if len(approved) == 0 {
		fmt.Fprintln(out, "No approved candidates; nothing to attest.")
		return nil
	}
	r, err := merge.NewReceipt(a.cfg.UserID, opts.receiptFor, approved, time.Now())
	if err != nil {
		return err
	}
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	if opts.out == "" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(opts.out, data, 0o644); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	fmt.Fprintf(out, "Receipt for %d candidate(s) written to %s\n", len(approved), opts.out)
	return nil
}

func runMergeApply(ctx context.Context, a *app, out io.Writer, opts *mergeOptions) error {
	if len(a.store.Approved()) == 0 {
		fmt.Fprintln(out, "No approved candidates; nothing to merge.")
		return nil
	}

	r, err := merge.LoadReceipt(opts.receiptPath)
	if err != nil {
		return err
	}
	res, err := a.engine.ApplyAs(ctx, r, opts.approvedBy)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Merged %d candidate(s), merge %s\n", len(res.Applied), res.MergeID)
	for _, item := range res.Applied {
		fmt.Fprintf(out, "  %s -> %s, %s\n", item.CandidateID, item.EvidenceID, item.GrowthID)
	}
	if res.ExportErr != nil {
		fmt.Fprintf(out, "warning: exports not regenerated: %v\n", res.ExportErr)
	}
	if res.ReceiptLogErr != nil {
		fmt.Fprintf(out, "warning: receipt not recorded in the receipt log: %v\n", res.ReceiptLogErr)
	}

	if opts.push {
		pushChanged(ctx, a, out, res)
	}
	return nil
}

// pushChanged reports push problems without failing the merge.
func pushChanged(ctx context.Context, a *app, out io.Writer, res *merge.Result) {
	pusher, err := a.pusher()
	if err != nil {
		a.logger.Error().Err(err).Msg("remote push not configured correctly")
		fmt.Fprintf(out, "warning: push skipped: %v\n", err)
		return
	}
	if pusher == nil {
		fmt.Fprintln(out, "warning: push skipped: no GitHub target configured")
		return
	}
	msg := fmt.Sprintf("curator: merge %s approved by %s", res.MergeID, res.ApprovedBy)
	pushed, err := pusher.Push(ctx, a.cfg.DataDir, res.ChangedFiles, msg)
	if err != nil {
		a.logger.Error().Err(err).Str("merge_id", res.MergeID).Msg("remote push failed")
		fmt.Fprintf(out, "warning: push failed: %v\n", err)
		return
	}
	for _, f := range pushed {
		if f.Unchanged {
			fmt.Fprintf(out, "  unchanged %s\n", f.RemotePath)
			continue
		}
		fmt.Fprintf(out, "  pushed %s (%s)\n", f.RemotePath, shortSHA(f.CommitSHA))
	}
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
