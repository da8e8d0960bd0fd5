package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/persona-curator/internal/candidate"
)

func newCandidatesCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List candidates and record approval decisions",
	}
	cmd.AddCommand(newCandidatesListCommand(root))
	cmd.AddCommand(newCandidatesMarkCommand(root))
	return cmd
}

func newCandidatesListCommand(root *rootOptions) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List candidates, optionally filtered by status",
		Example: "  curator candidates list --status pending,approved",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := parseStatuses(status)
			if err != nil {
				return err
			}
			a, err := root.load(cmd)
			if err != nil {
				return err
			}
			list := a.store.List(statuses...)
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No candidates.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tCATEGORY\tCONFLICTS\tSUMMARY")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.Status, c.Category, len(c.Conflicts), oneLine(c.Summary, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Comma-separated statuses: pending, approved, rejected, applied")
	return cmd
}

func newCandidatesMarkCommand(root *rootOptions) *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:     "mark <id> <approved|rejected>",
		Short:   "Approve or reject a candidate",
		Example: "  curator candidates mark CAND-0003 approved --by alice",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, ok := candidate.ParseStatus(args[1])
			if !ok || (to != candidate.StatusApproved && to != candidate.StatusRejected) {
				return fmt.Errorf("decision %q: want approved or rejected", args[1])
			}
			if strings.TrimSpace(by) == "" {
				return fmt.Errorf("--by is required")
			}
			a, err := root.load(cmd)
			if err != nil {
				return err
			}
			c, err := a.store.Mark(cmd.Context(), args[0], to, strings.TrimSpace(by))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", c.ID, c.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "Operator recording the decision")
	return cmd
}

func parseStatuses(raw string) ([]candidate.Status, error) {
	var out []candidate.Status
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		st, ok := candidate.ParseStatus(s)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", s)
		}
		out = append(out, st)
	}
	return out, nil
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
