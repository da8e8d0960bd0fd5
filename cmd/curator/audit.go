package main

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/persona-curator/internal/maintenance"
	"github.com/p-blackswan/persona-curator/internal/profile"
)

func newAuditCommand(root *rootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report growth entries whose evidence is missing",
		Long: `Audit checks that every growth entry cites an evidence entry that exists and
that evidence artifact fields are set together. Problems are reported, never
repaired. With --strict any orphan makes the command fail.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.load(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			report, err := maintenance.NewAuditor(a.fsys, a.paths.Profile, a.paths.Evidence, a.ledger, a.logger).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d growth entries, %d evidence entries\n", report.GrowthEntries, report.EvidenceEntries)
			if report.Clean() {
				fmt.Fprintln(out, "No orphans.")
			} else {
				fmt.Fprintf(out, "%d orphan(s):\n", len(report.Orphans))
				for _, o := range report.Orphans {
					fmt.Fprintf(out, "  %s\n", o)
				}
			}

			stats, err := a.exporter.Stats(cmd.Context())
			switch {
			case errors.Is(err, fs.ErrNotExist):
				fmt.Fprintln(out, "Export: none yet")
			case err != nil:
				a.logger.Warn().Err(err).Msg("export stats unavailable")
				fmt.Fprintf(out, "Export: unreadable (%v)\n", err)
			default:
				fmt.Fprintf(out, "Export: %d evidence, %s, %d unlinked\n", stats.Evidence, growthCounts(stats.Growth), stats.Unlinked)
			}

			if strict && !report.Clean() {
				return fmt.Errorf("%d orphan(s) found", len(report.Orphans))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when orphans are found")
	return cmd
}

func growthCounts(m map[profile.Category]int) string {
	if len(m) == 0 {
		return "0 growth"
	}
	cats := make([]string, 0, len(m))
	for c := range m {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)
	s := ""
	for i, c := range cats {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%d %s", m[profile.Category(c)], c)
	}
	return s
}
