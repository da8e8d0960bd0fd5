package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/p-blackswan/persona-curator/internal/profile"
)

// Summary renders the markdown summary of a profile.
func Summary(p *profile.Profile, ev *profile.EvidenceLog, now time.Time) string {
	var b strings.Builder

	title := p.Name
	if title == "" {
		title = p.UserID
	}
	if title == "" {
		title = "Profile"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_Generated %s. Read-only; edit through the curation pipeline._\n", now.UTC().Format(time.RFC3339))

	if len(p.Personality.Traits) > 0 {
		fmt.Fprintf(&b, "\n**Traits:** %s\n", strings.Join(p.Personality.Traits, ", "))
	}

	for _, c := range profile.Categories {
		entries := p.Entries(c)
		fmt.Fprintf(&b, "\n## %s (%d)\n\n", strings.ToUpper(string(c)[:1])+string(c)[1:], len(entries))
		if len(entries) == 0 {
			b.WriteString("_none yet_\n")
			continue
		}
		for _, g := range entries {
			fmt.Fprintf(&b, "- %s (%s, evidence %s)\n", g.Text, g.ID, g.EvidenceID)
		}
	}

	fmt.Fprintf(&b, "\n## Evidence\n\n%d entries", len(ev.Entries))
	if n := len(ev.Entries); n > 0 {
		last := ev.Entries[n-1]
		fmt.Fprintf(&b, ", latest %s on %s", last.ID, last.Date)
	}
	b.WriteString(".\n")
	return b.String()
}
