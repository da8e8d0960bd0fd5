// Package notify announces newly staged candidates to operators.
// Delivery is best effort: a failed notification never affects staging.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/p-blackswan/persona-curator/internal/candidate"
)

// LogNotifier logs staged candidates (useful for dev and as a fallback).
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) CandidateStaged(_ context.Context, c candidate.Candidate) error {
	ev := l.logger.Info()
	if len(c.Conflicts) > 0 {
		ev = l.logger.Warn().Int("conflicts", len(c.Conflicts))
	}
	ev.Str("candidate_id", c.ID).
		Str("category", string(c.Category)).
		Str("channel", c.Channel).
		Str("summary", c.Summary).
		Msg("candidate awaiting review")
	return nil
}

// SlackNotifier posts staged candidates to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier creates a notifier for the given incoming-webhook URL.
// channel may be empty to use the webhook's default.
func NewSlackNotifier(webhookURL, channel string, logger zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "notify").Str("sink", "slack").Logger(),
	}
}

func (n *SlackNotifier) CandidateStaged(ctx context.Context, c candidate.Candidate) error {
	msg := &slack.WebhookMessage{
		Channel: n.channel,
		Text:    Summary(c),
		Blocks:  &slack.Blocks{BlockSet: BuildCandidateBlocks(c)},
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return fmt.Errorf("notify slack: %w", err)
	}
	n.logger.Debug().Str("candidate_id", c.ID).Msg("candidate announced")
	return nil
}

// Summary returns a one-line description of a staged candidate.
func Summary(c candidate.Candidate) string {
	s := fmt.Sprintf("%s [%s] %s", c.ID, c.Category, truncate(c.Summary, 120))
	if n := len(c.Conflicts); n > 0 {
		s += fmt.Sprintf(" (%d conflict", n)
		if n > 1 {
			s += "s"
		}
		s += ")"
	}
	return s
}

// BuildCandidateBlocks renders a candidate as Block Kit sections.
func BuildCandidateBlocks(c candidate.Candidate) []slack.Block {
	header := fmt.Sprintf("*New %s candidate* `%s`\n%s", c.Category, c.ID, c.Summary)
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", header, false, false),
			nil, nil,
		),
	}

	var fields []*slack.TextBlockObject
	if c.SuggestedEntry != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Entry:*\n"+truncate(c.SuggestedEntry, 200), false, false))
	}
	if c.Channel != "" {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Channel:*\n"+c.Channel, false, false))
	}
	if len(fields) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(nil, fields, nil))
	}

	if len(c.Conflicts) > 0 {
		lines := make([]string, 0, len(c.Conflicts))
		for _, cf := range c.Conflicts {
			lines = append(lines, fmt.Sprintf("• profile says _%s_, candidate says _%s_", cf.ProfileTerm, cf.CandidateTerm))
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", ":warning: *Conflicts*\n"+strings.Join(lines, "\n"), false, false),
			nil, nil,
		))
	}

	blocks = append(blocks, slack.NewContextBlock("",
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("`curator candidates mark %s approved --by <you>`", c.ID), false, false),
	))
	return blocks
}

// Multi fans out to several notifiers. Every notifier is called; their
// errors are joined.
type Multi []candidate.Notifier

func (m Multi) CandidateStaged(ctx context.Context, c candidate.Candidate) error {
	var errs []error
	for _, n := range m {
		if err := n.CandidateStaged(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
