// Package remote pushes changed state files to a GitHub repository through
// the contents API, one commit per file.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/persona-curator/internal/errors"
	"github.com/p-blackswan/persona-curator/internal/retry"
)

// Config identifies the push target.
type Config struct {
	Owner      string
	Repo       string
	Branch     string
	PathPrefix string
	// BaseURL overrides the API endpoint (GitHub Enterprise, tests).
	BaseURL string
}

// PushedFile is one file handled by Push.
type PushedFile struct {
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	CommitSHA  string `json:"commit_sha,omitempty"`
	Unchanged  bool   `json:"unchanged,omitempty"`
}

// Pusher commits local files to the configured repository.
type Pusher struct {
	cfg    Config
	auth   Auth
	base   *gh.Client
	retry  retry.Config
	logger zerolog.Logger
}

// New creates a Pusher.
func New(cfg Config, auth Auth, logger zerolog.Logger) (*Pusher, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("remote: owner and repo are required")
	}
	if auth == nil {
		return nil, fmt.Errorf("remote: no credentials")
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	base, err := newBaseClient(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("remote: base url: %w", err)
	}
	p := &Pusher{
		cfg:    cfg,
		auth:   auth,
		base:   base,
		retry:  retry.DefaultConfig(),
		logger: logger.With().Str("component", "remote").Str("repo", cfg.Owner+"/"+cfg.Repo).Logger(),
	}
	p.retry.OnRetry = func(attempt int, err error, _ time.Duration) {
		p.logger.Warn().Err(err).Int("attempt", attempt).Msg("push attempt failed, retrying")
	}
	return p, nil
}

// RemotePath maps a file under root to its path in the repository.
func (p *Pusher) RemotePath(root, local string) (string, error) {
	rel, err := filepath.Rel(root, local)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("remote: %s is outside %s", local, root)
	}
	return path.Join(p.cfg.PathPrefix, filepath.ToSlash(rel)), nil
}

// Push commits each file under root whose content differs from the branch.
// It stops at the first failure and returns what was pushed so far.
func (p *Pusher) Push(ctx context.Context, root string, files []string, message string) ([]PushedFile, error) {
	token, err := p.auth.Token(ctx, p.base)
	if err != nil {
		return nil, fmt.Errorf("remote auth: %w", err)
	}
	client := p.base.WithAuthToken(token)

	var out []PushedFile
	for _, local := range files {
		remotePath, err := p.RemotePath(root, local)
		if err != nil {
			return out, err
		}
		content, err := os.ReadFile(local)
		if err != nil {
			return out, fmt.Errorf("remote: read %s: %w", local, err)
		}

		pf := PushedFile{LocalPath: local, RemotePath: remotePath}
		err = retry.Do(ctx, p.retry, func(ctx context.Context) error {
			sha, unchanged, err := p.pushFile(ctx, client, remotePath, content, message)
			pf.CommitSHA, pf.Unchanged = sha, unchanged
			return err
		})
		if err != nil {
			return out, fmt.Errorf("remote: push %s: %w", remotePath, err)
		}
		p.logger.Info().
			Str("path", remotePath).
			Str("commit", pf.CommitSHA).
			Bool("unchanged", pf.Unchanged).
			Msg("file pushed")
		out = append(out, pf)
	}
	return out, nil
}

func (p *Pusher) pushFile(ctx context.Context, client *gh.Client, remotePath string, content []byte, message string) (string, bool, error) {
	opts := &gh.RepositoryContentFileOptions{
		Message: gh.String(message),
		Content: content,
		Branch:  gh.String(p.cfg.Branch),
	}

	existing, _, resp, err := client.Repositories.GetContents(ctx, p.cfg.Owner, p.cfg.Repo, remotePath,
		&gh.RepositoryContentGetOptions{Ref: p.cfg.Branch})
	switch {
	case err == nil && existing != nil:
		current, derr := existing.GetContent()
		if derr == nil && current == string(content) {
			return "", true, nil
		}
		opts.SHA = existing.SHA
		res, _, err := client.Repositories.UpdateFile(ctx, p.cfg.Owner, p.cfg.Repo, remotePath, opts)
		if err != nil {
			return "", false, classify("update file", err)
		}
		return res.Commit.GetSHA(), false, nil
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		res, _, err := client.Repositories.CreateFile(ctx, p.cfg.Owner, p.cfg.Repo, remotePath, opts)
		if err != nil {
			return "", false, classify("create file", err)
		}
		return res.Commit.GetSHA(), false, nil
	case err != nil:
		return "", false, classify("get contents", err)
	default:
		return "", false, fmt.Errorf("get contents: %s is not a file", remotePath)
	}
}

// classify maps go-github failures onto the error taxonomy so retry.Do can
// tell transient from permanent ones.
func classify(op string, err error) error {
	var rl *gh.RateLimitError
	var abuse *gh.AbuseRateLimitError
	var er *gh.ErrorResponse
	var netErr net.Error
	switch {
	case errors.As(err, &rl), errors.As(err, &abuse):
		return fmt.Errorf("%s: %w: %v", op, perrors.ErrRateLimit, err)
	case errors.As(err, &er) && er.Response != nil:
		code := er.Response.StatusCode
		if code == http.StatusUnauthorized || code == http.StatusForbidden {
			return fmt.Errorf("%s: %w: %v", op, perrors.ErrAuthFailure, err)
		}
		return fmt.Errorf("%s: %w", op, perrors.NewAPIError("github", code, er.Message))
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%s: %w: %v", op, perrors.ErrTimeout, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
