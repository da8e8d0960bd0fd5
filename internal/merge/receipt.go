package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/p-blackswan/persona-curator/internal/candidate"
	perrors "github.com/p-blackswan/persona-curator/internal/errors"
)

// Receipt is the operator's attestation of exactly which candidates are
// approved for one merge.
type Receipt struct {
	UserID       string   `json:"user_id"`
	ApprovedBy   string   `json:"approved_by"`
	ApprovedAt   string   `json:"approved_at"`
	CandidateIDs []string `json:"candidate_ids"`
}

// NewReceipt builds a receipt template for the given approved set.
func NewReceipt(userID, approver string, approved []candidate.Candidate, now time.Time) (Receipt, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return Receipt{}, fmt.Errorf("%w: approver name is required", perrors.ErrInvalidInput)
	}
	ids := make([]string, len(approved))
	for i, c := range approved {
		ids[i] = c.ID
	}
	sort.Strings(ids)
	return Receipt{
		UserID:       userID,
		ApprovedBy:   approver,
		ApprovedAt:   now.UTC().Format(time.RFC3339),
		CandidateIDs: ids,
	}, nil
}

// LoadReceipt reads a receipt file.
func LoadReceipt(path string) (Receipt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Receipt{}, fmt.Errorf("receipt: read %s: %w", path, err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return Receipt{}, perrors.NewValidationError(perrors.ErrInvalidReceipt, "%s is not valid JSON: %v", path, err)
	}
	return r, nil
}

// Marshal encodes the receipt as indented JSON.
func (r Receipt) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// SortedIDs returns a sorted copy of the candidate identifiers.
func (r Receipt) SortedIDs() []string {
	ids := append([]string(nil), r.CandidateIDs...)
	sort.Strings(ids)
	return ids
}

// Digest identifies the receipt's content independent of ID order.
func (r Receipt) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%s", r.UserID, r.ApprovedBy, r.ApprovedAt, strings.Join(r.SortedIDs(), ","))
	return hex.EncodeToString(h.Sum(nil))
}

// Check validates the receipt's own structure.
func (r Receipt) Check() error {
	if strings.TrimSpace(r.ApprovedBy) == "" {
		return perrors.NewValidationError(perrors.ErrInvalidReceipt, "approved_by is empty")
	}
	if strings.TrimSpace(r.ApprovedAt) == "" {
		return perrors.NewValidationError(perrors.ErrInvalidReceipt, "approved_at is empty")
	}
	if _, err := time.Parse(time.RFC3339, r.ApprovedAt); err != nil {
		return perrors.NewValidationError(perrors.ErrInvalidReceipt, "approved_at %q is not an RFC 3339 timestamp", r.ApprovedAt)
	}
	if len(r.CandidateIDs) == 0 {
		return perrors.NewValidationError(perrors.ErrInvalidReceipt, "candidate_ids is empty")
	}
	seen := make(map[string]bool, len(r.CandidateIDs))
	for _, id := range r.CandidateIDs {
		if strings.TrimSpace(id) == "" {
			return perrors.NewValidationError(perrors.ErrInvalidReceipt, "candidate_ids contains an empty id")
		}
		if seen[id] {
			return perrors.NewValidationError(perrors.ErrInvalidReceipt, "candidate_ids lists %s twice", id)
		}
		seen[id] = true
	}
	return nil
}

// matchApproved compares the receipt's sorted ids to the approved set.
func (r Receipt) matchApproved(approved []candidate.Candidate) error {
	want := make([]string, len(approved))
	for i, c := range approved {
		want[i] = c.ID
	}
	sort.Strings(want)
	got := r.SortedIDs()

	if len(got) == len(want) {
		equal := true
		for i := range got {
			if got[i] != want[i] {
				equal = false
				break
			}
		}
		if equal {
			return nil
		}
	}
	return perrors.NewValidationError(perrors.ErrReceiptMismatch,
		"receipt lists [%s] but approved candidates are [%s]",
		strings.Join(got, ", "), strings.Join(want, ", "))
}
