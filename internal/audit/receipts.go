package audit

import (
	"encoding/json"
	"time"
)

// ReceiptRecord is one applied merge receipt as kept in the receipt log.
type ReceiptRecord struct {
	MergedAt     time.Time `json:"merged_at"`
	MergeID      string    `json:"merge_id"`
	Digest       string    `json:"digest"`
	UserID       string    `json:"user_id,omitempty"`
	ApprovedBy   string    `json:"approved_by"`
	ApprovedAt   string    `json:"approved_at"`
	CandidateIDs []string  `json:"candidate_ids"`
}

// ReceiptLog is the append-only merge receipt log.
type ReceiptLog struct {
	log *JSONLog
}

// NewReceiptLog creates a receipt log at path.
func NewReceiptLog(path string) *ReceiptLog {
	return &ReceiptLog{log: NewJSONLog(path)}
}

// Path returns the log file path.
func (r *ReceiptLog) Path() string { return r.log.Path() }

// Append records an applied receipt.
func (r *ReceiptLog) Append(rec ReceiptRecord) error {
	return r.log.Append(rec)
}

// Records returns every applied receipt in file order.
func (r *ReceiptLog) Records() ([]ReceiptRecord, error) {
	var out []ReceiptRecord
	err := r.log.Scan(func(raw json.RawMessage) error {
		var rec ReceiptRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// Contains reports whether a receipt with digest has already been applied.
func (r *ReceiptLog) Contains(digest string) (bool, error) {
	recs, err := r.Records()
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		if rec.Digest == digest {
			return true, nil
		}
	}
	return false, nil
}
