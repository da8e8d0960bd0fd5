package profile

import (
	"fmt"

	"gopkg.in/yaml.v3"

	perrors "github.com/p-blackswan/persona-curator/internal/errors"
	"github.com/p-blackswan/persona-curator/internal/storage"
)

// MinPipelineTier is the tier given to evidence created by the merge pipeline.
const MinPipelineTier = 3

// EvidencePrefix prefixes evidence identifiers.
const EvidencePrefix = "EV"

// EvidenceEntry is an immutable provenance record.
type EvidenceEntry struct {
	ID             string `yaml:"id"`
	Date           string `yaml:"date"`
	Summary        string `yaml:"summary"`
	Tier           int    `yaml:"tier"`
	Channel        string `yaml:"channel,omitempty"`
	CandidateID    string `yaml:"candidate_id,omitempty"`
	ArtifactPath   string `yaml:"artifact_path,omitempty"`
	ArtifactSHA256 string `yaml:"artifact_sha256,omitempty"`
}

// Validate checks the artifact reference is both-or-neither.
func (e EvidenceEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: evidence entry without id", perrors.ErrInvalidInput)
	}
	if (e.ArtifactPath == "") != (e.ArtifactSHA256 == "") {
		return fmt.Errorf("%w: evidence %s: artifact_path and artifact_sha256 must be set together",
			perrors.ErrInvalidInput, e.ID)
	}
	return nil
}

// EvidenceLog is the ordered evidence document.
type EvidenceLog struct {
	Entries []EvidenceEntry `yaml:"entries"`
}

// Find returns the entry with id.
func (l *EvidenceLog) Find(id string) (EvidenceEntry, bool) {
	for _, e := range l.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return EvidenceEntry{}, false
}

// NextID returns the next free evidence identifier.
func (l *EvidenceLog) NextID() string {
	ids := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		ids[i] = e.ID
	}
	return NextID(EvidencePrefix, ids)
}

// Append validates e and adds it to the log.
func (l *EvidenceLog) Append(e EvidenceEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if _, exists := l.Find(e.ID); exists {
		return fmt.Errorf("%w: duplicate evidence id %s", perrors.ErrInvalidInput, e.ID)
	}
	l.Entries = append(l.Entries, e)
	return nil
}

// Clone returns a copy whose entry slice can be appended to independently.
func (l *EvidenceLog) Clone() *EvidenceLog {
	return &EvidenceLog{Entries: append([]EvidenceEntry(nil), l.Entries...)}
}

// LoadEvidence reads the evidence log at path. A missing file yields an empty log.
func LoadEvidence(fsys storage.FS, path string) (*EvidenceLog, error) {
	data, ok, err := storage.ReadOptional(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("evidence: read %s: %w", path, err)
	}
	l := &EvidenceLog{}
	if !ok {
		return l, nil
	}
	if err := yaml.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("evidence: parse %s: %w", path, err)
	}
	return l, nil
}

// Marshal encodes the log as YAML.
func (l *EvidenceLog) Marshal() ([]byte, error) {
	return marshalYAML(l)
}
