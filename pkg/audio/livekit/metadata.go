package livekit

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Metadata is the JSON a student's access token carries in the participant
// metadata field.
type Metadata struct {
	// DocumentID selects the study document the tutor consults.
	DocumentID string `json:"documentId"`

	// PDFID is the key older web clients send. It is used when DocumentID
	// is empty.
	PDFID string `json:"pdfId,omitempty"`
}

// ParseMetadata decodes raw participant metadata. Empty input yields a zero
// Metadata.
func ParseMetadata(raw string) (Metadata, error) {
	var m Metadata
	if strings.TrimSpace(raw) == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Metadata{}, fmt.Errorf("livekit: parse participant metadata: %w", err)
	}
	if m.DocumentID == "" {
		m.DocumentID = m.PDFID
	}
	return m, nil
}
