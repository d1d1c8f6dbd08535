package models

import "time"

// Submission captures the form values a job executes against. Data maps
// field IDs to submitted values; FieldLabels resolves field IDs to their
// human labels when the form schema is known.
type Submission struct {
	ID          string                 `json:"id"`
	TenantID    string                 `json:"tenant_id"`
	FormID      string                 `json:"form_id,omitempty"`
	Data        map[string]interface{} `json:"submission_data"`
	FieldLabels map[string]string      `json:"field_labels,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Label resolves a field ID to its label, defaulting to the field ID.
func (s *Submission) Label(fieldID string) string {
	if s.FieldLabels != nil {
		if label, ok := s.FieldLabels[fieldID]; ok && label != "" {
			return label
		}
	}
	return fieldID
}
