package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID.
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewSubmissionID generates a unique submission ID.
// Format: sub_<uuid>
func NewSubmissionID() string {
	return "sub_" + uuid.New().String()
}

// NewArtifactID generates a unique artifact ID.
// Format: art_<uuid>
func NewArtifactID() string {
	return "art_" + uuid.New().String()
}

// NewUsageID generates a unique usage record ID.
// Format: use_<uuid>
func NewUsageID() string {
	return "use_" + uuid.New().String()
}

// NewNotificationID generates a unique notification ID.
// Format: ntf_<uuid>
func NewNotificationID() string {
	return "ntf_" + uuid.New().String()
}

// NewRequestID generates a correlation ID for an HTTP request.
// Format: req_<uuid>
func NewRequestID() string {
	return "req_" + uuid.New().String()
}
