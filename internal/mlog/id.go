package mlog

import "github.com/google/uuid"

// FormatID shortens a deployment ID or wait token for logging.
//
// UUIDs are reduced to their first 8 characters. Other IDs are chosen by the
// submitter and shown in full.
func FormatID(id string) string {
	if len(id) == 36 {
		if _, err := uuid.Parse(id); err == nil {
			return id[:8]
		}
	}

	return id
}
