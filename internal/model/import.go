package model

// ImportRequest triggers an artist import.
type ImportRequest struct {
	ExternalID string `json:"externalId" validate:"required,min=1,max=128"`
}

// CleanupRequest prunes old terminal job records.
type CleanupRequest struct {
	OlderThanHours int `json:"olderThanHours" validate:"required,min=1"`
}

// CleanupResponse reports how many records were removed.
type CleanupResponse struct {
	Deleted int64 `json:"deleted"`
}
