package models

// These structs define the JSON payloads exchanged with the loader functions
// and the downstream workflow.

// MonthLoadRequest is the input for the month-loader function.
type MonthLoadRequest struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// MonthLoadResponse is the output of the month-loader function.
type MonthLoadResponse struct {
	Status    string `json:"status"`
	FileName  string `json:"fileName"`
	SizeBytes int64  `json:"sizeBytes"`
}

// BlobCreatedEvent is the data section of a Microsoft.Storage.BlobCreated
// event delivered by Event Grid in the CloudEvents schema.
type BlobCreatedEvent struct {
	API           string `json:"api"`
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
	BlobType      string `json:"blobType"`
	URL           string `json:"url"`
}

// WorkflowHandoff is the argument passed to the downstream workflow once a run has
// loaded its files.
type WorkflowHandoff struct {
	RunID       string   `json:"runId"`
	Database    string   `json:"database"`
	Table       string   `json:"table"`
	LoadedFiles []string `json:"loadedFiles"`
}
