package images

import "path"

// Image is a stored upload. (Name, Size) identifies its content; records are never
// mutated once inserted.
type Image struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Location  string `json:"location"`
	FullPath  string `json:"fullPath"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Checksum  string `json:"checksum"`
	CreatedAt int64  `json:"createdAt"`

	// URL is resolved from the storage backend per response and never persisted.
	URL string `json:"url,omitempty"`
}

func (i *Image) FileName() string {
	return i.Name + "." + i.Extension
}

// StorageKey is where the original lives in the storage backend.
func (i *Image) StorageKey() string {
	return path.Join(i.Location, i.FileName())
}

// NewImage holds exactly the columns written when an upload is first stored.
type NewImage struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Location  string `json:"location"`
	FullPath  string `json:"fullPath"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Checksum  string `json:"checksum"`
}

func (n *NewImage) StorageKey() string {
	return path.Join(n.Location, n.Name+"."+n.Extension)
}

type Outcome string

const (
	OutcomeRejected Outcome = "rejected"
	OutcomeReused   Outcome = "reused"
	OutcomeStored   Outcome = "stored"
	OutcomeFailed   Outcome = "failed"
)

// Result is what an upload hands back to the caller instead of an error.
type Result struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Outcome Outcome `json:"outcome"`
	Data    *Image  `json:"data,omitempty"`
}

func rejectedResult(message string) *Result {
	return &Result{Success: false, Message: message, Outcome: OutcomeRejected}
}

func reusedResult(existing *Image) *Result {
	return &Result{Success: true, Message: MessageImageReused, Outcome: OutcomeReused, Data: existing}
}

func storedResult(created *Image) *Result {
	return &Result{Success: true, Outcome: OutcomeStored, Data: created}
}

func failedResult(message string) *Result {
	return &Result{Success: false, Message: message, Outcome: OutcomeFailed}
}
