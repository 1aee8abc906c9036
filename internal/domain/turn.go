package domain

import "time"

// LogStatus is the state of one progress log entry
type LogStatus string

const (
	LogStatusProcessing LogStatus = "processing"
	LogStatusCompleted  LogStatus = "completed"
)

// LogEntry is one line of the progress log shown in the chat UI
type LogEntry struct {
	Message string    `json:"message"`
	Status  LogStatus `json:"status"`
}

// CanvasStatus is the lightweight headline shown above the product canvas
type CanvasStatus struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

// TurnRequest is one product research request from the chat UI
type TurnRequest struct {
	Query     string   `json:"query" binding:"required"`
	Retailers []string `json:"retailers,omitempty"`
}

// TurnResult is the outcome of a finished research turn
type TurnResult struct {
	TurnID    string       `json:"turnId"`
	Query     string       `json:"query"`
	Products  []Product    `json:"products"`
	Buffer    []Product    `json:"bufferProducts"`
	Logs      []LogEntry   `json:"logs"`
	Canvas    CanvasStatus `json:"canvas"`
	Source    string       `json:"source"` // "Live" or "Cache"
	CreatedAt time.Time    `json:"createdAt"`
}
