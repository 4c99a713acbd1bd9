package models

// FileEvent represents a file system event
type FileEvent struct {
	Type  string `json:"type"` // "create", "modify", "delete"
	Path  string `json:"path"`
	IsDir bool   `json:"isDir"`
}
