package models

// Message is one delivered chat or file message, immutable once appended to
// history. For file transfers Filename, FileData (base64) and FileSize are
// set; for chat messages Content is set.
type Message struct {
	Kind      string `json:"type"` // "message" or "file"
	From      string `json:"from"`
	To        string `json:"to"` // user identifier or the broadcast marker
	Content   string `json:"content,omitempty"`
	Filename  string `json:"filename,omitempty"`
	FileData  string `json:"fileData,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	Timestamp string `json:"timestamp"`
}
