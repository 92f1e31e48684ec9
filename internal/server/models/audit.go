package models

// AuditEntry records one security-relevant event. Entries are append-only
// and encrypted line by line at rest.
type AuditEntry struct {
	Event     string `json:"event"` // "registered" or "reconnected"
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Addr      string `json:"addr"`
	Timestamp string `json:"timestamp"`
}
