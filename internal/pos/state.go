package pos

import "time"

// Mode is the connectivity mode of a terminal.
type Mode string

const (
	ModeOnline       Mode = "ONLINE"
	ModeOffline      Mode = "OFFLINE"
	ModeReconnecting Mode = "RECONNECTING"
)

// ConnectionState describes which authority the terminal is talking to and
// whether it is reachable.
type ConnectionState struct {
	Mode         Mode      `json:"mode"`
	Endpoint     string    `json:"endpoint"`
	Reconnecting bool      `json:"reconnecting"`
	LastError    string    `json:"last_error,omitempty"`
	Since        time.Time `json:"since"`
}

// Online reports whether the authority is the effective target.
func (c ConnectionState) Online() bool {
	return c.Mode == ModeOnline
}

// Status is the snapshot polled by the UI. Building it never touches the
// network.
type Status struct {
	Connection   ConnectionState `json:"connection"`
	LastSyncAt   *time.Time      `json:"last_sync_at,omitempty"`
	PendingCount int             `json:"pending_count"`
	FailedCount  int             `json:"failed_count"`
	CacheSize    int             `json:"cache_size"`
}
