package types

type EnqueueRequest struct {
	Command string `json:"command"`
}

type EnqueueResponse struct {
	OK      bool   `json:"ok"`
	Serial  string `json:"serial"`
	Queued  bool   `json:"queued"`
	Pending int    `json:"pending"`
	Command string `json:"command,omitempty"`
}

type ClearResponse struct {
	OK            bool   `json:"ok"`
	Serial        string `json:"serial"`
	DroppedQueued int    `json:"dropped_queued"`
	DroppedLedger int    `json:"dropped_ledger"`
}

type GrantRequest struct {
	PIN     string   `json:"pin,omitempty"`
	Name    string   `json:"name"`
	Start   string   `json:"start"` // RFC3339
	End     string   `json:"end"`   // RFC3339
	Devices []string `json:"devices"`
}

type GrantDeviceResult struct {
	Serial    string `json:"serial"`
	NoOp      bool   `json:"noop"`
	Scheduled bool   `json:"scheduled"`
}

type GrantResponse struct {
	OK      bool                `json:"ok"`
	PIN     string              `json:"pin"`
	Name    string              `json:"name"`
	Start   string              `json:"start"`
	End     string              `json:"end"`
	Devices []GrantDeviceResult `json:"devices"`
}

type GrantView struct {
	PIN              string `json:"pin"`
	Serial           string `json:"serial"`
	Name             string `json:"name"`
	Start            string `json:"start"`
	End              string `json:"end"`
	RemainingSeconds int64  `json:"remaining_s"`
}

type GrantListResponse struct {
	OK     bool        `json:"ok"`
	Grants []GrantView `json:"grants"`
}

type BackupRequest struct {
	Users      bool   `json:"users"`
	AttLogs    bool   `json:"attlogs"`
	Biometrics bool   `json:"biometrics"`
	Faces      bool   `json:"faces"`
	Config     bool   `json:"config"`
	From       string `json:"from,omitempty"` // RFC3339, attendance only
	To         string `json:"to,omitempty"`
}

type BackupResponse struct {
	OK               bool     `json:"ok"`
	Serial           string   `json:"serial"`
	Commands         []string `json:"commands"`
	EstimatedSeconds int64    `json:"estimated_s"`
	Estimate         string   `json:"estimate"`
}

type CommandView struct {
	ID          int64  `json:"id"`
	Command     string `json:"command"`
	QueuedAt    string `json:"queued_at"`
	DeliveredAt string `json:"delivered_at,omitempty"`
	Bytes       int    `json:"bytes,omitempty"`
	ExecutedAt  string `json:"executed_at,omitempty"`
	StaleAt     string `json:"stale_at,omitempty"`
	ReturnCode  *int   `json:"return_code,omitempty"`
	Remote      string `json:"remote,omitempty"`
}

type LedgerSummary struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Executed  int `json:"executed"`
	Stale     int `json:"stale"`
	Pending   int `json:"pending"` // delivered, not executed, not stale
}

type DeviceStatus struct {
	Serial   string        `json:"serial"`
	LastSeen string        `json:"last_seen,omitempty"`
	SeenAgo  string        `json:"seen_ago,omitempty"`
	Queued   []string      `json:"queued"`
	Ledger   LedgerSummary `json:"ledger"`
	Recent   []CommandView `json:"recent,omitempty"`
}

type FollowUpStats struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type StatusResponse struct {
	OK       bool           `json:"ok"`
	Devices  []DeviceStatus `json:"devices"`
	FollowUp FollowUpStats  `json:"follow_up"`
}

type DeviceView struct {
	Serial               string            `json:"serial"`
	FirstSeen            string            `json:"first_seen,omitempty"`
	LastSeen             string            `json:"last_seen,omitempty"`
	SeenAgo              string            `json:"seen_ago,omitempty"`
	LastCursor           string            `json:"last_cursor,omitempty"`
	LastConnectivityTest string            `json:"last_connectivity_test,omitempty"`
	LastRemote           string            `json:"last_remote,omitempty"`
	PinField             string            `json:"pin_field,omitempty"`
	Status               map[string]string `json:"status,omitempty"`
	Users                int               `json:"users"`
}

type DeviceListResponse struct {
	OK      bool         `json:"ok"`
	Devices []DeviceView `json:"devices"`
}

type CancelGrantResponse struct {
	OK     bool   `json:"ok"`
	Serial string `json:"serial"`
	PIN    string `json:"pin"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
