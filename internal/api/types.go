package api

import "time"

// RunRequest asks the service to start a script from the owner's folder.
type RunRequest struct {
	OwnerID  int64  `json:"owner_id"`
	Filename string `json:"filename"`
}

// RunResponse reports a successfully started script.
type RunResponse struct {
	OwnerID  int64  `json:"owner_id"`
	Filename string `json:"filename"`
	PID      int    `json:"pid"`
	LogFile  string `json:"log_file"`
}

// StopRequest asks the service to stop a running script.
type StopRequest struct {
	OwnerID  int64  `json:"owner_id"`
	Filename string `json:"filename"`
}

// SessionRequest asks for a web-panel session. The tier is derived from
// the configured owner/admin allowlists, never from the request.
type SessionRequest struct {
	OwnerID     int64  `json:"owner_id"`
	DisplayName string `json:"display_name"`
}

// ExtendRequest pushes a session's expiry later by the configured step.
type ExtendRequest struct {
	OwnerID int64 `json:"owner_id"`
}

// ShareRequest asks for an expiring download link.
type ShareRequest struct {
	OwnerID  int64  `json:"owner_id"`
	Filename string `json:"filename"`
}

// ShareResponse carries the issued link.
type ShareResponse struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// UploadResponse lists the files written by an upload.
type UploadResponse struct {
	Files []string `json:"files"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status         string `json:"status"`
	Database       bool   `json:"database"`
	ScriptsRunning int    `json:"scripts_running"`
	SessionsActive int    `json:"sessions_active"`
	Uptime         string `json:"uptime"`
}
