package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"script-host/internal/config"
	"script-host/internal/files"
	"script-host/internal/hosting"
	"script-host/internal/monitor"
	"script-host/internal/procman"
	"script-host/internal/runtime"
	"script-host/internal/sharing"
	"script-host/internal/storage"
)

type Handlers struct {
	registry *procman.Registry
	sessions *hosting.Manager
	store    *files.Store
	issuer   *sharing.Issuer
	runtimes *runtime.Registry
	db       *storage.DB
	audit    *storage.AuditWriter
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer

	security   *config.SecurityConfig
	extendStep time.Duration
	publicURL  string
}

// Deps collects the collaborators the handlers operate on. DB and Audit
// are optional.
type Deps struct {
	Registry *procman.Registry
	Sessions *hosting.Manager
	Store    *files.Store
	Issuer   *sharing.Issuer
	Runtimes *runtime.Registry
	DB       *storage.DB
	Audit    *storage.AuditWriter
	Metrics  *monitor.Metrics
	Tracer   *monitor.Tracer
}

func NewHandlers(cfg *config.Config, deps Deps) *Handlers {
	return &Handlers{
		registry:   deps.Registry,
		sessions:   deps.Sessions,
		store:      deps.Store,
		issuer:     deps.Issuer,
		runtimes:   deps.Runtimes,
		db:         deps.DB,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		tracer:     deps.Tracer,
		security:   &cfg.Security,
		extendStep: cfg.Hosting.ExtendStep,
		publicURL:  strings.TrimRight(cfg.Hosting.PublicURL, "/"),
	}
}

func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.OwnerID <= 0 || req.Filename == "" {
		writeError(w, "owner_id and filename are required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	ctx, span := h.tracer.StartSpan(r.Context(), "script.run",
		monitor.AttrOwnerID.Int64(req.OwnerID),
		monitor.AttrFilename.String(req.Filename),
	)
	defer span.End()
	_ = ctx

	path, err := h.store.Resolve(req.OwnerID, req.Filename)
	if err != nil {
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeError(w, "script file not found", "FILE_NOT_FOUND", http.StatusNotFound, r)
		return
	}

	kind := "unknown"
	if rt, err := h.runtimes.ForFile(req.Filename); err == nil {
		kind = rt.Name()
	}

	pid, err := h.registry.Start(req.OwnerID, req.Filename, filepath.Dir(path))
	if err != nil {
		h.metrics.RecordScriptStart(kind, "error")
		h.writeScriptError(w, r, err)
		return
	}
	h.metrics.RecordScriptStart(kind, "started")
	h.sessions.Touch(req.OwnerID)

	stem := strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename))
	writeJSON(w, http.StatusOK, RunResponse{
		OwnerID:  req.OwnerID,
		Filename: req.Filename,
		PID:      pid,
		LogFile:  stem + ".log",
	})
}

func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.OwnerID <= 0 || req.Filename == "" {
		writeError(w, "owner_id and filename are required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	_, span := h.tracer.StartSpan(r.Context(), "script.stop",
		monitor.AttrOwnerID.Int64(req.OwnerID),
		monitor.AttrFilename.String(req.Filename),
	)
	defer span.End()

	if err := h.registry.Stop(req.OwnerID, req.Filename); err != nil {
		h.writeScriptError(w, r, err)
		return
	}
	h.sessions.Touch(req.OwnerID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *Handlers) HandleListScripts(w http.ResponseWriter, r *http.Request) {
	infos := h.registry.Snapshot()

	if q := r.URL.Query().Get("owner_id"); q != "" {
		owner, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeError(w, "invalid owner_id", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filtered := infos[:0]
		for _, info := range infos {
			if info.OwnerID == owner {
				filtered = append(filtered, info)
			}
		}
		infos = filtered
		h.sessions.Touch(owner)
	}

	writeJSON(w, http.StatusOK, infos)
}

// HandleScriptLog serves the run log. With ?follow=1 it streams appended
// output as SSE events until the script stops.
func (h *Handlers) HandleScriptLog(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathOwner(w, r)
	if !ok {
		return
	}
	filename := r.PathValue("file")

	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	logPath, err := h.store.Resolve(owner, stem+".log")
	if err != nil {
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	h.sessions.Touch(owner)

	if r.URL.Query().Get("follow") == "" {
		f, err := os.Open(logPath) // #nosec G304 -- resolved by the store
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, "log not found", "NOT_FOUND", http.StatusNotFound, r)
			return
		}
		if err != nil {
			writeError(w, "opening log", "INTERNAL", http.StatusInternalServerError, r)
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.Copy(w, f)
		return
	}

	out := NewSSEWriter(w, "log")
	if out == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	stopped := func() bool { return !h.registry.IsRunning(owner, filename) }
	if err := tailFile(r.Context(), logPath, out, stopped); err != nil {
		log.Warn().Err(err).Str("log", logPath).Msg("log tail ended with error")
		return
	}
	sendSSEDone(w, `{"status":"ended"}`)
}

func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.OwnerID <= 0 {
		writeError(w, "owner_id is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	tier := hosting.TierRegular
	switch {
	case h.security.IsOwner(req.OwnerID):
		tier = hosting.TierOwner
	case h.security.IsAdmin(req.OwnerID):
		tier = hosting.TierAdmin
	}

	_, span := h.tracer.StartSpan(r.Context(), "session.create",
		monitor.AttrOwnerID.Int64(req.OwnerID),
		monitor.AttrTier.String(tier.String()),
	)
	defer span.End()

	grant := h.sessions.Create(req.OwnerID, req.DisplayName, tier)
	h.auditSession(req.OwnerID, tier.String(), "created", "")

	writeJSON(w, http.StatusOK, grant)
}

func (h *Handlers) HandleExtendSession(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if !h.sessions.Extend(req.OwnerID, h.extendStep) {
		writeError(w, "no active session", "SESSION_NOT_FOUND", http.StatusNotFound, r)
		return
	}
	h.auditSession(req.OwnerID, "", "extended", "")

	writeJSON(w, http.StatusOK, h.sessions.Status(req.OwnerID))
}

func (h *Handlers) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathOwner(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.sessions.Status(owner))
}

func (h *Handlers) HandleRevokeSession(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathOwner(w, r)
	if !ok {
		return
	}
	h.sessions.Terminate(owner, "revoked by operator")
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// HandleUpload accepts a multipart file upload. ZIP archives are extracted
// into the owner's folder; anything else is stored as a single file.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathOwner(w, r)
	if !ok {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, "multipart field 'file' required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	h.sessions.Touch(owner)

	if strings.EqualFold(filepath.Ext(name), ".zip") {
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, "reading upload", "INTERNAL", http.StatusInternalServerError, r)
			return
		}
		h.metrics.UploadSizeBytes.Observe(float64(len(data)))
		names, err := h.store.ExtractZip(owner, bytes.NewReader(data), int64(len(data)))
		if err != nil {
			h.writeFileError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, UploadResponse{Files: names})
		return
	}

	n, err := h.store.Save(owner, name, file)
	if err != nil {
		h.writeFileError(w, r, err)
		return
	}
	h.metrics.UploadSizeBytes.Observe(float64(n))
	writeJSON(w, http.StatusOK, UploadResponse{Files: []string{name}})
}

func (h *Handlers) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathOwner(w, r)
	if !ok {
		return
	}
	entries, err := h.store.List(owner)
	if err != nil {
		writeError(w, "listing files", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	h.sessions.Touch(owner)
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathOwner(w, r)
	if !ok {
		return
	}
	name := r.PathValue("file")

	// A running script holds its log sink open; stop it before removing.
	if h.registry.IsRunning(owner, name) {
		writeError(w, "script is running, stop it first", "SCRIPT_RUNNING", http.StatusConflict, r)
		return
	}

	if err := h.store.Delete(owner, name); err != nil {
		h.writeFileError(w, r, err)
		return
	}
	h.sessions.Touch(owner)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handlers) HandleShare(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	f, err := h.store.Open(req.OwnerID, req.Filename)
	if err != nil {
		h.writeFileError(w, r, err)
		return
	}
	f.Close()

	token, expires, err := h.issuer.Issue(req.OwnerID, req.Filename)
	if err != nil {
		writeError(w, "issuing link", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	h.metrics.ShareLinksIssued.Inc()
	h.sessions.Touch(req.OwnerID)

	writeJSON(w, http.StatusOK, ShareResponse{
		URL:       h.publicURL + "/share/" + token,
		Token:     token,
		ExpiresAt: expires,
	})
}

// HandleDownloadShared serves a file through a redeemed share link. This
// route is unauthenticated; the token is the credential.
func (h *Handlers) HandleDownloadShared(w http.ResponseWriter, r *http.Request) {
	claims, err := h.issuer.Redeem(r.PathValue("token"))
	if err != nil {
		if errors.Is(err, sharing.ErrLinkExpired) {
			writeError(w, "share link expired", "LINK_EXPIRED", http.StatusGone, r)
			return
		}
		writeError(w, "share link invalid", "LINK_INVALID", http.StatusUnauthorized, r)
		return
	}

	f, err := h.store.Open(claims.OwnerID, claims.Filename)
	if err != nil {
		h.writeFileError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", `attachment; filename="`+claims.Filename+`"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, f)
}

// HandleListRuns exposes the audit trail of past script runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.RunFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  100,
	}
	if q := r.URL.Query().Get("owner_id"); q != "" {
		owner, err := strconv.ParseInt(q, 10, 64)
		if err != nil {
			writeError(w, "invalid owner_id", "INVALID_REQUEST", http.StatusBadRequest, r)
			return
		}
		filter.OwnerID = owner
	}

	runs, err := h.db.ListScriptRuns(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handlers) auditSession(ownerID int64, tier, event, reason string) {
	if h.audit == nil {
		return
	}
	h.audit.LogSession(&storage.SessionEvent{
		OwnerID:   ownerID,
		Tier:      tier,
		Event:     event,
		Reason:    reason,
		CreatedAt: time.Now(),
	})
}

func (h *Handlers) writeScriptError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case procman.IsAlreadyRunning(err):
		writeError(w, err.Error(), "ALREADY_RUNNING", http.StatusConflict, r)
	case procman.IsNotRunning(err):
		writeError(w, err.Error(), "NOT_RUNNING", http.StatusNotFound, r)
	case errors.Is(err, procman.ErrInterpreterMissing):
		writeError(w, err.Error(), "INTERPRETER_MISSING", http.StatusUnprocessableEntity, r)
	case errors.Is(err, procman.ErrSpawnFailed):
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("script spawn failed")
		writeError(w, "failed to start script", "SPAWN_FAILED", http.StatusInternalServerError, r)
	default:
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
	}
}

func (h *Handlers) writeFileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, files.ErrNotFound):
		writeError(w, err.Error(), "NOT_FOUND", http.StatusNotFound, r)
	case errors.Is(err, files.ErrInvalidName), errors.Is(err, files.ErrArchiveInvalid):
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
	case errors.Is(err, files.ErrTooLarge):
		writeError(w, err.Error(), "TOO_LARGE", http.StatusRequestEntityTooLarge, r)
	default:
		writeError(w, "file operation failed", "INTERNAL", http.StatusInternalServerError, r)
	}
}

func pathOwner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	owner, err := strconv.ParseInt(r.PathValue("owner"), 10, 64)
	if err != nil || owner <= 0 {
		writeError(w, "invalid owner id", "INVALID_REQUEST", http.StatusBadRequest, r)
		return 0, false
	}
	return owner, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
