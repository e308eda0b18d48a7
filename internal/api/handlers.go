// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cellar-sync/cellar/internal/account"
	"github.com/cellar-sync/cellar/internal/ledger"
	"github.com/cellar-sync/cellar/internal/transfer"
)

type sessionResponse struct {
	Status      string `json:"status"`
	AccountID   string `json:"account_id,omitempty"`
	CustomColor string `json:"custom_color,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{Status: string(s.sessions.Current())}
	if id, ok := s.sessions.AccountID().Get(); ok {
		resp.AccountID = id
	}
	if color, ok := s.sessions.CustomColor().Get(); ok {
		resp.CustomColor = color
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type accountResponse struct {
	ID          string `json:"id"`
	ServerURL   string `json:"server_url"`
	Username    string `json:"username"`
	Generation  string `json:"generation"`
	CustomColor string `json:"custom_color,omitempty"`
}

func toAccountResponse(a account.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		ServerURL:   a.ServerURL,
		Username:    a.Username,
		Generation:  string(a.Generation),
		CustomColor: a.CustomColor,
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.Accounts(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, r, http.StatusOK, out)
}

type registerAccountRequest struct {
	ID          string `json:"id"`
	ServerURL   string `json:"server_url"`
	Username    string `json:"username"`
	Generation  string `json:"generation"`
	CustomColor string `json:"custom_color"`
}

func (s *Server) handleRegisterAccount(w http.ResponseWriter, r *http.Request) {
	var req registerAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.ServerURL == "" {
		writeError(w, r, http.StatusBadRequest, "id and server_url are required")
		return
	}
	gen := account.Generation(req.Generation)
	if gen == "" {
		gen = account.GenModern
	}
	if gen != account.GenModern && gen != account.GenLegacy {
		writeError(w, r, http.StatusBadRequest, "generation must be modern or legacy")
		return
	}

	err := s.accounts.Register(r.Context(), account.Account{
		ID:          req.ID,
		ServerURL:   req.ServerURL,
		Username:    req.Username,
		Generation:  gen,
		CustomColor: req.CustomColor,
	})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleForeground(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if err := s.accounts.SwitchForeground(r.Context(), accountID); err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type jobResponse struct {
	ID              int64  `json:"id"`
	Owner           string `json:"owner"`
	Template        string `json:"template"`
	Label           string `json:"label"`
	ParentID        int64  `json:"parent_id,omitempty"`
	Status          string `json:"status"`
	Progress        int64  `json:"progress"`
	Total           int64  `json:"total"`
	StartTime       int64  `json:"start_time"`
	DoneTime        int64  `json:"done_time,omitempty"`
	Message         string `json:"message,omitempty"`
	ProgressMessage string `json:"progress_message,omitempty"`
}

func toJobResponse(j ledger.Job) jobResponse {
	return jobResponse{
		ID:              j.ID,
		Owner:           j.Owner,
		Template:        j.Template,
		Label:           j.Label,
		ParentID:        j.ParentID,
		Status:          string(j.Status),
		Progress:        j.Progress,
		Total:           j.Total,
		StartTime:       j.StartTime,
		DoneTime:        j.DoneTime,
		Message:         j.Message,
		ProgressMessage: j.ProgressMessage,
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	jobs, err := s.jobs.Jobs(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleClearJobs(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.ClearTerminated(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type logResponse struct {
	ID        int64  `json:"id"`
	Level     string `json:"level"`
	Tag       string `json:"tag,omitempty"`
	Message   string `json:"message"`
	CallerID  string `json:"caller_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 200)
	entries, err := s.jobs.Logs(r.Context(), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]logResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, logResponse{
			ID:        e.ID,
			Level:     e.Level,
			Tag:       e.Tag,
			Message:   e.Message,
			CallerID:  e.CallerID,
			Timestamp: e.Timestamp,
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.ClearLogs(r.Context()); err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

type transferResponse struct {
	ID          int64  `json:"id"`
	AccountID   string `json:"account_id"`
	NodePath    string `json:"node_path"`
	Type        string `json:"type"`
	LocalPath   string `json:"local_path"`
	Size        int64  `json:"size"`
	Transferred int64  `json:"transferred"`
	Status      string `json:"status"`
	Owner       string `json:"owner"`
	CreatedAt   int64  `json:"created_at"`
	StartedAt   int64  `json:"started_at,omitempty"`
	DoneAt      int64  `json:"done_at,omitempty"`
	Error       string `json:"error,omitempty"`
}

func toTransferResponse(t transfer.Transfer) transferResponse {
	return transferResponse{
		ID:          t.ID,
		AccountID:   t.AccountID,
		NodePath:    t.NodePath,
		Type:        string(t.Type),
		LocalPath:   t.LocalPath,
		Size:        t.Size,
		Transferred: t.Transferred,
		Status:      string(t.Status),
		Owner:       t.Owner,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		DoneAt:      t.DoneAt,
		Error:       t.Error,
	}
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	filter := transfer.Filter{Status: transfer.Status(r.URL.Query().Get("status"))}
	order := transfer.OrderByCreated
	if r.URL.Query().Get("order") == string(transfer.OrderByStatus) {
		order = transfer.OrderByStatus
	}

	transfers, err := s.transfers.QueryTransfers(r.Context(), accountID, filter, order)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toTransferResponse(t))
	}
	writeJSON(w, r, http.StatusOK, out)
}

type downloadRequest struct {
	NodePath string `json:"node_path"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NodePath == "" {
		writeError(w, r, http.StatusBadRequest, "node_path is required")
		return
	}

	rec, err := s.transfers.PrepareDownload(r.Context(), accountID, req.NodePath, transfer.OwnerUser)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	s.transfers.Launch(rec.ID)
	writeJSON(w, r, http.StatusAccepted, toTransferResponse(*rec))
}

type uploadRequest struct {
	ParentPath string `json:"parent_path"`
	LocalPath  string `json:"local_path"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParentPath == "" || req.LocalPath == "" {
		writeError(w, r, http.StatusBadRequest, "parent_path and local_path are required")
		return
	}

	rec, err := s.transfers.EnqueueUpload(r.Context(), accountID, req.ParentPath, req.LocalPath, transfer.OwnerUser)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, r, http.StatusAccepted, toTransferResponse(*rec))
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	accountID, id, ok := transferParams(w, r)
	if !ok {
		return
	}
	rec, err := s.transfers.GetRecord(r.Context(), accountID, id)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, r, http.StatusNotFound, "transfer not found")
		return
	}
	writeJSON(w, r, http.StatusOK, toTransferResponse(*rec))
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transferAction(w, r, s.transfers.PauseOne)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.transferAction(w, r, s.transfers.ResumeOne)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.transferAction(w, r, func(ctx context.Context, accountID string, id int64) error {
		return s.transfers.CancelTransfer(ctx, accountID, id, transfer.OwnerUser)
	})
}

func (s *Server) handleRemoveTransfer(w http.ResponseWriter, r *http.Request) {
	s.transferAction(w, r, s.transfers.RemoveOne)
}

func (s *Server) handleClearTransfers(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if err := s.transfers.ClearTerminated(r.Context(), accountID); err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) transferAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, accountID string, id int64) error) {
	accountID, id, ok := transferParams(w, r)
	if !ok {
		return
	}
	if err := action(r.Context(), accountID, id); err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func transferParams(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	accountID := chi.URLParam(r, "accountID")
	id, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid transfer id")
		return "", 0, false
	}
	return accountID, id, true
}
