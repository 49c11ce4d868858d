// Package api provides the local HTTP control surface for the node:
// task submission, lifecycle actions, payment history and metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krill-network/krill/internal/app/compute"
	"github.com/krill-network/krill/internal/app/lifecycle"
	"github.com/krill-network/krill/internal/app/payment"
	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/health"
	"github.com/krill-network/krill/internal/infra/headers"
)

// Version is the control API version string.
const Version = "0.1.0"

// SubmitTaskRequest is the task submission payload.
type SubmitTaskRequest struct {
	Definition domain.TaskDefinition `json:"definition"`
	SrcCode    string                `json:"src_code"`
}

// ConfirmPaymentRequest carries the on-chain facts for a settled
// payment: the transaction that paid it and the block it landed in.
type ConfirmPaymentRequest struct {
	TransactionID string `json:"transaction_id"`
	BlockNumber   int64  `json:"block_number"`
}

// Submitter turns a submission into a registered task. The daemon
// provides it; tests substitute their own.
type Submitter func(req SubmitTaskRequest) (domain.TaskSummary, error)

// NodeInfo is the identity block reported by /api/status.
type NodeInfo struct {
	Name   string `json:"name"`
	PubKey string `json:"pub_key"`
}

// Server is the krill HTTP control server.
type Server struct {
	manager        *lifecycle.Manager
	keeper         *headers.Keeper
	payments       *payment.Service
	tracker        *compute.Tracker
	submit         Submitter
	node           NodeInfo
	healthSource   func() []health.Status
	metricsEnabled bool
}

// NewServer creates a new control server.
func NewServer(manager *lifecycle.Manager, keeper *headers.Keeper,
	payments *payment.Service, tracker *compute.Tracker,
	submit Submitter, node NodeInfo) *Server {
	return &Server{
		manager:  manager,
		keeper:   keeper,
		payments: payments,
		tracker:  tracker,
		submit:   submit,
		node:     node,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealthSource wires the node's self-check results into /health.
func (s *Server) SetHealthSource(fn func() []health.Status) { s.healthSource = fn }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleSubmitTask)
			r.Get("/{taskID}", s.handleGetTask)
			r.Post("/{taskID}/abort", s.handleAbortTask)
			r.Post("/{taskID}/restart", s.handleRestartTask)
			r.Get("/{taskID}/payments", s.handleTaskPayments)
		})

		r.Post("/subtasks/{subtaskID}/restart", s.handleRestartSubtask)
		r.Get("/payments", s.handlePayments)
		r.Post("/payments/{subtaskID}/confirm", s.handleConfirmPayment)
		r.Get("/headers", s.handleHeaders)
		r.Get("/assignments", s.handleAssignments)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthSource == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	checks := s.healthSource()
	status, code := "ok", http.StatusOK
	for _, c := range checks {
		if !c.Healthy {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, map[string]any{
		"status": status,
		"checks": checks,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node":          s.node,
		"version":       Version,
		"tasks":         len(s.manager.List()),
		"known_headers": s.keeper.Len(),
		"assignments":   len(s.tracker.Assignments()),
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed submission: "+err.Error())
		return
	}

	summary, err := s.submit(req)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidDefinition) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ctrl := s.manager.Get(chi.URLParam(r, "taskID"))
	if ctrl == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Summary())
}

func (s *Server) handleAbortTask(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Abort(chi.URLParam(r, "taskID")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func (s *Server) handleRestartTask(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Restart(chi.URLParam(r, "taskID")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

func (s *Server) handleRestartSubtask(w http.ResponseWriter, r *http.Request) {
	err := s.manager.RestartSubtask(chi.URLParam(r, "subtaskID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

func (s *Server) handleTaskPayments(w http.ResponseWriter, r *http.Request) {
	s.writePayments(w, chi.URLParam(r, "taskID"))
}

func (s *Server) handlePayments(w http.ResponseWriter, r *http.Request) {
	s.writePayments(w, "")
}

func (s *Server) writePayments(w http.ResponseWriter, taskID string) {
	records, err := s.payments.History(taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []domain.PaymentRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed confirmation: "+err.Error())
		return
	}
	if req.TransactionID == "" || req.BlockNumber == 0 {
		writeError(w, http.StatusUnprocessableEntity, "confirmation needs both a transaction id and a block number")
		return
	}

	subtaskID := chi.URLParam(r, "subtaskID")
	if err := s.payments.RecordConfirmation(subtaskID, req.TransactionID, req.BlockNumber); err != nil {
		if errors.Is(err, domain.ErrUnknownSubtask) {
			writeError(w, http.StatusNotFound, "no payment for subtask "+subtaskID)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) handleHeaders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.keeper.List())
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Assignments())
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}
