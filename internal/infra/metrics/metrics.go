// Package metrics provides Prometheus metrics for the negotiation core:
// counters, gauges and histograms for dispatch, verification, protocol
// traffic and payments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Dispatch ───────────────────────────────────────────────────────────────

// SubtasksDispatched counts subtask assignments by task kind.
var SubtasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "subtasks_dispatched_total",
	Help:      "Total subtasks dispatched to peers.",
}, []string{"kind"})

// SubtasksVerified counts results that passed verification.
var SubtasksVerified = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "subtasks_verified_total",
	Help:      "Total subtask results accepted by verification.",
}, []string{"kind"})

// SubtasksRejected counts results judged WrongAnswer.
var SubtasksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "subtasks_rejected_total",
	Help:      "Total subtask results rejected by verification.",
}, []string{"kind"})

// SubtasksFailed counts computation-failure reports.
var SubtasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "subtasks_failed_total",
	Help:      "Total subtask attempts reported failed by peers.",
}, []string{"kind"})

// SubtasksExpired counts dispatched records reclaimed by the deadline sweep.
var SubtasksExpired = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "subtasks_expired_total",
	Help:      "Total dispatched subtasks expired past their effective deadline.",
}, []string{"kind"})

// ─── Verification ───────────────────────────────────────────────────────────

// VerificationSeconds tracks verification run duration.
var VerificationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "krill",
	Name:      "verification_seconds",
	Help:      "Result verification duration in seconds.",
	Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
})

// ─── Negotiation Protocol ───────────────────────────────────────────────────

// MessagesReceived counts inbound negotiation messages by type.
var MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "negotiation_messages_received_total",
	Help:      "Total inbound negotiation messages.",
}, []string{"type"})

// MessagesSent counts outbound negotiation messages by type.
var MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "negotiation_messages_sent_total",
	Help:      "Total outbound negotiation messages.",
}, []string{"type"})

// RejectionsSent counts typed protocol rejections by stage and reason.
// Rejections are protocol events, not errors.
var RejectionsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "negotiation_rejections_total",
	Help:      "Total typed rejections sent, by negotiation stage and reason.",
}, []string{"stage", "reason"})

// SessionsActive tracks live peer sessions.
var SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "krill",
	Name:      "peer_sessions_active",
	Help:      "Number of live peer sessions.",
})

// ─── Payments ───────────────────────────────────────────────────────────────

// PaymentsSettled counts subtask payments settled in the local ledger.
var PaymentsSettled = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "payments_settled_total",
	Help:      "Total subtask payments settled.",
})

// RewardsConfirmed counts on-chain payment confirmations received.
var RewardsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "krill",
	Name:      "rewards_confirmed_total",
	Help:      "Total subtask rewards confirmed by paying peers.",
})

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksActive tracks tasks currently held by the lifecycle manager.
var TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "krill",
	Name:      "tasks_active",
	Help:      "Number of tasks held by the lifecycle manager.",
})
