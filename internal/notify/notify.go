// Package notify delivers fire-and-forget notifications to cooks and
// platform operators.
//
// Dispatch is a message-passing boundary: it happens after the financial
// mutation commits, and a delivery failure is logged but never rolls
// back or vetoes the mutation that triggered it.
package notify

import (
	"log/slog"
	"sync"

	"github.com/dishpay/dishpay/internal/money"
	"github.com/prometheus/client_golang/prometheus"
)

var notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "dishpay",
	Subsystem: "notify",
	Name:      "events_total",
	Help:      "Total notification events emitted by type.",
}, []string{"event"})

func init() {
	prometheus.MustRegister(notificationsTotal)
}

// Event is a captured notification (used by the memory notifier).
type Event struct {
	Type     string
	TenantID string
	CookID   string
	Amount   money.Cents
	Orders   []string
	Detail   string
}

// Notifier delivers payout lifecycle events. Implementations must never
// block money movement; errors stay inside the notifier.
type Notifier interface {
	// FundsWithdrawable tells a cook their held funds cleared. One call
	// covers every order cleared for the cook in a single sweep.
	FundsWithdrawable(tenantID, cookID string, total money.Cents, orders []string)
	WithdrawalSucceeded(tenantID, cookID string, amount money.Cents, reference string)
	WithdrawalFailed(tenantID, cookID string, amount money.Cents, reason string)
	// OpsEscalation alerts platform operators (manual payout queue).
	OpsEscalation(tenantID, cookID string, amount money.Cents, detail string)
}

// LogNotifier writes notifications to the structured log. Stands in for
// the real push/SMS channel, which lives outside this core.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) FundsWithdrawable(tenantID, cookID string, total money.Cents, orders []string) {
	notificationsTotal.WithLabelValues("funds_withdrawable").Inc()
	n.logger.Info("notify: funds withdrawable",
		"tenant", tenantID, "cook", cookID, "total", total.String(), "orders", len(orders))
}

func (n *LogNotifier) WithdrawalSucceeded(tenantID, cookID string, amount money.Cents, reference string) {
	notificationsTotal.WithLabelValues("withdrawal_succeeded").Inc()
	n.logger.Info("notify: withdrawal succeeded",
		"tenant", tenantID, "cook", cookID, "amount", amount.String(), "reference", reference)
}

func (n *LogNotifier) WithdrawalFailed(tenantID, cookID string, amount money.Cents, reason string) {
	notificationsTotal.WithLabelValues("withdrawal_failed").Inc()
	n.logger.Info("notify: withdrawal failed",
		"tenant", tenantID, "cook", cookID, "amount", amount.String(), "reason", reason)
}

func (n *LogNotifier) OpsEscalation(tenantID, cookID string, amount money.Cents, detail string) {
	notificationsTotal.WithLabelValues("ops_escalation").Inc()
	n.logger.Warn("notify: ops escalation",
		"tenant", tenantID, "cook", cookID, "amount", amount.String(), "detail", detail)
}

// MemoryNotifier captures events for tests.
type MemoryNotifier struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryNotifier creates a capturing notifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (n *MemoryNotifier) record(e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *MemoryNotifier) FundsWithdrawable(tenantID, cookID string, total money.Cents, orders []string) {
	n.record(Event{Type: "funds_withdrawable", TenantID: tenantID, CookID: cookID, Amount: total, Orders: orders})
}

func (n *MemoryNotifier) WithdrawalSucceeded(tenantID, cookID string, amount money.Cents, reference string) {
	n.record(Event{Type: "withdrawal_succeeded", TenantID: tenantID, CookID: cookID, Amount: amount, Detail: reference})
}

func (n *MemoryNotifier) WithdrawalFailed(tenantID, cookID string, amount money.Cents, reason string) {
	n.record(Event{Type: "withdrawal_failed", TenantID: tenantID, CookID: cookID, Amount: amount, Detail: reason})
}

func (n *MemoryNotifier) OpsEscalation(tenantID, cookID string, amount money.Cents, detail string) {
	n.record(Event{Type: "ops_escalation", TenantID: tenantID, CookID: cookID, Amount: amount, Detail: detail})
}

// Events returns a copy of all captured events.
func (n *MemoryNotifier) Events() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Event, len(n.events))
	copy(out, n.events)
	return out
}

// Compile-time assertions.
var (
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*MemoryNotifier)(nil)
)
