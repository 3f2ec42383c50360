// Package workflow implements the registration and subscription state
// machines: the path from "requested registration" through pre-check,
// approval and backend provisioning, and the membership lifecycle of a
// provisioned user inside a project.
//
// Every state-mutating operation runs inside one store transaction. Gateway
// calls happen inside that transaction (create then persist); when one fails
// the transaction rolls back, so local state never claims a backend resource
// that was not confirmed created.
package workflow

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/pkg/gateway"
	"github.com/nimbus-lab/nimbus/pkg/metrics"
)

// Config carries the per-process parameters the engine needs. The role ids
// are resolved once at startup against the gateway, not cached in mutable
// package state.
type Config struct {
	MemberRoleID          string
	ManagerRoleID         string
	DefaultMembershipDays int
	RenewalWindowDays     int
	ReminderAge           time.Duration
}

// Actor identifies the console user invoking an operation.
type Actor struct {
	UserID   uint
	Username string
	Admin    bool
}

type Engine struct {
	store  dao.Store
	gw     gateway.Interface
	notify Notifier
	cfg    Config
}

func NewEngine(store dao.Store, gw gateway.Interface, notify Notifier, cfg Config) *Engine {
	if cfg.DefaultMembershipDays == 0 {
		cfg.DefaultMembershipDays = 365
	}
	return &Engine{store: store, gw: gw, notify: notify, cfg: cfg}
}

// observe records the outcome of an operation in the transition counter.
func observe(operation string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsValidation(err):
		outcome = "validation"
	case isInvalidState(err):
		outcome = "invalid_state"
	case gateway.IsUnavailable(err) || gateway.IsRejected(err):
		outcome = "backend"
	default:
		outcome = "error"
	}
	metrics.WorkflowTransitions.WithLabelValues(operation, outcome).Inc()
}

// reportOrphans writes the reconciliation log for backend resources that were
// confirmed created before the surrounding transaction rolled back. The
// system does not attempt to remove them; operators reconcile from this log.
func reportOrphans(created []string) {
	for _, res := range created {
		metrics.OrphanedRemoteResources.Inc()
		klog.Errorf("workflow: orphaned backend resource after rollback: %s", res)
	}
}

func (e *Engine) defaultExpiration(now time.Time) time.Time {
	return now.AddDate(0, 0, e.cfg.DefaultMembershipDays)
}

// registrantEmail resolves the contact address of a provisioned registration
// through its console account. Best effort: missing accounts yield "".
func (e *Engine) registrantEmail(ctx context.Context, username *string) string {
	if username == nil {
		return ""
	}
	user, err := e.store.UserByName(ctx, *username)
	if err != nil || user.Email == nil {
		return ""
	}
	return *user.Email
}
