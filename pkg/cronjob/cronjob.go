// Package cronjob wires the periodic sweeps of the workflow engine onto a
// cron scheduler. Every job runs with panic recovery so one bad sweep cannot
// take the scheduler down.
package cronjob

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	"github.com/nimbus-lab/nimbus/pkg/config"
	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

type Manager struct {
	cron   *cron.Cron
	engine *workflow.Engine
	runner workflow.ScriptRunner
}

func NewManager(engine *workflow.Engine, runner workflow.ScriptRunner) *Manager {
	return &Manager{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		engine: engine,
		runner: runner,
	}
}

// Start registers all configured sweeps and starts the scheduler. Jobs with an
// empty cron spec are left unscheduled.
func (m *Manager) Start() error {
	conf := config.GetConfig()

	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) error
	}{
		{"expiration-scan", conf.Cron.ExpirationScan, m.expirationScan},
		{"renewal-issuance", conf.Cron.RenewalIssuance, m.renewalIssuance},
		{"orphan-sweep", conf.Cron.OrphanSweep, m.orphanSweep},
		{"pending-reminder", conf.Cron.PendingReminder, m.pendingReminder},
	}
	for _, job := range jobs {
		if job.spec == "" {
			klog.Infof("cronjob: %s has no schedule, skipping", job.name)
			continue
		}
		name, run := job.name, job.run
		if _, err := m.cron.AddFunc(job.spec, func() {
			m.runWithRecovery(name, run)
		}); err != nil {
			return err
		}
		klog.Infof("cronjob: scheduled %s at %q", name, job.spec)
	}
	m.cron.Start()
	return nil
}

// Stop waits for running jobs to finish.
func (m *Manager) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Manager) runWithRecovery(name string, run func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("cronjob: %s panicked: %v\n%s", name, r, debug.Stack())
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	start := time.Now()
	if err := run(ctx); err != nil {
		klog.Errorf("cronjob: %s failed after %s: %v", name, time.Since(start), err)
		return
	}
	klog.Infof("cronjob: %s finished in %s", name, time.Since(start))
}

// expirationScan tears down lapsed memberships, then marks registrations that
// lost their last one and runs the account gate scripts.
func (m *Manager) expirationScan(ctx context.Context) error {
	conf := config.GetConfig()
	if err := m.engine.ExpirationScan(ctx); err != nil {
		return err
	}
	if err := m.engine.ScheduleBan(ctx); err != nil {
		return err
	}
	if conf.Registry.DisableScript != "" {
		if err := m.engine.BanUsers(ctx, m.runner, conf.Registry.DisableScript); err != nil {
			return err
		}
	}
	if conf.Registry.EnableScript != "" {
		if err := m.engine.AllowUsers(ctx, m.runner, conf.Registry.EnableScript); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) renewalIssuance(ctx context.Context) error {
	return m.engine.ScheduleRenewals(ctx, 0)
}

func (m *Manager) orphanSweep(ctx context.Context) error {
	return m.engine.ScheduleBan(ctx)
}

func (m *Manager) pendingReminder(ctx context.Context) error {
	return m.engine.PendingReminder(ctx)
}
