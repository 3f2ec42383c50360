package main

import (
	"k8s.io/klog/v2"

	"github.com/nimbus-lab/nimbus/cmd/nimbus/helper"
	"github.com/nimbus-lab/nimbus/pkg/cronjob"
)

func main() {
	// Initialize configuration
	configInit := helper.NewConfigInitializer()
	backendConfig := configInit.GetBackendConfig()

	// Load debug environment if needed
	if err := configInit.LoadDebugEnvironment(); err != nil {
		klog.Fatalf("Failed to load env: %s", err)
	}

	// Initialize register config and dependencies
	registerConfig, err := configInit.InitializeRegisterConfig()
	if err != nil {
		klog.Fatalf("Failed to register config: %s\n", err)
	}

	// Start the housekeeping sweeps
	cronMgr := cronjob.NewManager(registerConfig.Engine, cronjob.NewScriptRunner())
	if err := cronMgr.Start(); err != nil {
		klog.Fatalf("Failed to start cron: %s", err)
	}
	defer cronMgr.Stop()

	// Start servers
	serverRunner := helper.NewServerRunner(backendConfig)
	serverRunner.StartMetricsServer()
	serverRunner.StartServer(registerConfig)
}
