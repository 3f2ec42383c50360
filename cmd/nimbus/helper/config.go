package helper

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/nimbus-lab/nimbus/dao"
	"github.com/nimbus-lab/nimbus/internal/handler"
	"github.com/nimbus-lab/nimbus/pkg/alert"
	"github.com/nimbus-lab/nimbus/pkg/config"
	"github.com/nimbus-lab/nimbus/pkg/gateway"
	"github.com/nimbus-lab/nimbus/pkg/workflow"
)

type ConfigInitializer struct {
	backendConfig *config.Config
}

func NewConfigInitializer() *ConfigInitializer {
	return &ConfigInitializer{
		backendConfig: config.GetConfig(),
	}
}

func (ci *ConfigInitializer) GetBackendConfig() *config.Config {
	return ci.backendConfig
}

// LoadDebugEnvironment reads .debug.env in debug mode so local runs can point
// at a development database and gateway.
func (ci *ConfigInitializer) LoadDebugEnvironment() error {
	if !config.IsDebugMode() {
		return nil
	}
	if err := godotenv.Load(".debug.env"); err != nil {
		klog.Warningf("no .debug.env loaded: %v", err)
	}
	return nil
}

// InitializeRegisterConfig connects the database, the gateway and the
// notification dispatcher and assembles the dependencies the handlers share.
func (ci *ConfigInitializer) InitializeRegisterConfig() (*handler.RegisterConfig, error) {
	db := dao.GetDB()
	if err := dao.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store := dao.NewStore(db)

	gwConf := ci.backendConfig.Gateway
	timeout := time.Duration(gwConf.TimeoutSeconds) * time.Second
	gw := gateway.NewKeystoneClient(gwConf.BaseURL, gwConf.Token, gwConf.DomainID, timeout)

	memberRoleID, managerRoleID, err := resolveRoles(gw, gwConf.MemberRoleName, gwConf.ManagerRoleName)
	if err != nil {
		return nil, err
	}

	engine := workflow.NewEngine(store, gw, alert.GetAlertMgr(), workflow.Config{
		MemberRoleID:          memberRoleID,
		ManagerRoleID:         managerRoleID,
		DefaultMembershipDays: ci.backendConfig.Registry.DefaultMembershipDays,
		RenewalWindowDays:     ci.backendConfig.Registry.RenewalWindowDays,
		ReminderAge:           time.Duration(ci.backendConfig.Registry.ReminderAgeDays) * 24 * time.Hour,
	})

	return &handler.RegisterConfig{
		Store:   store,
		Engine:  engine,
		Gateway: gw,
	}, nil
}

// resolveRoles maps the configured role names to backend role ids once at
// startup, so the workflows never carry role names around.
func resolveRoles(gw gateway.Interface, memberName, managerName string) (memberID, managerID string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	roles, err := gw.ListRoles(ctx)
	if err != nil {
		return "", "", fmt.Errorf("list backend roles: %w", err)
	}
	for _, role := range roles {
		switch role.Name {
		case memberName:
			memberID = role.ID
		case managerName:
			managerID = role.ID
		}
	}
	if memberID == "" {
		return "", "", fmt.Errorf("backend has no role named %q", memberName)
	}
	if managerID == "" {
		return "", "", fmt.Errorf("backend has no role named %q", managerName)
	}
	return memberID, managerID, nil
}
