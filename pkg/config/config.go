package config

import (
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

type Config struct {
	// Port Settings
	Host        string `json:"host"`        // The domain name of the server.
	ServerAddr  string `json:"serverAddr"`  // The address the server endpoint binds to.
	MetricsAddr string `json:"metricsAddr"` // The address the metric endpoint binds to.

	Auth struct {
		AccessTokenSecret  string `json:"accessTokenSecret"`
		RefreshTokenSecret string `json:"refreshTokenSecret"`
	} `json:"auth"`

	Postgres struct {
		Host     string `json:"host"`
		Port     string `json:"port"`
		DBName   string `json:"dbname"`
		User     string `json:"user"`
		Password string `json:"password"`
		SSLMode  string `json:"sslmode"`
		TimeZone string `json:"TimeZone"`
	} `json:"postgres"`

	// Backend identity/resource service the workflows provision against.
	Gateway struct {
		BaseURL         string `json:"baseURL"`
		Token           string `json:"token"`           // service token sent as X-Auth-Token
		DomainID        string `json:"domainID"`        // domain new users/projects are created in
		MemberRoleName  string `json:"memberRoleName"`  // default role granted on approval
		ManagerRoleName string `json:"managerRoleName"` // project-manager role
		TimeoutSeconds  int    `json:"timeoutSeconds"`
	} `json:"gateway"`

	SMTP struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		User     string `json:"user"`
		Password string `json:"password"`
		Sender   string `json:"sender"`
	} `json:"smtp"`

	// Optional webhook notification endpoint; used instead of SMTP when set.
	NotifyWebhook string `json:"notifyWebhook"`

	LDAP struct {
		Enable   bool   `json:"enable"`
		UserName string `json:"userName"`
		Password string `json:"password"`
		Address  string `json:"address"`
		SearchDN string `json:"searchDN"`
	} `json:"ldap"`

	Registry struct {
		AdminEmails           []string `json:"adminEmails"`           // recipients for new-registration notices
		DefaultMembershipDays int      `json:"defaultMembershipDays"` // expiration assigned when none is given
		RenewalWindowDays     int      `json:"renewalWindowDays"`     // how far ahead renewals are issued
		ReminderAgeDays       int      `json:"reminderAgeDays"`       // pending requests older than this enter the digest
		DisableScript         string   `json:"disableScript"`         // gate script invoked on orphan ban
		EnableScript          string   `json:"enableScript"`          // gate script invoked on unban
	} `json:"registry"`

	// Cron specs for the housekeeping sweeps, robfig/cron format.
	Cron struct {
		ExpirationScan  string `json:"expirationScan"`
		RenewalIssuance string `json:"renewalIssuance"`
		OrphanSweep     string `json:"orphanSweep"`
		PendingReminder string `json:"pendingReminder"`
	} `json:"cron"`
}

var (
	once   sync.Once
	config *Config
)

func GetConfig() *Config {
	once.Do(func() {
		config = initConfig()
	})
	return config
}

func IsDebugMode() bool {
	return gin.Mode() == gin.DebugMode
}

// initConfig reads the configuration file. In debug mode the path can be
// overridden with NIMBUS_DEBUG_CONFIG_PATH; in production it comes from the
// ConfigMap mount.
func initConfig() *Config {
	config := &Config{}
	var configPath string
	if IsDebugMode() {
		if os.Getenv("NIMBUS_DEBUG_CONFIG_PATH") != "" {
			configPath = os.Getenv("NIMBUS_DEBUG_CONFIG_PATH")
		} else {
			configPath = "./etc/debug-config.yaml"
		}
	} else {
		configPath = "/etc/config/config.yaml"
	}
	klog.Info("config path: ", configPath)

	if err := readConfig(configPath, config); err != nil {
		klog.Error("init config", err)
		panic(err)
	}
	return config
}

func readConfig(filePath string, config *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, config)
}

type TokenConf struct {
	AccessTokenExpiryHour  int
	RefreshTokenExpiryHour int
	AccessTokenSecret      string
	RefreshTokenSecret     string
}

func NewTokenConf() *TokenConf {
	conf := GetConfig()
	return &TokenConf{
		AccessTokenExpiryHour:  1,
		RefreshTokenExpiryHour: 168,
		AccessTokenSecret:      conf.Auth.AccessTokenSecret,
		RefreshTokenSecret:     conf.Auth.RefreshTokenSecret,
	}
}
