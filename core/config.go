package core

import (
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	ServerConfig struct {
		Host               string
		Address            string
		DisableReqLogs     bool
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	LifecycleConfig struct {
		ChunkSize             int
		OverdueLimit          int
		ApprovalDeadline      time.Duration
		DelegationDefaultDays int
		ArchiveReason         string
		DefaultApproverID     int64   // assigned to requests opened by reconciliation; 0 = none
		AdminIDs              []int64 // users holding authority on every approval request
	}

	Config struct {
		Env       string
		Build     string
		AppName   string
		Debug     bool
		TestMode  bool
		SecretKey string
		WorkDir   string

		Database  DatabaseConfig
		Server    ServerConfig
		Lifecycle LifecycleConfig

		RollbarToken     string
		SendgridApiKey   string
		FromEmail        string
		NotifyRecipients []string
		PushgatewayURL   string
		FrontendBaseURL  string
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, db.Port)
}

// DefaultFromEmail parses the configured sender, falling back to a bare address.
func (c *Config) DefaultFromEmail() mail.Address {
	if addr, err := mail.ParseAddress(c.FromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: c.AppName, Address: c.FromEmail}
}

// NotifyAddresses returns the parsed notification recipients, skipping invalid entries.
func (c *Config) NotifyAddresses() []mail.Address {
	addrs := make([]mail.Address, 0, len(c.NotifyRecipients))
	for _, r := range c.NotifyRecipients {
		if addr, err := mail.ParseAddress(CleanString(r)); err == nil {
			addrs = append(addrs, *addr)
		}
	}
	return addrs
}

// parseIDs reads user IDs (eg. DEV_ADMINIDS="1 2"), skipping invalid entries.
func parseIDs(raw []string) []int64 {
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		if id, err := strconv.ParseInt(CleanString(r), 10, 64); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Masomo")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("notifyRecipients", []string{})
	v.SetDefault("pushgatewayURL", "")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "masomo")
	v.SetDefault("dbUser", "masomo")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("disableReqLogs", false)
	v.SetDefault("shutdownTimeout", 10*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("chunkSize", 100)
	v.SetDefault("overdueLimit", 0)
	v.SetDefault("approvalDeadline", 7*24*time.Hour)
	v.SetDefault("delegationDefaultDays", 7)
	v.SetDefault("archiveReason", "deadline passed and responses collected (automatic archiving)")
	v.SetDefault("defaultApproverID", 0)
	v.SetDefault("adminIDs", []string{})
}

// NewConfig loads the configuration for the current ENV (DEV by default).
// Values are read from the environment, prefixed with the ENV name (eg. DEV_DBHOST),
// after loading config/.env.<env> when it exists.
func NewConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "getting working directory")
	}

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}
	v.AutomaticEnv()

	return &Config{
		Env:       env,
		Build:     v.GetString("build"),
		AppName:   v.GetString("appName"),
		Debug:     v.GetBool("debug"),
		TestMode:  v.GetBool("testMode"),
		SecretKey: v.GetString("secretKey"),
		WorkDir:   wd,
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Server: ServerConfig{
			Host:               v.GetString("serverHost"),
			Address:            v.GetString("serverAddress"),
			DisableReqLogs:     v.GetBool("disableReqLogs"),
			ShutdownTimeout:    v.GetDuration("shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("jwtExpirationDelta"),
		},
		Lifecycle: LifecycleConfig{
			ChunkSize:             v.GetInt("chunkSize"),
			OverdueLimit:          v.GetInt("overdueLimit"),
			ApprovalDeadline:      v.GetDuration("approvalDeadline"),
			DelegationDefaultDays: v.GetInt("delegationDefaultDays"),
			ArchiveReason:         v.GetString("archiveReason"),
			DefaultApproverID:     v.GetInt64("defaultApproverID"),
			AdminIDs:              parseIDs(v.GetStringSlice("adminIDs")),
		},
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		FromEmail:        v.GetString("defaultFromEmail"),
		NotifyRecipients: v.GetStringSlice("notifyRecipients"),
		PushgatewayURL:   v.GetString("pushgatewayURL"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
	}, nil
}
