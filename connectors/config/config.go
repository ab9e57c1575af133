package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	dconfig "ke-billing/domain/config"
)

// ErrInvalid wraps every validation failure reported by Validate.
var ErrInvalid = errors.New("invalid config")

const defaultPath = "./config.yml"

// ResolvePath picks the config file: the explicit flag value, then CONFIG_PATH,
// then ./config.yml.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return defaultPath
}

// Load parses the YAML configuration file at path, applies defaults and
// environment overrides.
func Load(path string) (*dconfig.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	slog.Info(fmt.Sprintf("Loaded config: %s", path))
	return c, nil
}

// Parse decodes YAML bytes, applies defaults and environment overrides.
func Parse(b []byte) (*dconfig.Config, error) {
	var c dconfig.Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	applyEnv(&c)
	ApplyDefaults(&c)
	return &c, nil
}

// ApplyDefaults fills zero values.
func ApplyDefaults(c *dconfig.Config) {
	api := &c.BillingAPI
	if api.BaseURL == "" {
		api.BaseURL = "https://billing-api.kakaocloud.com"
	}
	if api.PageSize <= 0 {
		api.PageSize = 10000
	}
	if api.MaxPages <= 0 {
		api.MaxPages = 100
	}
	if api.Timeout <= 0 {
		api.Timeout = 60 * time.Second
	}
	if api.MaxRetries < 0 {
		api.MaxRetries = 0
	} else if api.MaxRetries == 0 {
		api.MaxRetries = 5
	}
	if api.RetryWait <= 0 {
		api.RetryWait = time.Second
	}
	if api.RetryMaxWait <= 0 {
		api.RetryMaxWait = 30 * time.Second
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/billing.db"
	}
	if c.ObjectStorage.Region == "" {
		c.ObjectStorage.Region = "kr-standard"
	}
	if c.Alert.Timeout <= 0 {
		c.Alert.Timeout = 5 * time.Second
	}
	d := &c.Detection
	if d.ZThreshold == 0 {
		d.ZThreshold = 3.0
	}
	if d.RatioThreshold == 0 {
		d.RatioThreshold = 2.0
	}
	if d.MinSamples == 0 {
		d.MinSamples = 5
	}
	if d.Timezone == "" {
		d.Timezone = "Asia/Seoul"
	}
	if d.Concurrency <= 0 {
		d.Concurrency = 4
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Tag == "" {
		c.Logging.Tag = "billing_alert"
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "ke_billing"
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
}

// applyEnv lets secrets come from the environment instead of the file.
func applyEnv(c *dconfig.Config) {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.BillingAPI.CredentialID, "BILLING_CREDENTIAL_ID")
	override(&c.BillingAPI.CredentialSecret, "BILLING_CREDENTIAL_SECRET")
	override(&c.ObjectStorage.AccessKey, "OBJECT_STORAGE_ACCESS_KEY")
	override(&c.ObjectStorage.SecretKey, "OBJECT_STORAGE_SECRET_KEY")
	override(&c.Alert.SlackWebhookURL, "SLACK_WEBHOOK_URL")
}

// Validate reports the settings a job cannot run without.
func Validate(c *dconfig.Config) error {
	var errs []error
	api := c.BillingAPI
	if api.OAuth2.TokenURL != "" {
		if api.OAuth2.ClientID == "" {
			errs = append(errs, errors.New("billingApi.oauth2.clientId is required with tokenUrl"))
		}
	} else if api.CredentialID == "" || api.CredentialSecret == "" {
		errs = append(errs, errors.New("billingApi.credentialId and billingApi.credentialSecret are required"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.ObjectStorage.Bucket != "" && c.ObjectStorage.Endpoint == "" {
		errs = append(errs, errors.New("objectStorage.endpoint is required when a bucket is set"))
	}
	d := c.Detection
	if d.ZThreshold <= 0 || d.RatioThreshold <= 0 {
		errs = append(errs, errors.New("detection thresholds must be positive"))
	}
	if d.MinSamples < 1 {
		errs = append(errs, errors.New("detection.minSamples must be at least 1"))
	}
	if _, err := d.Location(); err != nil {
		errs = append(errs, fmt.Errorf("detection.timezone: %w", err))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
