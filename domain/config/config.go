package config

import (
	"time"

	"ke-billing/domain/billing"
)

// Config represents the structure of config.yml used by the jobs.
type Config struct {
	BillingAPI    BillingAPI    `yaml:"billingApi"`
	Store         Store         `yaml:"store"`
	ObjectStorage ObjectStorage `yaml:"objectStorage"`
	Alert         Alert         `yaml:"alert"`
	Detection     Detection     `yaml:"detection"`
	Logging       Logging       `yaml:"logging"`
	Metrics       Metrics       `yaml:"metrics"`
	Web           Web           `yaml:"web"`
}

type BillingAPI struct {
	CredentialID      string        `yaml:"credentialId"`
	CredentialSecret  string        `yaml:"credentialSecret"`
	BaseURL           string        `yaml:"baseUrl"`
	PageSize          int           `yaml:"pageSize"`
	MaxPages          int           `yaml:"maxPages"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"maxRetries"`
	RetryWait         time.Duration `yaml:"retryWait"`
	RetryMaxWait      time.Duration `yaml:"retryMaxWait"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	OAuth2            OAuth2        `yaml:"oauth2"`
}

// OAuth2 switches the billing client to client-credentials bearer tokens when
// TokenURL is set.
type OAuth2 struct {
	TokenURL     string   `yaml:"tokenUrl"`
	ClientID     string   `yaml:"clientId"`
	ClientSecret string   `yaml:"clientSecret"`
	Scopes       []string `yaml:"scopes"`
}

type Store struct {
	Path string `yaml:"path"`
}

type ObjectStorage struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

type Alert struct {
	SlackWebhookURL string        `yaml:"slackWebhookUrl"`
	Timeout         time.Duration `yaml:"timeout"`
}

type Detection struct {
	ZThreshold     float64 `yaml:"zThreshold"`
	RatioThreshold float64 `yaml:"ratioThreshold"`
	MinSamples     int     `yaml:"minSamples"`
	Timezone       string  `yaml:"timezone"`
	Concurrency    int     `yaml:"concurrency"`
}

// Thresholds converts the detection settings for billing.Detect.
func (d Detection) Thresholds() billing.Thresholds {
	return billing.Thresholds{Z: d.ZThreshold, Ratio: d.RatioThreshold, MinSamples: d.MinSamples}
}

// Location resolves Timezone.
func (d Detection) Location() (*time.Location, error) {
	return time.LoadLocation(d.Timezone)
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
	File   string `yaml:"file"`
	Syslog bool   `yaml:"syslog"`
	Tag    string `yaml:"tag"`
}

type Metrics struct {
	PushgatewayURL string `yaml:"pushgatewayUrl"`
	Job            string `yaml:"job"`
}

type Web struct {
	Addr string `yaml:"addr"`
}
