// Package notify formats anomaly and daily total messages and delivers
// anomalies to Slack.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"ke-billing/domain/billing"
)

// ErrNotConfigured is returned by Send when no webhook URL is set.
var ErrNotConfigured = errors.New("slack webhook not configured")

const (
	AnomalyTag    = "BILLING_ANOMALY"
	DailyTotalTag = "BILLING_DAILY_TOTAL"
)

var printer = message.NewPrinter(language.English)

// AnomalyMessage is the one-line form the log monitoring agent matches on.
func AnomalyMessage(a billing.AnomalyRecord) string {
	return fmt.Sprintf("[%s] %s/%s project %s cost is higher than usual. current %.2f, baseline mean %.2f.",
		AnomalyTag, a.DomainName, a.ProjectName, a.ServiceName, a.ObservedAmount, a.BaselineMean)
}

// DailyTotalMessage reports the summed expect amount of date (YYYYMMDD).
func DailyTotalMessage(date string, total float64) string {
	return fmt.Sprintf("[%s] [%s] total cost is %s.", DailyTotalTag, billing.DisplayDate(date), amount(total))
}

// SlackText renders an anomaly as Slack mrkdwn.
func SlackText(a billing.AnomalyRecord) string {
	var b strings.Builder
	b.WriteString("🚨 *Billing Anomaly Detected*\n\n")
	fmt.Fprintf(&b, "*Date/Time:* %s %02d:00\n", a.Date, a.Hour)
	fmt.Fprintf(&b, "*Domain:* %s (%s)\n", a.DomainName, shortID(a.DomainID))
	fmt.Fprintf(&b, "*Project:* %s (%s)\n", a.ProjectName, shortID(a.ProjectID))
	fmt.Fprintf(&b, "*Service:* %s (%s)\n\n", a.ServiceName, a.ServiceID)
	fmt.Fprintf(&b, "*Observed Amount:* %s\n", amount(a.ObservedAmount))
	fmt.Fprintf(&b, "*Baseline Mean:* %s\n", amount(a.BaselineMean))
	fmt.Fprintf(&b, "*Z-Score:* %s\n", score(a.ZScore))
	fmt.Fprintf(&b, "*Deviation Ratio:* %sx\n\n", score(a.DeviationRatio))
	fmt.Fprintf(&b, "*Threshold:* Z-Score >= %s or Ratio >= %sx", threshold(a.ThresholdZ), threshold(a.ThresholdRatio))
	return b.String()
}

func amount(v float64) string {
	return printer.Sprintf("%.2f", v)
}

func score(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// threshold prints 3 as "3.0" and 2.5 as "2.5".
func threshold(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEIN") {
		s += ".0"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return id + "..."
}

// Slack posts anomaly messages to an incoming webhook.
type Slack struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlack creates a webhook client. An empty URL makes Send return ErrNotConfigured.
func NewSlack(webhookURL string, timeout time.Duration) *Slack {
	return &Slack{webhookURL: webhookURL, httpClient: &http.Client{Timeout: timeout}}
}

// Send posts the anomaly to the webhook.
func (s *Slack) Send(ctx context.Context, a billing.AnomalyRecord) error {
	if s == nil || s.webhookURL == "" {
		return ErrNotConfigured
	}
	msg := &slack.WebhookMessage{Text: SlackText(a)}
	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.httpClient, msg); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

// Dispatcher writes the anomaly log line and forwards the anomaly to Slack.
type Dispatcher struct {
	slack  *Slack
	logger *slog.Logger
}

func NewDispatcher(s *Slack, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{slack: s, logger: logger}
}

// Alert logs the anomaly at error level and sends it to Slack. A missing
// webhook is not an error.
func (d *Dispatcher) Alert(ctx context.Context, a billing.AnomalyRecord) error {
	d.logger.Error(AnomalyMessage(a),
		"event", "hourly.anomaly",
		"date", a.Date,
		"hour", a.Hour,
		"entity", a.Entity().String(),
		"zScore", score(a.ZScore),
		"ratio", score(a.DeviationRatio),
	)
	err := d.slack.Send(ctx, a)
	if errors.Is(err, ErrNotConfigured) {
		return nil
	}
	return err
}
