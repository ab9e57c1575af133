package main

import (
	"fmt"
	"log/slog"
	"os"

	cmdcalculate "ke-billing/command/calculate"
	cmddaily "ke-billing/command/daily"
	cmdexport "ke-billing/command/export"
	cmdhourly "ke-billing/command/hourly"
	cmdweb "ke-billing/command/web"
)

// Billing cost ingestion and anomaly detection.
// Usage:
//   ke-billing daily     [-config ./config.yml] [-date YYYYMMDD | -today]
//   ke-billing hourly    [-config ./config.yml] [-date YYYYMMDD] [-hour 0-23]
//   ke-billing calculate [-config ./config.yml] [-concurrency 4]
//   ke-billing export    [-config ./config.yml] [-date YYYYMMDD] [-out ./data]
//   ke-billing web       [-config ./config.yml] [-addr :8080]
// Notes:
// - daily runs once a day after midnight: it stores yesterday's summaries and refreshes baselines.
// - hourly compares today's accumulated spend against the baselines and alerts on anomalies.
// - Secrets may come from BILLING_CREDENTIAL_ID, BILLING_CREDENTIAL_SECRET, OBJECT_STORAGE_ACCESS_KEY,
//   OBJECT_STORAGE_SECRET_KEY and SLACK_WEBHOOK_URL instead of the config file.

var commands = map[string]func([]string) error{
	"daily":     cmddaily.Run,
	"hourly":    cmdhourly.Run,
	"calculate": cmdcalculate.Run,
	"export":    cmdexport.Run,
	"web":       cmdweb.Run,
}

func main() {
	args := os.Args
	// Console logger until a subcommand installs the configured one
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(h))

	if len(args) > 1 {
		if run, ok := commands[args[1]]; ok {
			if err := run(append([]string{}, args[2:]...)); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: ke-billing daily [-date YYYYMMDD | -today] | hourly [-date YYYYMMDD] [-hour H] | calculate | export [-date YYYYMMDD] [-out ./data] | web [-addr :8080]\nENV: set CONFIG_PATH to point to a YAML config file (default ./config.yml)")
	os.Exit(2)
}
