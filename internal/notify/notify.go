// Package notify delivers operator messages and the daily report.
package notify

import (
	"context"
	"log/slog"
)

// Report is a rendered report with an optional CSV attachment.
type Report struct {
	Title    string
	Body     string
	Filename string
	CSV      []byte
}

// Notifier sends short texts and reports to the operator.
type Notifier interface {
	Send(ctx context.Context, text string) error
	SendReport(ctx context.Context, r Report) error
}

// Log writes notifications to the structured log. Used when no chat is configured.
type Log struct{}

func (Log) Send(_ context.Context, text string) error {
	slog.Info("notification", "text", text)
	return nil
}

func (Log) SendReport(_ context.Context, r Report) error {
	slog.Info("report", "title", r.Title, "body", r.Body, "attachment", r.Filename, "bytes", len(r.CSV))
	return nil
}
