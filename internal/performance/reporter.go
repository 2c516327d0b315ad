package performance

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"betbot/internal/clock"
	"betbot/internal/model"
	"betbot/internal/notify"
	"betbot/internal/store"
)

var csvHeader = []string{
	"PlacedDate", "PlacedTime", "SettledDate", "SettledTime", "Strategy",
	"Market", "Runner", "Side", "Stake", "Price", "Outcome", "PnL",
}

// ReportSender delivers a rendered report.
type ReportSender interface {
	SendReport(ctx context.Context, r notify.Report) error
}

// Reporter sends yesterday's settled orders and the current statistics once a night.
type Reporter struct {
	store  store.Store
	clock  clock.Clock
	sender ReportSender
	hour   int
	loc    *time.Location
}

func NewReporter(st store.Store, clk clock.Clock, sender ReportSender, nightlyHour int) *Reporter {
	return &Reporter{store: st, clock: clk, sender: sender, hour: nightlyHour, loc: time.Local}
}

func (r *Reporter) Name() string { return "reporter" }

// RunOnce waits for the nightly hour on its first pass, then reports and
// schedules the next night.
func (r *Reporter) RunOnce(ctx context.Context) (time.Duration, error) {
	now := r.clock.Now().In(r.loc)
	if now.Hour() != r.hour {
		return UntilHour(now, r.hour), nil
	}
	if err := r.Send(ctx); err != nil {
		return 0, err
	}
	return UntilHour(r.clock.Now().In(r.loc), r.hour), nil
}

// Send builds and delivers the report for the previous UTC day.
func (r *Reporter) Send(ctx context.Context) error {
	rep, err := r.Build(ctx)
	if err != nil {
		return err
	}
	if err := r.sender.SendReport(ctx, rep); err != nil {
		return fmt.Errorf("sending report: %w", err)
	}
	slog.Info("daily report sent", "attachment", rep.Filename, "bytes", len(rep.CSV))
	return nil
}

// Build renders the previous day's orders as CSV and the statistics as a table.
func (r *Reporter) Build(ctx context.Context) (notify.Report, error) {
	today := model.StartOfDay(r.clock.Now())
	yesterday := today.AddDate(0, 0, -1)

	orders, err := r.store.SettledOrders(ctx, "", yesterday, today)
	if err != nil {
		return notify.Report{}, fmt.Errorf("loading settled orders: %w", err)
	}
	stats, err := r.store.ListStatistics(ctx)
	if err != nil {
		return notify.Report{}, fmt.Errorf("loading statistics: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return notify.Report{}, err
	}
	for _, o := range orders {
		if err := w.Write(r.row(ctx, o)); err != nil {
			return notify.Report{}, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return notify.Report{}, fmt.Errorf("writing csv: %w", err)
	}

	return notify.Report{
		Title:    "Daily report " + yesterday.Format("2006-01-02"),
		Body:     renderStatistics(stats),
		Filename: "betbot-" + yesterday.Format("2006-01-02") + ".csv",
		CSV:      buf.Bytes(),
	}, nil
}

func (r *Reporter) row(ctx context.Context, o model.Order) []string {
	market := o.MarketID
	if m, err := r.store.GetMarket(ctx, o.MarketID); err == nil {
		market = m.Label()
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("report market lookup failed", "market", o.MarketID, "error", err)
	}
	runner := strconv.FormatInt(o.SelectionID, 10)
	if rn, err := r.store.GetRunner(ctx, o.SelectionID); err == nil {
		runner = rn.Name
	}
	return []string{
		o.PlacedAt.Format("2006-01-02"),
		o.PlacedAt.Format("15:04:05"),
		o.SettledAt.Format("2006-01-02"),
		o.SettledAt.Format("15:04:05"),
		o.StrategyRef,
		market,
		runner,
		string(o.Side),
		strconv.FormatFloat(o.SizeSettled, 'f', 2, 64),
		strconv.FormatFloat(o.PriceMatched, 'f', 2, 64),
		string(o.Outcome),
		strconv.FormatFloat(o.ProfitOrZero(), 'f', 2, 64),
	}
}

func renderStatistics(stats []model.Statistic) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.Header("Strategy", "Daily", "Weekly", "Monthly", "Yearly", "Lifetime")
	for _, s := range stats {
		table.Append(
			s.Ref,
			fmt.Sprintf("%.2f", s.Daily),
			fmt.Sprintf("%.2f", s.Weekly),
			fmt.Sprintf("%.2f", s.Monthly),
			fmt.Sprintf("%.2f", s.Yearly),
			fmt.Sprintf("%.2f", s.Lifetime),
		)
	}
	table.Render()
	return buf.String()
}

// LogStatistics writes each statistic to the log.
func LogStatistics(stats []model.Statistic) {
	for _, s := range stats {
		slog.Info("strategy performance",
			"strategy", s.Ref,
			"daily", s.Daily,
			"weekly", s.Weekly,
			"monthly", s.Monthly,
			"yearly", s.Yearly,
			"lifetime", s.Lifetime,
		)
	}
}
