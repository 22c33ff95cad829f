package report

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropic/lifeos/internal/ipc"
	"github.com/anthropic/lifeos/internal/model"
)

// ANSI escape codes for terminal formatting.
const (
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	reset  = "\033[0m"
)

const clock = "15:04:05"

// FormatStatus formats daemon StatusData as a terminal-friendly table.
func FormatStatus(status *ipc.StatusData) string {
	var b strings.Builder

	b.WriteString(bold + "LifeOS - Daemon Status" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	b.WriteString(fmt.Sprintf("%-20s %s%s%s\n", "State:", colorForState(status.State), status.State, reset))
	b.WriteString(fmt.Sprintf("%-20s %s\n", "Uptime:", status.Uptime))
	b.WriteString(fmt.Sprintf("%-20s %d (%s)\n", "PID:", status.PID, status.Instance))
	b.WriteString(fmt.Sprintf("%-20s %d\n", "Ticks:", status.Ticks))
	if !status.LastTick.IsZero() {
		result := green + "ok" + reset
		if !status.LastTickOK {
			result = red + "failed" + reset
		}
		b.WriteString(fmt.Sprintf("%-20s %s %s\n", "Last Tick:", status.LastTick.Local().Format(clock), result))
	}
	if status.LastTickError != "" {
		b.WriteString(fmt.Sprintf("%-20s %s (%d in a row)\n", "Tick Error:", status.LastTickError, status.ConsecutiveFailures))
	}
	b.WriteString(fmt.Sprintf("%-20s %s\n", "DB Size:", humanBytes(status.DBSizeBytes)))
	if status.Watermark != "" {
		b.WriteString(fmt.Sprintf("%-20s %s\n", "Aggregated Through:", status.Watermark))
	}
	if status.DroppedEvents > 0 {
		b.WriteString(fmt.Sprintf("%-20s %s%d%s\n", "Dropped Events:", yellow, status.DroppedEvents, reset))
	}
	if status.DroppedSamples > 0 {
		b.WriteString(fmt.Sprintf("%-20s %s%d%s\n", "Dropped Samples:", yellow, status.DroppedSamples, reset))
	}

	b.WriteString(fmt.Sprintf("\n%sDay%s\n", bold, reset))
	b.WriteString(fmt.Sprintf("%-20s %s\n", "Mode:", status.DayMode))
	if bl := status.Baseline; bl != nil {
		b.WriteString(fmt.Sprintf("%-20s %d\n", "Readiness:", bl.Readiness))
		b.WriteString(fmt.Sprintf("%-20s %d\n", "Sleep Score:", bl.SleepScore))
		b.WriteString(fmt.Sprintf("%-20s %.0f bpm\n", "Resting HR:", bl.RestingHR))
		if !bl.WakeTime.IsZero() {
			b.WriteString(fmt.Sprintf("%-20s %s\n", "Woke:", bl.WakeTime.Local().Format("15:04")))
		}
	} else {
		b.WriteString(fmt.Sprintf("%-20s %s\n", "Baseline:", "(defaults)"))
	}

	bio := status.Biometric
	b.WriteString(fmt.Sprintf("\n%sBiometrics%s\n", bold, reset))
	b.WriteString(fmt.Sprintf("%-20s %s\n", "Last Success:", since(bio.LastSuccess)))
	b.WriteString(fmt.Sprintf("%-20s %s\n", "Last Measured HR:", since(bio.LastMeasured)))
	if bio.Halted {
		b.WriteString(fmt.Sprintf("%-20s %shalted%s (run 'lifeosd refresh')\n", "Polling:", red, reset))
	}
	if bio.LastError != "" {
		b.WriteString(fmt.Sprintf("%-20s %s\n", "Last Error:", bio.LastError))
	}

	c := status.Coefficients
	b.WriteString(fmt.Sprintf("\n%sShadow Estimator%s\n", bold, reset))
	b.WriteString(fmt.Sprintf("%-20s a=%.4f b=%.4f g=%.4f\n", "Coefficients:", c.Alpha, c.Beta, c.Gamma))
	b.WriteString(fmt.Sprintf("%-20s %d (last error %+.1f bpm)\n", "Calibrations:", c.Updates, c.LastError))

	if status.Snapshot != nil {
		b.WriteString("\n")
		b.WriteString(formatSnapshotBody(status.Snapshot))
	}
	return b.String()
}

// FormatSnapshot formats the latest resource snapshot.
func FormatSnapshot(s *model.ResourceSnapshot) string {
	var b strings.Builder
	b.WriteString(bold + "LifeOS - Cognitive Resource" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	b.WriteString(formatSnapshotBody(s))
	return b.String()
}

func formatSnapshotBody(s *model.ResourceSnapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-20s %s%s%.1f%s  %s\n", "Effective:",
		bold, colorForScore(s.Effective), s.Effective, reset, s.Status))
	b.WriteString(fmt.Sprintf("%-20s %.1f (boost %+.1f, debt %.1f)\n", "Base:", s.Base, s.Boost, s.Debt))
	b.WriteString(fmt.Sprintf("%-20s %.2f\n", "Efficiency:", s.Efficiency))
	b.WriteString(fmt.Sprintf("%-20s %.0f%% (%s)\n", "Cognitive Load:", s.CognitiveLoad*100, s.ActivityState))
	b.WriteString(fmt.Sprintf("%-20s %s\n", "Tier:", s.Tier))

	src := "measured"
	if s.HREstimated {
		src = "estimated"
	}
	b.WriteString(fmt.Sprintf("%-20s %.0f bpm (%s)\n", "Heart Rate:", s.EstimatedHR, src))
	if !s.BreakAt.IsZero() {
		b.WriteString(fmt.Sprintf("%-20s %s\n", "Break Due:", s.BreakAt.Local().Format("15:04")))
	}
	if !s.ExhaustionAt.IsZero() {
		b.WriteString(fmt.Sprintf("%-20s %s\n", "Exhaustion At:", s.ExhaustionAt.Local().Format("15:04")))
	}
	if s.Degraded != 0 {
		b.WriteString(fmt.Sprintf("%-20s %s%s%s\n", "Degraded:", yellow, s.Degraded, reset))
	}
	b.WriteString(fmt.Sprintf("%s%-20s %s%s\n", dim, "As Of:", s.Timestamp.Local().Format(time.DateTime), reset))
	return b.String()
}

// FormatHistory formats whichever scope the history response carries.
func FormatHistory(h *ipc.HistoryData) string {
	var b strings.Builder

	if len(h.Snapshots) > 0 {
		b.WriteString(bold + "Recent Snapshots" + reset + "\n")
		b.WriteString(strings.Repeat("-", 60) + "\n")
		b.WriteString(fmt.Sprintf("%-10s %9s %7s %7s %-10s %s\n", "Time", "Effective", "Debt", "HR", "Activity", "Status"))
		b.WriteString(strings.Repeat("-", 60) + "\n")
		for _, s := range h.Snapshots {
			b.WriteString(fmt.Sprintf("%-10s %s%9.1f%s %7.1f %7.0f %-10s %s\n",
				s.Timestamp.Local().Format(clock),
				colorForScore(s.Effective), s.Effective, reset,
				s.Debt, s.EstimatedHR, s.ActivityState, s.Status))
		}
		b.WriteString("\n")
	}

	if len(h.Daily) > 0 {
		b.WriteString(formatDaily(h.Daily))
		b.WriteString("\n")
	}

	if len(h.Weekly) > 0 {
		b.WriteString(bold + "Weekly Summaries" + reset + "\n")
		b.WriteString(strings.Repeat("-", 50) + "\n")
		b.WriteString(fmt.Sprintf("%-10s %5s %9s %10s %7s\n", "Week", "Days", "Effective", "Active", "HR"))
		b.WriteString(strings.Repeat("-", 50) + "\n")
		for _, w := range h.Weekly {
			b.WriteString(fmt.Sprintf("%-10s %5d %s%9.1f%s %10s %7.0f\n",
				w.Week, w.Days, colorForScore(w.MeanEffective), w.MeanEffective, reset,
				minutes(w.ActiveMinutes), w.MeanHR))
		}
		b.WriteString("\n")
	}

	if b.Len() == 0 {
		return "No history recorded yet.\n"
	}
	return b.String()
}

func formatDaily(days []model.DailySummary) string {
	var b strings.Builder
	b.WriteString(bold + "Daily Summaries" + reset + "\n")
	b.WriteString(strings.Repeat("-", 70) + "\n")
	b.WriteString(fmt.Sprintf("%-11s %9s %11s %10s %7s %7s %7s\n",
		"Date", "Effective", "Range", "Active", "APM", "HR", "Debt"))
	b.WriteString(strings.Repeat("-", 70) + "\n")
	for _, d := range days {
		b.WriteString(fmt.Sprintf("%-11s %s%9.1f%s %5.0f-%-5.0f %10s %7.1f %7.0f %7.1f\n",
			d.Date, colorForScore(d.MeanEffective), d.MeanEffective, reset,
			d.MinEffective, d.MaxEffective, minutes(d.ActiveMinutes),
			d.MeanAPM, d.MeanHR, d.FinalDebt))
	}
	return b.String()
}

// FormatHeartRate formats a heart-rate stream, newest last.
func FormatHeartRate(h *ipc.HeartRateData) string {
	if len(h.Samples) == 0 {
		return "No heart-rate samples in range.\n"
	}
	var b strings.Builder
	b.WriteString(bold + "Heart Rate" + reset + "\n")
	b.WriteString(strings.Repeat("-", 40) + "\n")
	b.WriteString(fmt.Sprintf("%-10s %7s  %s\n", "Time", "BPM", "Source"))
	b.WriteString(strings.Repeat("-", 40) + "\n")

	var measured, estimated int
	for _, s := range h.Samples {
		color := ""
		if s.Provenance == model.Estimated {
			color = dim
			estimated++
		} else {
			measured++
		}
		b.WriteString(fmt.Sprintf("%s%-10s %7.0f  %s%s\n",
			color, s.Timestamp.Local().Format(clock), s.BPM, s.Provenance, reset))
	}
	b.WriteString(fmt.Sprintf("\n%d measured, %d estimated\n", measured, estimated))
	return b.String()
}

// FormatForecast formats a projected trajectory.
func FormatForecast(f *ipc.ForecastData) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%sForecast (%s)%s\n", bold, f.Scenario, reset))
	b.WriteString(strings.Repeat("-", 40) + "\n")
	b.WriteString(fmt.Sprintf("%-8s %9s %7s  %s\n", "Time", "Effective", "Debt", "Status"))
	b.WriteString(strings.Repeat("-", 40) + "\n")

	prev := ""
	for _, p := range f.Points {
		marker := ""
		if prev != "" && p.Status != prev {
			marker = " <"
		}
		prev = p.Status
		b.WriteString(fmt.Sprintf("%-8s %s%9.1f%s %7.1f  %s%s\n",
			p.At.Local().Format("15:04"), colorForScore(p.Effective), p.Effective, reset,
			p.Debt, p.Status, marker))
	}
	return b.String()
}

// FormatTrend formats a TrendReport.
func FormatTrend(r *TrendReport) string {
	var b strings.Builder

	b.WriteString(bold + "LifeOS - Trend Report" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")

	b.WriteString(fmt.Sprintf("Range:          %s to %s\n", r.From, r.To))
	if len(r.Days) == 0 {
		b.WriteString("\nNo aggregated days in range.\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("Mean Effective: %s%s%.1f%s\n",
		bold, colorForScore(r.MeanEffective), r.MeanEffective, reset))
	b.WriteString(fmt.Sprintf("Direction:      %s%s%s (%+.1f)\n", colorForDirection(r.Direction), r.Direction, reset, r.Change))
	b.WriteString(fmt.Sprintf("Active Time:    %s\n", minutes(r.ActiveMinutes)))
	if r.BestDay != "" {
		b.WriteString(fmt.Sprintf("Best Day:       %s\n", r.BestDay))
		b.WriteString(fmt.Sprintf("Worst Day:      %s\n", r.WorstDay))
	}
	b.WriteString("\n")
	b.WriteString(formatDaily(r.Days))
	return b.String()
}

// FormatRhythm formats a RhythmReport as an hour-of-day bar chart.
func FormatRhythm(r *RhythmReport) string {
	var b strings.Builder

	b.WriteString(bold + "LifeOS - Daily Rhythm" + reset + "\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	if len(r.Hours) == 0 {
		b.WriteString("No activity recorded since " + r.Since.Local().Format(time.DateOnly) + ".\n")
		return b.String()
	}

	top := 0.0
	for _, h := range r.Hours {
		top = max(top, h.MeanAPM)
	}
	peak := make(map[int]bool, len(r.Peaks))
	for _, h := range r.Peaks {
		peak[h] = true
	}
	for _, h := range r.Hours {
		width := 0
		if top > 0 {
			width = int(h.MeanAPM / top * 30)
		}
		color := ""
		if peak[h.Hour] {
			color = green
		} else if h.Samples < r.MinSamples {
			color = dim
		}
		b.WriteString(fmt.Sprintf("%02d:00 %s%-30s%s %6.1f apm %5d min\n",
			h.Hour, color, strings.Repeat("#", width), reset, h.MeanAPM, h.Samples))
	}
	if len(r.Peaks) > 0 {
		hours := make([]string, len(r.Peaks))
		for i, h := range r.Peaks {
			hours[i] = fmt.Sprintf("%02d:00", h)
		}
		b.WriteString("\nPeak hours: " + strings.Join(hours, ", ") + "\n")
	}
	return b.String()
}

// FormatJSON marshals any value as indented JSON.
func FormatJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// colorForScore returns an ANSI color code for an effective score.
func colorForScore(score float64) string {
	switch {
	case score >= 70:
		return green
	case score >= 40:
		return yellow
	default:
		return red
	}
}

func colorForState(state string) string {
	switch state {
	case "RUNNING":
		return green
	case "DEGRADED", "STARTING":
		return yellow
	default:
		return red
	}
}

func colorForDirection(dir string) string {
	switch dir {
	case Rising:
		return green
	case Falling:
		return red
	default:
		return ""
	}
}

func since(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return time.Since(t).Truncate(time.Second).String() + " ago"
}

func minutes(m float64) string {
	d := time.Duration(m * float64(time.Minute)).Round(time.Minute)
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

// humanBytes formats bytes as a human-readable string (KB, MB, GB).
func humanBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)

	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
