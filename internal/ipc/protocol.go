package ipc

import (
	"time"

	"github.com/anthropic/lifeos/internal/biometric"
	"github.com/anthropic/lifeos/internal/engine"
	"github.com/anthropic/lifeos/internal/model"
)

// Commands understood by the server.
const (
	CmdPing      = "ping"
	CmdStatus    = "status"
	CmdSnapshot  = "snapshot"
	CmdHistory   = "history"
	CmdHeartRate = "heartrate"
	CmdForecast  = "forecast"
	CmdEvent     = "event"
	CmdRefresh   = "refresh"
	CmdStop      = "stop"
)

// Request is a JSON message sent from client to server.
type Request struct {
	Command string            `json:"command"`
	Args    map[string]string `json:"args,omitempty"`
}

// Response is a JSON message sent from server to client.
type Response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// StatusData is returned by the "status" command.
type StatusData struct {
	State               string                  `json:"state"`
	Uptime              string                  `json:"uptime"`
	PID                 int                     `json:"pid"`
	Instance            string                  `json:"instance"`
	Ticks               int64                   `json:"ticks"`
	LastTick            time.Time               `json:"last_tick"`
	LastTickOK          bool                    `json:"last_tick_ok"`
	LastTickError       string                  `json:"last_tick_error,omitempty"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
	DayMode             string                  `json:"day_mode"`
	Coefficients        model.Coefficients      `json:"coefficients"`
	Snapshot            *model.ResourceSnapshot `json:"snapshot,omitempty"`
	Baseline            *model.DailyBaseline    `json:"baseline,omitempty"`
	Biometric           biometric.Status        `json:"biometric"`
	DroppedEvents       int64                   `json:"dropped_events"`
	DroppedSamples      int64                   `json:"dropped_samples"`
	DBSizeBytes         int64                   `json:"db_size_bytes"`
	Watermark           string                  `json:"watermark,omitempty"`
}

// HistoryData is returned by the "history" command.
type HistoryData struct {
	Snapshots []model.ResourceSnapshot `json:"snapshots,omitempty"`
	Daily     []model.DailySummary     `json:"daily,omitempty"`
	Weekly    []model.WeeklySummary    `json:"weekly,omitempty"`
}

// HeartRateData is returned by the "heartrate" command.
type HeartRateData struct {
	Samples []model.HeartRateSample `json:"samples"`
}

// ForecastData is returned by the "forecast" command.
type ForecastData struct {
	Scenario string         `json:"scenario"`
	Points   []engine.Point `json:"points"`
}
