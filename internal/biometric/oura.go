package biometric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/model"
)

const defaultOuraURL = "https://api.ouraring.com/v2/usercollection"

// maxPages bounds pagination so a misbehaving next_token cannot loop forever.
const maxPages = 20

// OuraClient reads the Oura v2 usercollection API.
type OuraClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	now        func() time.Time
}

func NewOuraClient(cfg config.BiometricConfig) *OuraClient {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultOuraURL
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OuraClient{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type page[T any] struct {
	Data      []T     `json:"data"`
	NextToken *string `json:"next_token"`
}

type readinessRecord struct {
	Day          string `json:"day"`
	Score        *int   `json:"score"`
	Contributors struct {
		HRVBalance *float64 `json:"hrv_balance"`
	} `json:"contributors"`
}

type dailySleepRecord struct {
	Day   string `json:"day"`
	Score *int   `json:"score"`
}

type sleepRecord struct {
	Day                string   `json:"day"`
	Type               string   `json:"type"`
	BedtimeEnd         string   `json:"bedtime_end"`
	TotalSleepDuration int64    `json:"total_sleep_duration"`
	LowestHeartRate    *float64 `json:"lowest_heart_rate"`
}

type heartRateRecord struct {
	BPM       float64 `json:"bpm"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
}

// FetchDaily combines daily readiness, daily sleep and the primary sleep
// period for date. Readiness and the sleep score are required; without
// either the day is reported as ErrNoData.
func (c *OuraClient) FetchDaily(ctx context.Context, date string) (model.DailyBaseline, error) {
	day, err := time.ParseInLocation(model.DateLayout, date, time.Local)
	if err != nil {
		return model.DailyBaseline{}, &FatalError{Op: "daily", Err: err}
	}
	window := url.Values{
		"start_date": {day.AddDate(0, 0, -1).Format(model.DateLayout)},
		"end_date":   {day.AddDate(0, 0, 1).Format(model.DateLayout)},
	}

	readiness, err := fetchAll[readinessRecord](ctx, c, "daily_readiness", window)
	if err != nil {
		return model.DailyBaseline{}, err
	}
	sleepScores, err := fetchAll[dailySleepRecord](ctx, c, "daily_sleep", window)
	if err != nil {
		return model.DailyBaseline{}, err
	}
	periods, err := fetchAll[sleepRecord](ctx, c, "sleep", window)
	if err != nil {
		return model.DailyBaseline{}, err
	}

	b := model.DailyBaseline{Date: date, FetchedAt: c.now()}

	r, ok := lastForDay(readiness, date, func(r readinessRecord) string { return r.Day })
	if !ok || r.Score == nil {
		return model.DailyBaseline{}, fmt.Errorf("readiness for %s: %w", date, ErrNoData)
	}
	b.Readiness = *r.Score
	if r.Contributors.HRVBalance != nil {
		b.HRVBalance = *r.Contributors.HRVBalance
	}

	s, ok := lastForDay(sleepScores, date, func(s dailySleepRecord) string { return s.Day })
	if !ok || s.Score == nil {
		return model.DailyBaseline{}, fmt.Errorf("sleep score for %s: %w", date, ErrNoData)
	}
	b.SleepScore = *s.Score

	if p, ok := primarySleep(periods, date); ok {
		b.PrimarySleep = time.Duration(p.TotalSleepDuration) * time.Second
		if p.BedtimeEnd != "" {
			if t, err := iso8601.ParseString(p.BedtimeEnd); err == nil {
				b.WakeTime = t
			}
		}
		if p.LowestHeartRate != nil {
			b.RestingHR = *p.LowestHeartRate
		}
	}

	// No sleep period HR: the floor of the overnight stream stands in.
	if b.RestingHR <= 0 {
		to := b.WakeTime
		if to.IsZero() {
			to = b.FetchedAt
		}
		samples, err := c.FetchRecentHeartRate(ctx, to.Add(-12*time.Hour), to)
		if err != nil {
			return model.DailyBaseline{}, err
		}
		b.RestingHR = minBPM(samples)
	}
	return b, nil
}

// FetchRecentHeartRate returns the measured stream in [from, to), oldest
// first.
func (c *OuraClient) FetchRecentHeartRate(ctx context.Context, from, to time.Time) ([]model.HeartRateSample, error) {
	q := url.Values{
		"start_datetime": {from.UTC().Format(time.RFC3339)},
		"end_datetime":   {to.UTC().Format(time.RFC3339)},
	}
	records, err := fetchAll[heartRateRecord](ctx, c, "heartrate", q)
	if err != nil {
		return nil, err
	}

	out := make([]model.HeartRateSample, 0, len(records))
	for _, r := range records {
		ts, err := iso8601.ParseString(r.Timestamp)
		if err != nil || r.BPM <= 0 {
			continue
		}
		if ts.Before(from) || !ts.Before(to) {
			continue
		}
		out = append(out, model.HeartRateSample{Timestamp: ts, BPM: r.BPM, Provenance: model.Measured})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func fetchAll[T any](ctx context.Context, c *OuraClient, endpoint string, q url.Values) ([]T, error) {
	var out []T
	q = cloneValues(q)
	for range maxPages {
		var p page[T]
		if err := c.get(ctx, endpoint, q, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Data...)
		if p.NextToken == nil || *p.NextToken == "" {
			return out, nil
		}
		q.Set("next_token", *p.NextToken)
	}
	return out, nil
}

func (c *OuraClient) get(ctx context.Context, endpoint string, q url.Values, result any) error {
	u := c.baseURL + "/" + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &FatalError{Op: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RetryableError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return &RetryableError{Op: endpoint, Err: fmt.Errorf("read body: %w", err)}
	}
	if err := classifyStatus(endpoint, resp, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return &FatalError{Op: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func classifyStatus(op string, resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	err := fmt.Errorf("HTTP %d: %s", code, snippet(body))
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return &FatalError{Op: op, Err: err}
	case code == http.StatusTooManyRequests:
		return &RetryableError{Op: op, Err: err, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	case code >= 500, code == http.StatusRequestTimeout:
		return &RetryableError{Op: op, Err: err}
	default:
		return &FatalError{Op: op, Err: err}
	}
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func lastForDay[T any](records []T, date string, day func(T) string) (T, bool) {
	var zero T
	for i := len(records) - 1; i >= 0; i-- {
		if day(records[i]) == date {
			return records[i], true
		}
	}
	return zero, false
}

// primarySleep prefers the long_sleep period of date, falling back to the
// longest period that day.
func primarySleep(periods []sleepRecord, date string) (sleepRecord, bool) {
	var best sleepRecord
	found := false
	for _, p := range periods {
		if p.Day != date {
			continue
		}
		if p.Type == "long_sleep" {
			return p, true
		}
		if !found || p.TotalSleepDuration > best.TotalSleepDuration {
			best, found = p, true
		}
	}
	return best, found
}

func minBPM(samples []model.HeartRateSample) float64 {
	lowest := 0.0
	for _, s := range samples {
		if lowest == 0 || s.BPM < lowest {
			lowest = s.BPM
		}
	}
	return lowest
}

func cloneValues(q url.Values) url.Values {
	out := make(url.Values, len(q))
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
