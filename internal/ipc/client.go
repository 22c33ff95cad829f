package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/anthropic/lifeos/internal/model"
)

// maxResponse bounds a single response line; history replies can be large.
const maxResponse = 64 << 20

// Client communicates with the daemon over a Unix domain socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a new IPC client that connects to the given socket path.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// Ping tests if the daemon is alive.
func (c *Client) Ping() error {
	_, err := c.send(Request{Command: CmdPing})
	return err
}

// Status returns the daemon's status data.
func (c *Client) Status() (*StatusData, error) {
	var status StatusData
	if err := c.call(Request{Command: CmdStatus}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Snapshot returns the latest committed snapshot.
func (c *Client) Snapshot() (*model.ResourceSnapshot, error) {
	var snap model.ResourceSnapshot
	if err := c.call(Request{Command: CmdSnapshot}, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// History returns stored snapshots over the last since, at most limit rows.
func (c *Client) History(since time.Duration, limit int) (*HistoryData, error) {
	args := map[string]string{"scope": "snapshots", "since": since.String()}
	if limit > 0 {
		args["limit"] = strconv.Itoa(limit)
	}
	return c.history(args)
}

// DailyHistory returns the daily summaries of the last n days.
func (c *Client) DailyHistory(days int) (*HistoryData, error) {
	return c.history(map[string]string{"scope": "daily", "days": strconv.Itoa(days)})
}

// WeeklyHistory returns the n most recent weekly summaries.
func (c *Client) WeeklyHistory(weeks int) (*HistoryData, error) {
	return c.history(map[string]string{"scope": "weekly", "weeks": strconv.Itoa(weeks)})
}

func (c *Client) history(args map[string]string) (*HistoryData, error) {
	var h HistoryData
	if err := c.call(Request{Command: CmdHistory, Args: args}, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// HeartRate returns heart-rate samples over the last since; an empty
// provenance returns both streams.
func (c *Client) HeartRate(since time.Duration, prov model.Provenance) (*HeartRateData, error) {
	args := map[string]string{"since": since.String()}
	if prov != "" {
		args["provenance"] = string(prov)
	}
	var hr HeartRateData
	if err := c.call(Request{Command: CmdHeartRate, Args: args}, &hr); err != nil {
		return nil, err
	}
	return &hr, nil
}

// Forecast returns the projected trajectory under scenario.
func (c *Client) Forecast(scenario string) (*ForecastData, error) {
	var f ForecastData
	if err := c.call(Request{Command: CmdForecast, Args: map[string]string{"scenario": scenario}}, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// RecordEvent feeds one input event to the activity aggregator.
func (c *Client) RecordEvent(kind string, magnitude float64) error {
	_, err := c.send(Request{Command: CmdEvent, Args: map[string]string{
		"kind":      kind,
		"magnitude": strconv.FormatFloat(magnitude, 'f', -1, 64),
	}})
	return err
}

// RefreshBiometrics asks the daemon to poll the provider now.
func (c *Client) RefreshBiometrics() error {
	_, err := c.send(Request{Command: CmdRefresh})
	return err
}

// RequestStop asks the daemon to shut down gracefully.
func (c *Client) RequestStop() error {
	_, err := c.send(Request{Command: CmdStop})
	return err
}

// call sends req and decodes the response data into out.
func (c *Client) call(req Request, out interface{}) error {
	resp, err := c.send(req)
	if err != nil {
		return err
	}

	// resp.Data is a generic value from JSON unmarshal.
	// Re-marshal and unmarshal into the typed result.
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return fmt.Errorf("marshal %s data: %w", req.Command, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal %s data: %w", req.Command, err)
	}
	return nil
}

// send dials the socket, sends a JSON request, reads the JSON response.
func (c *Client) send(req Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponse)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("empty response from daemon")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if !resp.OK {
		return nil, fmt.Errorf("daemon error: %s", resp.Error)
	}

	return &resp, nil
}
