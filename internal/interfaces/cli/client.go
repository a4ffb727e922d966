package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vizloop/enginecore/internal/domain/entity"
)

// Client is a thin HTTP client against a running engined's surface —
// enginectl never talks to the engine loop directly, only over the wire,
// the same separation the teacher's CLI keeps from its gateway process.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against baseURL (e.g. http://127.0.0.1:8080).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Health fetches GET /health.
func (c *Client) Health() (map[string]any, error) {
	var out map[string]any
	if err := c.getJSON("/health", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Pause calls POST /pause.
func (c *Client) Pause() error {
	_, err := c.http.Post(c.baseURL+"/pause", "application/json", nil)
	return err
}

// Unpause calls POST /unpause.
func (c *Client) Unpause() error {
	_, err := c.http.Post(c.baseURL+"/unpause", "application/json", nil)
	return err
}

// GetAllowedTools fetches GET /allowed_tools.
func (c *Client) GetAllowedTools() ([]string, error) {
	var out []string
	if err := c.getJSON("/allowed_tools", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetAllowedTools calls POST /allowed_tools with a full replacement list.
func (c *Client) SetAllowedTools(names []string) error {
	body, err := json.Marshal(names)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+"/allowed_tools", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("set allowed tools: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Runs fetches GET /runs.
func (c *Client) Runs() ([]entity.RunRecord, error) {
	var out []entity.RunRecord
	if err := c.getJSON("/runs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TailEvents streams GET /events?replay=N, invoking fn for each turn
// until the stream closes or fn returns false.
func (c *Client) TailEvents(replay int, fn func(*entity.Turn) bool) error {
	url := fmt.Sprintf("%s/events?replay=%d", c.baseURL, replay)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req) //nolint:bodyclose // closed below
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tail events: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var turn entity.Turn
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &turn); err != nil {
			continue
		}
		if !fn(&turn) {
			return nil
		}
	}
	return scanner.Err()
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
