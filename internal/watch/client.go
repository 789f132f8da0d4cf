// Package watch renders a live mission board in the terminal, polling the
// control plane API.
package watch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"droneops-control/internal/fleet"
)

// Client is a thin read-only API client for the watch board.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the API at baseURL using a bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{baseURL: baseURL, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

// Login exchanges credentials for a bearer token.
func Login(baseURL, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	resp, err := http.Post(baseURL+"/api/v1/auth/login", "application/json",
		bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %s", resp.Status)
	}
	var sess struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return "", err
	}
	return sess.Token, nil
}

// Missions lists an organization's missions.
func (c *Client) Missions(ctx context.Context, orgID string) ([]fleet.Mission, error) {
	var out []fleet.Mission
	err := c.get(ctx, "/api/v1/organizations/"+orgID+"/missions", &out)
	return out, err
}

// Logs returns the most recent flight log rows for a mission.
func (c *Client) Logs(ctx context.Context, missionID string, limit int) ([]fleet.FlightLogEntry, error) {
	var out []fleet.FlightLogEntry
	err := c.get(ctx, fmt.Sprintf("/api/v1/missions/%s/logs?limit=%d", missionID, limit), &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&body) == nil && body.Error.Message != "" {
			return fmt.Errorf("GET %s: %s", path, body.Error.Message)
		}
		return fmt.Errorf("GET %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
