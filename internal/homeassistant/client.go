package homeassistant

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

// Client talks to the home-automation hub's REST API. All switch operations
// are best-effort: failures are logged and reported as false, never raised.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg *config.Config) *Client {
	baseURL := cfg.HomeAssistantURL
	token := os.Getenv("SUPERVISOR_TOKEN")
	if token != "" {
		// Running as a supervised add-on
		baseURL = "http://supervisor/core"
	} else {
		token = readTokenFile(cfg.TokenFile)
	}

	if token == "" {
		log.Warn().Msg("No Home Assistant token found. Please configure authentication.")
	}

	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func readTokenFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// TurnOn turns on a switch entity. Returns false on any failure.
func (c *Client) TurnOn(entityID string) bool {
	if err := c.callSwitchService("turn_on", entityID); err != nil {
		log.Error().Err(err).Str("entity", entityID).Msg("Failed to turn on switch")
		return false
	}
	log.Info().Str("entity", entityID).Msg("Turned on switch")
	return true
}

// TurnOff turns off a switch entity. Returns false on any failure.
func (c *Client) TurnOff(entityID string) bool {
	if err := c.callSwitchService("turn_off", entityID); err != nil {
		log.Error().Err(err).Str("entity", entityID).Msg("Failed to turn off switch")
		return false
	}
	log.Info().Str("entity", entityID).Msg("Turned off switch")
	return true
}

func (c *Client) callSwitchService(service, entityID string) error {
	url := fmt.Sprintf("%s/api/services/switch/%s", c.baseURL, service)
	body, _ := json.Marshal(map[string]string{"entity_id": entityID})

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub returned non-success status: %d", resp.StatusCode)
	}
	return nil
}

type entityState struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

// SwitchState returns the hub's reported state string for an entity, or ""
// when the hub cannot be reached.
func (c *Client) SwitchState(entityID string) string {
	url := fmt.Sprintf("%s/api/states/%s", c.baseURL, entityID)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Error().Err(err).Str("entity", entityID).Msg("Failed to create state request")
		return ""
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Error().Err(err).Str("entity", entityID).Msg("Failed to get switch state")
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Str("entity", entityID).Msg("Failed to get switch state")
		return ""
	}

	var state entityState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		log.Error().Err(err).Str("entity", entityID).Msg("Failed to decode switch state")
		return ""
	}
	return state.State
}

// ListSwitches enumerates all switch entities known to the hub.
func (c *Client) ListSwitches() []model.Switch {
	url := fmt.Sprintf("%s/api/states", c.baseURL)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create states request")
		return nil
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list switches")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error().Int("status", resp.StatusCode).Msg("Failed to list switches")
		return nil
	}

	var states []entityState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		log.Error().Err(err).Msg("Failed to decode states")
		return nil
	}

	var switches []model.Switch
	for _, s := range states {
		if !strings.HasPrefix(s.EntityID, "switch.") {
			continue
		}
		name := s.EntityID
		if fn, ok := s.Attributes["friendly_name"].(string); ok && fn != "" {
			name = fn
		}
		switches = append(switches, model.Switch{EntityID: s.EntityID, FriendlyName: name})
	}
	return switches
}

// PublishSensor creates or updates a sensor entity on the hub, used to expose
// daily water usage to dashboards.
func (c *Client) PublishSensor(sensorID, name string, state interface{}, unit string) error {
	url := fmt.Sprintf("%s/api/states/sensor.%s", c.baseURL, sensorID)

	payload := map[string]interface{}{
		"state": state,
		"attributes": map[string]interface{}{
			"friendly_name":       name,
			"unit_of_measurement": unit,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal sensor payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create sensor request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to publish sensor %s: %w", sensorID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub returned non-success status: %d", resp.StatusCode)
	}

	log.Debug().Str("sensor", sensorID).Msg("Published sensor state")
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
}
