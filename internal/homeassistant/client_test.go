package homeassistant

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(serverURL string) *Client {
	return &Client{
		baseURL: serverURL,
		token:   "test-token",
		http:    &http.Client{Timeout: time.Second},
	}
}

func TestTurnOnPostsServiceCall(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	ok := c.TurnOn("switch.water_pump")

	assert.True(t, ok)
	assert.Equal(t, "/api/services/switch/turn_on", gotPath)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, map[string]string{"entity_id": "switch.water_pump"}, gotBody)
}

func TestTurnOffPostsServiceCall(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	assert.True(t, testClient(srv.URL).TurnOff("switch.zone_valve"))
	assert.Equal(t, "/api/services/switch/turn_off", gotPath)
}

func TestSwitchCallsReportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	assert.False(t, c.TurnOn("switch.water_pump"))
	assert.False(t, c.TurnOff("switch.water_pump"))

	// Unreachable hub is also just false, never a panic or error
	srv.Close()
	assert.False(t, c.TurnOn("switch.water_pump"))
}

func TestSwitchState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/states/switch.water_pump", r.URL.Path)
		json.NewEncoder(w).Encode(entityState{EntityID: "switch.water_pump", State: "on"})
	}))
	defer srv.Close()

	assert.Equal(t, "on", testClient(srv.URL).SwitchState("switch.water_pump"))
}

func TestSwitchStateUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	assert.Equal(t, "", testClient(srv.URL).SwitchState("switch.missing"))
}

func TestListSwitchesFiltersByDomain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/states", r.URL.Path)
		json.NewEncoder(w).Encode([]entityState{
			{EntityID: "switch.water_pump", State: "off",
				Attributes: map[string]interface{}{"friendly_name": "Water Pump"}},
			{EntityID: "light.grow_lamp", State: "on"},
			{EntityID: "sensor.humidity", State: "55"},
			{EntityID: "switch.zone_valve", State: "off"},
		})
	}))
	defer srv.Close()

	switches := testClient(srv.URL).ListSwitches()
	require.Len(t, switches, 2)
	assert.Equal(t, "switch.water_pump", switches[0].EntityID)
	assert.Equal(t, "Water Pump", switches[0].FriendlyName)

	// Entity ID stands in when no friendly name is set
	assert.Equal(t, "switch.zone_valve", switches[1].FriendlyName)
}

func TestPublishSensor(t *testing.T) {
	var gotPath string
	var gotPayload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotPayload)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := testClient(srv.URL).PublishSensor("water_usage_today", "Water Usage Today", 7.5, "L")
	require.NoError(t, err)
	assert.Equal(t, "/api/states/sensor.water_usage_today", gotPath)
	assert.Equal(t, 7.5, gotPayload["state"])
}
