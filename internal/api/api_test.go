package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/irrigation-controller/db"
	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/session"
)

type fakeManager struct {
	waterErr    error
	waterCalls  []string
	activeZones []string
}

func (m *fakeManager) ManualWater(zoneID string, durationMinutes int) (string, error) {
	m.waterCalls = append(m.waterCalls, zoneID)
	if m.waterErr != nil {
		return "", m.waterErr
	}
	return "Started manual watering for 5 minutes", nil
}

func (m *fakeManager) ActiveZones() []string {
	if m.activeZones == nil {
		return []string{}
	}
	return m.activeZones
}

type fakeEngine struct {
	reloads  int
	nextFire time.Time
}

func (e *fakeEngine) Reload() error { e.reloads++; return nil }

func (e *fakeEngine) NextFire() (time.Time, bool) {
	return e.nextFire, !e.nextFire.IsZero()
}

type fakeHub struct {
	switches []model.Switch
	states   map[string]string
}

func (h *fakeHub) ListSwitches() []model.Switch { return h.switches }

func (h *fakeHub) SwitchState(entityID string) string { return h.states[entityID] }

type testServer struct {
	*Server
	conn    *sql.DB
	manager *fakeManager
	engine  *fakeEngine
	hub     *fakeHub
}

func newTestServer(t *testing.T) *testServer {
	conn, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, db.InitSchema(conn))

	manager := &fakeManager{}
	engine := &fakeEngine{}
	hub := &fakeHub{}
	cfg := &config.Config{DripperFlowRate: 2.0, DrippersPerPlant: 2}

	return &testServer{
		Server:  NewServer(conn, manager, engine, hub, cfg),
		conn:    conn,
		manager: manager,
		engine:  engine,
		hub:     hub,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func (ts *testServer) seedRoom(t *testing.T) *model.Room {
	room, err := db.CreateRoom(ts.conn, &model.Room{Name: "Veg Room", Type: model.RoomTypeVegetative})
	require.NoError(t, err)
	return room
}

func (ts *testServer) seedZone(t *testing.T, roomID string) *model.Zone {
	zone, err := db.CreateZone(ts.conn, &model.Zone{
		Name: "Tomatoes", RoomID: roomID, PlantCount: 4, FlowRate: 8.0, Active: true,
		PumpEntity: "switch.pump",
	})
	require.NoError(t, err)
	return zone
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodOptions, "/api/rooms", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateAndListRooms(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/rooms",
		RoomRequest{Name: "Veg Room", Type: "vegetative", Description: "north wall"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rooms []model.Room
	decodeBody(t, rec, &rooms)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Veg Room", rooms[0].Name)
}

func TestListRoomsEmpty(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestCreateRoomValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/rooms", RoomRequest{Name: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.request(t, http.MethodPost, "/api/rooms", RoomRequest{Name: "X", Type: "greenhouse"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRoom(t *testing.T) {
	ts := newTestServer(t)
	room := ts.seedRoom(t)

	rec := ts.request(t, http.MethodPut, "/api/rooms/"+room.ID, RoomRequest{Name: "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := db.GetRoomByID(ts.conn, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
}

func TestRoomNotFound(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, ts.request(t, http.MethodGet, "/api/rooms/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.request(t, http.MethodDelete, "/api/rooms/nope", nil).Code)
}

func TestDeleteRoomReloadsEngine(t *testing.T) {
	ts := newTestServer(t)
	room := ts.seedRoom(t)
	zone := ts.seedZone(t, room.ID)

	_, err := db.CreateSchedule(ts.conn, &model.Schedule{
		Name: "Morning", ZoneID: zone.ID, Duration: 15,
		Frequency: model.FrequencyDaily, Times: []string{"08:00"}, Active: true,
	})
	require.NoError(t, err)

	rec := ts.request(t, http.MethodDelete, "/api/rooms/"+room.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.engine.reloads, "cascaded schedule deletes must refresh jobs")

	schedules, err := db.GetAllSchedules(ts.conn)
	require.NoError(t, err)
	assert.Empty(t, schedules)
}

func TestCreateZone(t *testing.T) {
	ts := newTestServer(t)
	room := ts.seedRoom(t)

	pump := "switch.pump"
	rec := ts.request(t, http.MethodPost, "/api/zones", ZoneRequest{
		Name: "Tomatoes", RoomID: room.ID, PlantCount: 5, PumpEntity: &pump,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Zone model.Zone `json:"zone"`
	}
	decodeBody(t, rec, &body)
	// Derived: 2 L/h per dripper, 2 drippers per plant, 5 plants
	assert.Equal(t, 20.0, body.Zone.FlowRate)
	assert.True(t, body.Zone.Active)
}

func TestCreateZoneMissingRoom(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/zones", ZoneRequest{Name: "Orphan", RoomID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateZonePartial(t *testing.T) {
	ts := newTestServer(t)
	room := ts.seedRoom(t)
	zone := ts.seedZone(t, room.ID)

	inactive := false
	rec := ts.request(t, http.MethodPut, "/api/zones/"+zone.ID, ZoneRequest{Active: &inactive})
	require.Equal(t, http.StatusOK, rec.Code)

	updated, err := db.GetZoneByID(ts.conn, zone.ID)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	// Untouched fields survive a partial update
	assert.Equal(t, "Tomatoes", updated.Name)
	assert.Equal(t, 8.0, updated.FlowRate)
}

func TestCreateSchedule(t *testing.T) {
	ts := newTestServer(t)
	room := ts.seedRoom(t)
	zone := ts.seedZone(t, room.ID)

	rec := ts.request(t, http.MethodPost, "/api/schedules", ScheduleRequest{
		Name: "Morning", ZoneID: zone.ID, Duration: 15,
		Frequency: "daily", Times: []string{"08:00"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, ts.engine.reloads)
}

func TestCreateScheduleValidation(t *testing.T) {
	ts := newTestServer(t)
	room := ts.seedRoom(t)
	zone := ts.seedZone(t, room.ID)

	// Weekly without days
	rec := ts.request(t, http.MethodPost, "/api/schedules", ScheduleRequest{
		Name: "Weekly", ZoneID: zone.ID, Duration: 15,
		Frequency: "weekly", Times: []string{"08:00"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown zone
	rec = ts.request(t, http.MethodPost, "/api/schedules", ScheduleRequest{
		Name: "Morning", ZoneID: "nope", Duration: 15,
		Frequency: "daily", Times: []string{"08:00"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, ts.engine.reloads)
}

func TestUpdateScheduleReloadsEngine(t *testing.T) {
	ts := newTestServer(t)
	room := ts.seedRoom(t)
	zone := ts.seedZone(t, room.ID)

	schedule, err := db.CreateSchedule(ts.conn, &model.Schedule{
		Name: "Morning", ZoneID: zone.ID, Duration: 15,
		Frequency: model.FrequencyDaily, Times: []string{"08:00"}, Active: true,
	})
	require.NoError(t, err)

	active := false
	rec := ts.request(t, http.MethodPut, "/api/schedules/"+schedule.ID, ScheduleRequest{Active: &active})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, ts.engine.reloads)

	updated, err := db.GetScheduleByID(ts.conn, schedule.ID)
	require.NoError(t, err)
	assert.False(t, updated.Active)
}

func TestManualWater(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/manual-water",
		ManualWaterRequest{ZoneID: "z1", Duration: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"z1"}, ts.manager.waterCalls)

	var body ResultResponse
	decodeBody(t, rec, &body)
	assert.True(t, body.Success)
	assert.Contains(t, body.Message, "manual watering")
}

func TestManualWaterRejectsNegativeDuration(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/manual-water",
		ManualWaterRequest{ZoneID: "z1", Duration: -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ts.manager.waterCalls)
}

func TestManualWaterErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"zone not found", session.ErrZoneNotFound, http.StatusNotFound},
		{"zone inactive", session.ErrZoneInactive, http.StatusConflict},
		{"already watering", session.ErrZoneAlreadyWatering, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.manager.waterErr = tc.err

			rec := ts.request(t, http.MethodPost, "/api/manual-water",
				ManualWaterRequest{ZoneID: "z1", Duration: 5})
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	room := ts.seedRoom(t)
	zone := ts.seedZone(t, room.ID)

	require.NoError(t, db.LogWaterUsage(ts.conn, zone.ID, room.ID, 4.0, 30))
	ts.manager.activeZones = []string{zone.ID}
	ts.engine.nextFire = time.Date(2026, 9, 2, 8, 0, 0, 0, time.UTC)

	rec := ts.request(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	decodeBody(t, rec, &body)
	assert.Equal(t, 1, body.TotalRooms)
	assert.Equal(t, 1, body.TotalZones)
	assert.Equal(t, 4, body.TotalPlants)
	assert.Equal(t, 4.0, body.WaterUsageToday)
	assert.Equal(t, []string{zone.ID}, body.ActiveZones)
	assert.NotEmpty(t, body.LastWatering)
	assert.Equal(t, "2026-09-02T08:00:00Z", body.NextWatering)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	room := ts.seedRoom(t)
	zone := ts.seedZone(t, room.ID)
	require.NoError(t, db.LogWaterUsage(ts.conn, zone.ID, room.ID, 2.5, 15))

	rec := ts.request(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats db.UsageStats
	decodeBody(t, rec, &stats)
	assert.Equal(t, 2.5, stats.TotalToday)
}

func TestEntities(t *testing.T) {
	ts := newTestServer(t)
	ts.hub.switches = []model.Switch{{EntityID: "switch.pump", FriendlyName: "Pump"}}

	rec := ts.request(t, http.MethodGet, "/api/entities", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Switches []model.Switch `json:"switches"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Switches, 1)
	assert.Equal(t, "switch.pump", body.Switches[0].EntityID)
}

func TestEntityState(t *testing.T) {
	ts := newTestServer(t)
	ts.hub.states = map[string]string{"switch.pump": "on"}

	rec := ts.request(t, http.MethodGet, "/api/entities/switch.pump", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "on", body["state"])

	// Unknown or unreachable entity
	rec = ts.request(t, http.MethodGet, "/api/entities/switch.missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusMethodNotAllowed,
		ts.request(t, http.MethodDelete, "/api/rooms", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed,
		ts.request(t, http.MethodGet, "/api/manual-water", nil).Code)
}
