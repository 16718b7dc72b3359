package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/db"
	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/session"
)

// WateringManager is the slice of the session manager the API needs.
type WateringManager interface {
	ManualWater(zoneID string, durationMinutes int) (string, error)
	ActiveZones() []string
}

// ScheduleEngine lets the API refresh jobs after schedule changes.
type ScheduleEngine interface {
	Reload() error
	NextFire() (time.Time, bool)
}

// HubClient enumerates switch entities for UI dropdowns and reports their
// live state.
type HubClient interface {
	ListSwitches() []model.Switch
	SwitchState(entityID string) string
}

type Server struct {
	db      *sql.DB
	manager WateringManager
	engine  ScheduleEngine
	hub     HubClient
	config  *config.Config
}

type RoomRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type ZoneRequest struct {
	Name           string   `json:"name"`
	RoomID         string   `json:"room_id"`
	PlantCount     int      `json:"plant_count"`
	PumpEntity     *string  `json:"pump_entity"`
	SolenoidEntity *string  `json:"solenoid_entity"`
	FlowRate       *float64 `json:"flow_rate"`
	Active         *bool    `json:"active"`
}

type ScheduleRequest struct {
	Name      string   `json:"name"`
	ZoneID    string   `json:"zone_id"`
	Duration  int      `json:"duration"`
	Frequency string   `json:"frequency"`
	Times     []string `json:"times"`
	Days      []string `json:"days"`
	Active    *bool    `json:"active"`
}

type ManualWaterRequest struct {
	ZoneID   string `json:"zone_id"`
	Duration int    `json:"duration"`
}

type ResultResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type StatusResponse struct {
	db.SystemStatus
	ActiveZones  []string `json:"active_zones"`
	LastWatering string   `json:"last_watering,omitempty"`
	NextWatering string   `json:"next_watering,omitempty"`
}

func NewServer(database *sql.DB, manager WateringManager, engine ScheduleEngine, hub HubClient, cfg *config.Config) *Server {
	return &Server{
		db:      database,
		manager: manager,
		engine:  engine,
		hub:     hub,
		config:  cfg,
	}
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting REST API server")

	return http.ListenAndServe(addr, s.Handler())
}

// Handler builds the routing table. Split from Start for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/rooms", s.handleRooms)
	mux.HandleFunc("/api/rooms/", s.handleRoomOperations)
	mux.HandleFunc("/api/zones", s.handleZones)
	mux.HandleFunc("/api/zones/", s.handleZoneOperations)
	mux.HandleFunc("/api/schedules", s.handleSchedules)
	mux.HandleFunc("/api/schedules/", s.handleScheduleOperations)
	mux.HandleFunc("/api/manual-water", s.handleManualWater)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/entities", s.handleEntities)
	mux.HandleFunc("/api/entities/", s.handleEntityState)

	// CORS middleware for the dashboard
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "Smart Irrigation Controller",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rooms, err := db.GetAllRooms(s.db)
		if err != nil {
			log.Error().Err(err).Msg("Failed to get rooms")
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if rooms == nil {
			rooms = []model.Room{}
		}
		s.writeJSON(w, http.StatusOK, rooms)
	case http.MethodPost:
		s.createRoom(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req RoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	room, err := model.NewRoom(req.Name, model.RoomType(req.Type), req.Description)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := db.CreateRoom(s.db, room)
	if err != nil {
		log.Error().Err(err).Str("room", req.Name).Msg("Failed to create room")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("room", created.Name).Str("room_id", created.ID).Msg("Created room")
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "room": created})
}

func (s *Server) handleRoomOperations(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "Room ID required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		room, err := db.GetRoomByID(s.db, id)
		if err != nil {
			s.writeLookupError(w, err, "Room not found")
			return
		}
		s.writeJSON(w, http.StatusOK, room)

	case http.MethodPut:
		var req RoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		existing, err := db.GetRoomByID(s.db, id)
		if err != nil {
			s.writeLookupError(w, err, "Room not found")
			return
		}
		if req.Name != "" {
			existing.Name = req.Name
		}
		if req.Type != "" {
			existing.Type = model.RoomType(req.Type)
		}
		if req.Description != "" {
			existing.Description = req.Description
		}
		if _, err := model.NewRoom(existing.Name, existing.Type, existing.Description); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		updated, err := db.UpdateRoom(s.db, id, existing)
		if err != nil {
			s.writeLookupError(w, err, "Room not found")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "room": updated})

	case http.MethodDelete:
		if err := db.DeleteRoom(s.db, id); err != nil {
			s.writeLookupError(w, err, "Room not found")
			return
		}
		// Cascaded schedule deletes must drop their jobs too
		s.reloadEngine()
		log.Info().Str("room_id", id).Msg("Deleted room")
		s.writeJSON(w, http.StatusOK, ResultResponse{Success: true})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		zones, err := db.GetAllZones(s.db)
		if err != nil {
			log.Error().Err(err).Msg("Failed to get zones")
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if zones == nil {
			zones = []model.Zone{}
		}
		s.writeJSON(w, http.StatusOK, zones)
	case http.MethodPost:
		s.createZone(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) createZone(w http.ResponseWriter, r *http.Request) {
	var req ZoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	var flowRate float64
	if req.FlowRate != nil {
		flowRate = *req.FlowRate
	}
	pump, solenoid := "", ""
	if req.PumpEntity != nil {
		pump = *req.PumpEntity
	}
	if req.SolenoidEntity != nil {
		solenoid = *req.SolenoidEntity
	}

	zone, err := model.NewZone(req.Name, req.RoomID, req.PlantCount, pump, solenoid,
		flowRate, s.config.DripperFlowRate, s.config.DrippersPerPlant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := db.CreateZone(s.db, zone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, http.StatusNotFound, "Room not found")
			return
		}
		log.Error().Err(err).Str("zone", req.Name).Msg("Failed to create zone")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("zone", created.Name).Str("zone_id", created.ID).Msg("Created zone")
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "zone": created})
}

func (s *Server) handleZoneOperations(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/zones/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "Zone ID required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		zone, err := db.GetZoneByID(s.db, id)
		if err != nil {
			s.writeLookupError(w, err, "Zone not found")
			return
		}
		s.writeJSON(w, http.StatusOK, zone)

	case http.MethodPut:
		var req ZoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		existing, err := db.GetZoneByID(s.db, id)
		if err != nil {
			s.writeLookupError(w, err, "Zone not found")
			return
		}
		if req.Name != "" {
			existing.Name = req.Name
		}
		if req.PlantCount > 0 {
			existing.PlantCount = req.PlantCount
		}
		if req.PumpEntity != nil {
			existing.PumpEntity = *req.PumpEntity
		}
		if req.SolenoidEntity != nil {
			existing.SolenoidEntity = *req.SolenoidEntity
		}
		if req.FlowRate != nil {
			existing.FlowRate = *req.FlowRate
		}
		if req.Active != nil {
			existing.Active = *req.Active
		}
		if existing.FlowRate < 0 || req.PlantCount < 0 {
			s.writeError(w, http.StatusBadRequest, "flow rate and plant count must be positive")
			return
		}
		updated, err := db.UpdateZone(s.db, id, existing)
		if err != nil {
			s.writeLookupError(w, err, "Zone not found")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "zone": updated})

	case http.MethodDelete:
		if err := db.DeleteZone(s.db, id); err != nil {
			s.writeLookupError(w, err, "Zone not found")
			return
		}
		s.reloadEngine()
		log.Info().Str("zone_id", id).Msg("Deleted zone")
		s.writeJSON(w, http.StatusOK, ResultResponse{Success: true})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		schedules, err := db.GetAllSchedules(s.db)
		if err != nil {
			log.Error().Err(err).Msg("Failed to get schedules")
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if schedules == nil {
			schedules = []model.Schedule{}
		}
		s.writeJSON(w, http.StatusOK, schedules)
	case http.MethodPost:
		s.createSchedule(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	schedule, err := model.NewSchedule(req.Name, req.ZoneID, req.Duration,
		model.Frequency(req.Frequency), req.Times, req.Days)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := db.CreateSchedule(s.db, schedule)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, http.StatusNotFound, "Zone not found")
			return
		}
		log.Error().Err(err).Str("schedule", req.Name).Msg("Failed to create schedule")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.reloadEngine()
	log.Info().Str("schedule", created.Name).Str("schedule_id", created.ID).Msg("Created schedule")
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "schedule": created})
}

func (s *Server) handleScheduleOperations(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "Schedule ID required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		schedule, err := db.GetScheduleByID(s.db, id)
		if err != nil {
			s.writeLookupError(w, err, "Schedule not found")
			return
		}
		s.writeJSON(w, http.StatusOK, schedule)

	case http.MethodPut:
		var req ScheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		existing, err := db.GetScheduleByID(s.db, id)
		if err != nil {
			s.writeLookupError(w, err, "Schedule not found")
			return
		}
		if req.Name != "" {
			existing.Name = req.Name
		}
		if req.Duration > 0 {
			existing.Duration = req.Duration
		}
		if req.Frequency != "" {
			existing.Frequency = model.Frequency(req.Frequency)
		}
		if req.Times != nil {
			existing.Times = req.Times
		}
		if req.Days != nil {
			existing.Days = req.Days
		}
		if req.Active != nil {
			existing.Active = *req.Active
		}
		validated, err := model.NewSchedule(existing.Name, existing.ZoneID, existing.Duration,
			existing.Frequency, existing.Times, existing.Days)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		validated.Active = existing.Active
		updated, err := db.UpdateSchedule(s.db, id, validated)
		if err != nil {
			s.writeLookupError(w, err, "Schedule not found")
			return
		}
		s.reloadEngine()
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "schedule": updated})

	case http.MethodDelete:
		if err := db.DeleteSchedule(s.db, id); err != nil {
			s.writeLookupError(w, err, "Schedule not found")
			return
		}
		s.reloadEngine()
		log.Info().Str("schedule_id", id).Msg("Deleted schedule")
		s.writeJSON(w, http.StatusOK, ResultResponse{Success: true})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleManualWater(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ManualWaterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Duration == 0 {
		req.Duration = 1
	}
	if req.Duration < 0 {
		s.writeError(w, http.StatusBadRequest, "Duration must be positive")
		return
	}

	msg, err := s.manager.ManualWater(req.ZoneID, req.Duration)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, ResultResponse{Success: true, Message: msg})
	case errors.Is(err, session.ErrZoneNotFound):
		s.writeError(w, http.StatusNotFound, "Zone not found")
	case errors.Is(err, session.ErrZoneInactive):
		s.writeError(w, http.StatusConflict, "Zone is inactive")
	case errors.Is(err, session.ErrZoneAlreadyWatering):
		s.writeError(w, http.StatusConflict, "Zone is already watering")
	default:
		log.Error().Err(err).Str("zone_id", req.ZoneID).Msg("Manual watering failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := db.GetSystemStatus(s.db)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get system status")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StatusResponse{
		SystemStatus: *status,
		ActiveZones:  s.manager.ActiveZones(),
	}
	if last, err := db.GetLastWatering(s.db); err == nil && !last.IsZero() {
		resp.LastWatering = last.Format(time.RFC3339)
	}
	if next, ok := s.engine.NextFire(); ok {
		resp.NextWatering = next.Format(time.RFC3339)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := db.GetWaterUsageStats(s.db)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get usage stats")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	switches := s.hub.ListSwitches()
	if switches == nil {
		switches = []model.Switch{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"switches": switches})
}

func (s *Server) handleEntityState(w http.ResponseWriter, r *http.Request) {
	entityID := strings.TrimPrefix(r.URL.Path, "/api/entities/")
	if entityID == "" || strings.Contains(entityID, "/") {
		s.writeError(w, http.StatusNotFound, "Entity ID required")
		return
	}

	state := s.hub.SwitchState(entityID)
	if state == "" {
		s.writeError(w, http.StatusNotFound, "Entity state unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"entity_id": entityID, "state": state})
}

func (s *Server) reloadEngine() {
	if err := s.engine.Reload(); err != nil {
		log.Error().Err(err).Msg("Failed to reload schedule jobs")
	}
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, sql.ErrNoRows) {
		s.writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	log.Error().Err(err).Msg("Database lookup failed")
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ResultResponse{Success: false, Error: msg})
}
