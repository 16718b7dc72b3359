package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

func parseTimestamp(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, s.String)
	return t
}

// GetAllRooms retrieves all rooms with their zone counts, oldest first.
func GetAllRooms(conn *sql.DB) ([]model.Room, error) {
	rows, err := conn.Query(`
		SELECT r.id, r.name, r.type, r.description, r.created_at, r.updated_at, COUNT(z.id)
		FROM rooms r
		LEFT JOIN zones z ON r.id = z.room_id
		GROUP BY r.id
		ORDER BY r.created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []model.Room
	for rows.Next() {
		var r model.Room
		var createdAt, updatedAt sql.NullString
		err = rows.Scan(&r.ID, &r.Name, &r.Type, &r.Description, &createdAt, &updatedAt, &r.ZoneCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		r.CreatedAt = parseTimestamp(createdAt)
		r.UpdatedAt = parseTimestamp(updatedAt)
		rooms = append(rooms, r)
	}
	return rooms, nil
}

// GetRoomByID retrieves a specific room by its ID.
func GetRoomByID(conn *sql.DB, id string) (*model.Room, error) {
	var r model.Room
	var createdAt, updatedAt sql.NullString
	err := conn.QueryRow(`SELECT id, name, type, description, created_at, updated_at FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.Type, &r.Description, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", id, err)
	}
	r.CreatedAt = parseTimestamp(createdAt)
	r.UpdatedAt = parseTimestamp(updatedAt)
	return &r, nil
}

// GetAllZones retrieves all zones with room information, ordered by room name
// then zone name.
func GetAllZones(conn *sql.DB) ([]model.Zone, error) {
	rows, err := conn.Query(`
		SELECT z.id, z.name, z.room_id, z.plant_count, z.pump_entity, z.solenoid_entity,
		       z.flow_rate, z.active, z.created_at, z.updated_at, r.name, r.type
		FROM zones z
		JOIN rooms r ON z.room_id = r.id
		ORDER BY r.name, z.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query zones: %w", err)
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		z, err := scanZone(rows, true)
		if err != nil {
			return nil, err
		}
		zones = append(zones, *z)
	}
	return zones, nil
}

// GetZoneByID retrieves a specific zone by its ID.
func GetZoneByID(conn *sql.DB, id string) (*model.Zone, error) {
	var z model.Zone
	var pump, solenoid sql.NullString
	var createdAt, updatedAt sql.NullString
	err := conn.QueryRow(`
		SELECT z.id, z.name, z.room_id, z.plant_count, z.pump_entity, z.solenoid_entity,
		       z.flow_rate, z.active, z.created_at, z.updated_at, r.name, r.type
		FROM zones z
		JOIN rooms r ON z.room_id = r.id
		WHERE z.id = ?`, id).
		Scan(&z.ID, &z.Name, &z.RoomID, &z.PlantCount, &pump, &solenoid,
			&z.FlowRate, &z.Active, &createdAt, &updatedAt, &z.RoomName, &z.RoomType)
	if err != nil {
		return nil, fmt.Errorf("failed to get zone %s: %w", id, err)
	}
	z.PumpEntity = pump.String
	z.SolenoidEntity = solenoid.String
	z.CreatedAt = parseTimestamp(createdAt)
	z.UpdatedAt = parseTimestamp(updatedAt)
	return &z, nil
}

func scanZone(rows *sql.Rows, withRoom bool) (*model.Zone, error) {
	var z model.Zone
	var pump, solenoid sql.NullString
	var createdAt, updatedAt sql.NullString

	var err error
	if withRoom {
		err = rows.Scan(&z.ID, &z.Name, &z.RoomID, &z.PlantCount, &pump, &solenoid,
			&z.FlowRate, &z.Active, &createdAt, &updatedAt, &z.RoomName, &z.RoomType)
	} else {
		err = rows.Scan(&z.ID, &z.Name, &z.RoomID, &z.PlantCount, &pump, &solenoid,
			&z.FlowRate, &z.Active, &createdAt, &updatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan zone: %w", err)
	}
	z.PumpEntity = pump.String
	z.SolenoidEntity = solenoid.String
	z.CreatedAt = parseTimestamp(createdAt)
	z.UpdatedAt = parseTimestamp(updatedAt)
	return &z, nil
}

// GetAllSchedules retrieves all schedules with zone and room names, ordered by
// schedule name.
func GetAllSchedules(conn *sql.DB) ([]model.Schedule, error) {
	rows, err := conn.Query(`
		SELECT s.id, s.name, s.zone_id, s.duration, s.frequency, s.times, s.days,
		       s.active, s.created_at, s.updated_at, z.name, r.name
		FROM schedules s
		JOIN zones z ON s.zone_id = z.id
		JOIN rooms r ON z.room_id = r.id
		ORDER BY s.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		var s model.Schedule
		var times string
		var days sql.NullString
		var createdAt, updatedAt sql.NullString
		err = rows.Scan(&s.ID, &s.Name, &s.ZoneID, &s.Duration, &s.Frequency, &times, &days,
			&s.Active, &createdAt, &updatedAt, &s.ZoneName, &s.RoomName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		json.Unmarshal([]byte(times), &s.Times)
		if days.Valid && days.String != "" {
			json.Unmarshal([]byte(days.String), &s.Days)
		}
		s.CreatedAt = parseTimestamp(createdAt)
		s.UpdatedAt = parseTimestamp(updatedAt)
		schedules = append(schedules, s)
	}
	return schedules, nil
}

// GetScheduleByID retrieves a specific schedule by its ID.
func GetScheduleByID(conn *sql.DB, id string) (*model.Schedule, error) {
	var s model.Schedule
	var times string
	var days sql.NullString
	var createdAt, updatedAt sql.NullString
	err := conn.QueryRow(`
		SELECT s.id, s.name, s.zone_id, s.duration, s.frequency, s.times, s.days,
		       s.active, s.created_at, s.updated_at, z.name, r.name
		FROM schedules s
		JOIN zones z ON s.zone_id = z.id
		JOIN rooms r ON z.room_id = r.id
		WHERE s.id = ?`, id).
		Scan(&s.ID, &s.Name, &s.ZoneID, &s.Duration, &s.Frequency, &times, &days,
			&s.Active, &createdAt, &updatedAt, &s.ZoneName, &s.RoomName)
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule %s: %w", id, err)
	}
	json.Unmarshal([]byte(times), &s.Times)
	if days.Valid && days.String != "" {
		json.Unmarshal([]byte(days.String), &s.Days)
	}
	s.CreatedAt = parseTimestamp(createdAt)
	s.UpdatedAt = parseTimestamp(updatedAt)
	return &s, nil
}

type RoomUsage struct {
	RoomID    string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	WaterUsed float64 `json:"water_used"`
}

type ZoneUsage struct {
	ZoneID     string  `json:"id"`
	Name       string  `json:"name"`
	RoomName   string  `json:"room_name"`
	PlantCount int     `json:"plant_count"`
	WaterUsed  float64 `json:"water_used"`
}

type UsageStats struct {
	TotalToday float64     `json:"total_water_today"`
	Rooms      []RoomUsage `json:"rooms"`
	Zones      []ZoneUsage `json:"zones"`
}

// GetWaterUsageStats aggregates today's water usage in total, per room and per
// zone. Days are calendar days in UTC, matching the stored timestamps.
func GetWaterUsageStats(conn *sql.DB) (*UsageStats, error) {
	stats := &UsageStats{}

	err := conn.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM water_usage
		WHERE DATE(timestamp) = DATE('now')`).Scan(&stats.TotalToday)
	if err != nil {
		return nil, fmt.Errorf("failed to get total usage: %w", err)
	}

	rows, err := conn.Query(`
		SELECT r.id, r.name, r.type, COALESCE(SUM(w.amount), 0)
		FROM rooms r
		LEFT JOIN water_usage w ON r.id = w.room_id AND DATE(w.timestamp) = DATE('now')
		GROUP BY r.id, r.name, r.type
		ORDER BY r.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query room usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ru RoomUsage
		if err := rows.Scan(&ru.RoomID, &ru.Name, &ru.Type, &ru.WaterUsed); err != nil {
			return nil, fmt.Errorf("failed to scan room usage: %w", err)
		}
		stats.Rooms = append(stats.Rooms, ru)
	}

	zoneRows, err := conn.Query(`
		SELECT z.id, z.name, r.name, z.plant_count, COALESCE(SUM(w.amount), 0)
		FROM zones z
		JOIN rooms r ON z.room_id = r.id
		LEFT JOIN water_usage w ON z.id = w.zone_id AND DATE(w.timestamp) = DATE('now')
		GROUP BY z.id, z.name, r.name, z.plant_count
		ORDER BY r.name, z.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query zone usage: %w", err)
	}
	defer zoneRows.Close()
	for zoneRows.Next() {
		var zu ZoneUsage
		if err := zoneRows.Scan(&zu.ZoneID, &zu.Name, &zu.RoomName, &zu.PlantCount, &zu.WaterUsed); err != nil {
			return nil, fmt.Errorf("failed to scan zone usage: %w", err)
		}
		stats.Zones = append(stats.Zones, zu)
	}

	return stats, nil
}

type SystemStatus struct {
	SystemActive    bool    `json:"system_active"`
	TotalRooms      int     `json:"total_rooms"`
	TotalZones      int     `json:"total_zones"`
	ActiveSchedules int     `json:"active_schedules"`
	TotalPlants     int     `json:"total_plants"`
	WaterUsageToday float64 `json:"water_usage_today"`
}

// GetSystemStatus returns entity counts and today's total water usage.
func GetSystemStatus(conn *sql.DB) (*SystemStatus, error) {
	status := &SystemStatus{SystemActive: true}

	err := conn.QueryRow(`SELECT COUNT(*) FROM rooms`).Scan(&status.TotalRooms)
	if err != nil {
		return nil, fmt.Errorf("failed to count rooms: %w", err)
	}
	err = conn.QueryRow(`SELECT COUNT(*) FROM zones`).Scan(&status.TotalZones)
	if err != nil {
		return nil, fmt.Errorf("failed to count zones: %w", err)
	}
	err = conn.QueryRow(`SELECT COUNT(*) FROM schedules WHERE active = 1`).Scan(&status.ActiveSchedules)
	if err != nil {
		return nil, fmt.Errorf("failed to count schedules: %w", err)
	}
	err = conn.QueryRow(`SELECT COALESCE(SUM(plant_count), 0) FROM zones`).Scan(&status.TotalPlants)
	if err != nil {
		return nil, fmt.Errorf("failed to count plants: %w", err)
	}
	err = conn.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM water_usage
		WHERE DATE(timestamp) = DATE('now')`).Scan(&status.WaterUsageToday)
	if err != nil {
		return nil, fmt.Errorf("failed to get today's usage: %w", err)
	}

	return status, nil
}

// GetLastWatering returns the timestamp of the most recent usage record, or a
// zero time when nothing has been watered yet.
func GetLastWatering(conn *sql.DB) (time.Time, error) {
	var ts sql.NullString
	err := conn.QueryRow(`SELECT MAX(timestamp) FROM water_usage`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last watering: %w", err)
	}
	return parseTimestamp(ts), nil
}

// GetSetting returns the value for key, or fallback when the key is unset.
func GetSetting(conn *sql.DB, key, fallback string) (string, error) {
	var value string
	err := conn.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}
