package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// CreateRoom inserts a new room and returns it with its generated ID.
func CreateRoom(conn *sql.DB, room *model.Room) (*model.Room, error) {
	tx, err := conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("start transaction: %w", err)
	}

	id := uuid.NewString()
	ts := now()
	_, err = tx.Exec(`INSERT INTO rooms (id, name, type, description, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, room.Name, string(room.Type), room.Description, ts, ts)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert room: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit room insert: %w", err)
	}

	return GetRoomByID(conn, id)
}

// UpdateRoom updates name, type and description of an existing room.
func UpdateRoom(conn *sql.DB, id string, room *model.Room) (*model.Room, error) {
	tx, err := conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("start transaction: %w", err)
	}

	res, err := tx.Exec(`UPDATE rooms SET name = ?, type = ?, description = ?, updated_at = ? WHERE id = ?`,
		room.Name, string(room.Type), room.Description, now(), id)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("update room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return nil, sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit room update: %w", err)
	}

	return GetRoomByID(conn, id)
}

// DeleteRoom removes a room. Its zones and their schedules go with it via
// foreign key cascades.
func DeleteRoom(conn *sql.DB, id string) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM rooms WHERE id = ?`, id)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("delete room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// CreateZone inserts a new zone. The owning room must exist.
func CreateZone(conn *sql.DB, zone *model.Zone) (*model.Zone, error) {
	tx, err := conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("start transaction: %w", err)
	}

	var roomID string
	err = tx.QueryRow(`SELECT id FROM rooms WHERE id = ?`, zone.RoomID).Scan(&roomID)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("check room: %w", err)
	}

	id := uuid.NewString()
	ts := now()
	_, err = tx.Exec(`INSERT INTO zones (id, name, room_id, plant_count, pump_entity, solenoid_entity, flow_rate, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, zone.Name, zone.RoomID, zone.PlantCount, zone.PumpEntity, zone.SolenoidEntity, zone.FlowRate, zone.Active, ts, ts)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert zone: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit zone insert: %w", err)
	}

	return GetZoneByID(conn, id)
}

// UpdateZone updates the mutable fields of an existing zone.
func UpdateZone(conn *sql.DB, id string, zone *model.Zone) (*model.Zone, error) {
	tx, err := conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("start transaction: %w", err)
	}

	res, err := tx.Exec(`UPDATE zones SET name = ?, plant_count = ?, pump_entity = ?, solenoid_entity = ?, flow_rate = ?, active = ?, updated_at = ? WHERE id = ?`,
		zone.Name, zone.PlantCount, zone.PumpEntity, zone.SolenoidEntity, zone.FlowRate, zone.Active, now(), id)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("update zone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return nil, sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit zone update: %w", err)
	}

	return GetZoneByID(conn, id)
}

// DeleteZone removes a zone and cascades to its schedules.
func DeleteZone(conn *sql.DB, id string) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM zones WHERE id = ?`, id)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("delete zone: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// CreateSchedule inserts a new schedule. The owning zone must exist.
func CreateSchedule(conn *sql.DB, schedule *model.Schedule) (*model.Schedule, error) {
	tx, err := conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("start transaction: %w", err)
	}

	var zoneID string
	err = tx.QueryRow(`SELECT id FROM zones WHERE id = ?`, schedule.ZoneID).Scan(&zoneID)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("check zone: %w", err)
	}

	id := uuid.NewString()
	ts := now()
	_, err = tx.Exec(`INSERT INTO schedules (id, name, zone_id, duration, frequency, times, days, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, schedule.Name, schedule.ZoneID, schedule.Duration, string(schedule.Frequency),
		marshalJSON(schedule.Times), marshalJSON(schedule.Days), schedule.Active, ts, ts)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit schedule insert: %w", err)
	}

	return GetScheduleByID(conn, id)
}

// UpdateSchedule updates the mutable fields of an existing schedule.
func UpdateSchedule(conn *sql.DB, id string, schedule *model.Schedule) (*model.Schedule, error) {
	tx, err := conn.Begin()
	if err != nil {
		return nil, fmt.Errorf("start transaction: %w", err)
	}

	res, err := tx.Exec(`UPDATE schedules SET name = ?, duration = ?, frequency = ?, times = ?, days = ?, active = ?, updated_at = ? WHERE id = ?`,
		schedule.Name, schedule.Duration, string(schedule.Frequency),
		marshalJSON(schedule.Times), marshalJSON(schedule.Days), schedule.Active, now(), id)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return nil, sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit schedule update: %w", err)
	}

	return GetScheduleByID(conn, id)
}

// DeleteSchedule removes a schedule.
func DeleteSchedule(conn *sql.DB, id string) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}

	res, err := tx.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// LogWaterUsage appends a usage record. Records are never updated or deleted.
func LogWaterUsage(conn *sql.DB, zoneID, roomID string, amount float64, durationMinutes int) error {
	_, err := conn.Exec(`INSERT INTO water_usage (zone_id, room_id, amount, duration, timestamp) VALUES (?, ?, ?, ?, ?)`,
		zoneID, roomID, amount, durationMinutes, now())
	if err != nil {
		return fmt.Errorf("insert water usage: %w", err)
	}
	return nil
}

// SetSetting upserts a string setting.
func SetSetting(conn *sql.DB, key, value string) error {
	_, err := conn.Exec(`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, now())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}
