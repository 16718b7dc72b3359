package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type RoomType string

const (
	RoomTypeVegetative RoomType = "vegetative"
	RoomTypeFlowering  RoomType = "flowering"
)

type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        RoomType  `json:"type"`
	Description string    `json:"description"`
	ZoneCount   int       `json:"zone_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Zone struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	RoomID         string    `json:"room_id"`
	RoomName       string    `json:"room_name,omitempty"`
	RoomType       RoomType  `json:"room_type,omitempty"`
	PlantCount     int       `json:"plant_count"`
	PumpEntity     string    `json:"pump_entity"`
	SolenoidEntity string    `json:"solenoid_entity"`
	FlowRate       float64   `json:"flow_rate"` // liters per hour
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Schedule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ZoneID    string    `json:"zone_id"`
	ZoneName  string    `json:"zone_name,omitempty"`
	RoomName  string    `json:"room_name,omitempty"`
	Duration  int       `json:"duration"` // minutes
	Frequency Frequency `json:"frequency"`
	Times     []string  `json:"times"` // "HH:MM"
	Days      []string  `json:"days"`  // weekday names, weekly only
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// WateringSession tracks one in-progress watering. It holds a snapshot of the
// zone taken at start time so a concurrent zone edit cannot change the
// entities we switch off or the flow rate we bill against.
type WateringSession struct {
	ZoneID   string
	Start    time.Time
	Duration int // planned minutes, authoritative for usage accounting
	Zone     Zone
}

type WaterUsageRecord struct {
	ID        int64     `json:"id"`
	ZoneID    string    `json:"zone_id"`
	RoomID    string    `json:"room_id"`
	Amount    float64   `json:"amount"` // liters
	Duration  int       `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

// Switch is a controllable entity reported by the home-automation hub.
type Switch struct {
	EntityID     string `json:"id"`
	FriendlyName string `json:"name"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday resolves a weekday name (case-insensitive) to a time.Weekday.
func ParseWeekday(name string) (time.Weekday, error) {
	d, ok := weekdays[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("invalid weekday %q", name)
	}
	return d, nil
}

// ParseTimeOfDay validates an "HH:MM" string and returns its components.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func NewRoom(name string, roomType RoomType, description string) (*Room, error) {
	if name == "" {
		return nil, fmt.Errorf("room name is required")
	}
	if roomType == "" {
		roomType = RoomTypeVegetative
	}
	if roomType != RoomTypeVegetative && roomType != RoomTypeFlowering {
		return nil, fmt.Errorf("invalid room type %q", roomType)
	}
	return &Room{
		Name:        name,
		Type:        roomType,
		Description: description,
	}, nil
}

// NewZone builds a zone with a derived flow rate when none is given:
// dripperFlowRate L/h per dripper times drippersPerPlant times plant count.
func NewZone(name, roomID string, plantCount int, pumpEntity, solenoidEntity string, flowRate, dripperFlowRate float64, drippersPerPlant int) (*Zone, error) {
	if name == "" {
		return nil, fmt.Errorf("zone name is required")
	}
	if roomID == "" {
		return nil, fmt.Errorf("zone room_id is required")
	}
	if plantCount == 0 {
		plantCount = 1
	}
	if plantCount < 0 {
		return nil, fmt.Errorf("plant count must be positive")
	}
	if flowRate == 0 {
		flowRate = dripperFlowRate * float64(drippersPerPlant) * float64(plantCount)
	}
	if flowRate < 0 {
		return nil, fmt.Errorf("flow rate must be positive")
	}
	return &Zone{
		Name:           name,
		RoomID:         roomID,
		PlantCount:     plantCount,
		PumpEntity:     pumpEntity,
		SolenoidEntity: solenoidEntity,
		FlowRate:       flowRate,
		Active:         true,
	}, nil
}

func NewSchedule(name, zoneID string, duration int, frequency Frequency, times, days []string) (*Schedule, error) {
	if name == "" {
		return nil, fmt.Errorf("schedule name is required")
	}
	if zoneID == "" {
		return nil, fmt.Errorf("schedule zone_id is required")
	}
	if duration <= 0 {
		return nil, fmt.Errorf("schedule duration must be positive")
	}
	if frequency != FrequencyDaily && frequency != FrequencyWeekly {
		return nil, fmt.Errorf("invalid frequency %q", frequency)
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("schedule requires at least one time")
	}
	for _, t := range times {
		if _, _, err := ParseTimeOfDay(t); err != nil {
			return nil, err
		}
	}
	if frequency == FrequencyWeekly {
		if len(days) == 0 {
			return nil, fmt.Errorf("weekly schedule requires at least one day")
		}
		for _, d := range days {
			if _, err := ParseWeekday(d); err != nil {
				return nil, err
			}
		}
	}
	return &Schedule{
		Name:      name,
		ZoneID:    zoneID,
		Duration:  duration,
		Frequency: frequency,
		Times:     times,
		Days:      days,
		Active:    true,
	}, nil
}

// WaterUsed returns the liters delivered by a completed session. It uses the
// planned duration and the snapshotted flow rate, so the result is exact and
// independent of stop-timer jitter.
func (s *WateringSession) WaterUsed() float64 {
	return s.Zone.FlowRate * float64(s.Duration) / 60.0
}
