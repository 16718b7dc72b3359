package session

import (
	"container/heap"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/db"
	"github.com/thatsimonsguy/irrigation-controller/internal/datadog"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/notifications"
)

var (
	ErrZoneNotFound        = errors.New("zone not found")
	ErrZoneInactive        = errors.New("zone is inactive")
	ErrZoneAlreadyWatering = errors.New("zone is already watering")
)

// Gateway switches remote actuators on and off. Implementations never return
// errors; a false result means the call failed and was already logged.
type Gateway interface {
	TurnOn(entityID string) bool
	TurnOff(entityID string) bool
}

// Manager owns the set of active watering sessions. It enforces at most one
// session per zone and runs a single loop that services all pending stop
// timers from a min-heap, so no session ties up a goroutine while watering.
type Manager struct {
	database *sql.DB
	gateway  Gateway

	mu     sync.Mutex
	active map[string]*model.WateringSession
	stops  stopHeap
	wake   chan struct{}

	now func() time.Time
}

type stopEntry struct {
	at     time.Time
	zoneID string
	// start identifies the session this entry was scheduled for, so an entry
	// left behind by a stopped session cannot end a later one early.
	start time.Time
}

type stopHeap []stopEntry

func (h stopHeap) Len() int            { return len(h) }
func (h stopHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h stopHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *stopHeap) Push(x interface{}) { *h = append(*h, x.(stopEntry)) }
func (h *stopHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

func NewManager(database *sql.DB, gateway Gateway) *Manager {
	return &Manager{
		database: database,
		gateway:  gateway,
		active:   make(map[string]*model.WateringSession),
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Start begins a watering session for a zone. The zone must exist, be active,
// and not already be watering. Actuator calls are handed off so the caller
// (the trigger engine's clock loop) is never stalled by a slow hub.
func (m *Manager) Start(zoneID string, durationMinutes int) error {
	if durationMinutes <= 0 {
		return fmt.Errorf("watering duration must be positive, got %d", durationMinutes)
	}

	zone, err := db.GetZoneByID(m.database, zoneID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrZoneNotFound
		}
		return fmt.Errorf("failed to load zone %s: %w", zoneID, err)
	}
	if !zone.Active {
		return ErrZoneInactive
	}

	m.mu.Lock()
	if _, watering := m.active[zoneID]; watering {
		m.mu.Unlock()
		return ErrZoneAlreadyWatering
	}
	start := m.now()
	sess := &model.WateringSession{
		ZoneID:   zoneID,
		Start:    start,
		Duration: durationMinutes,
		Zone:     *zone,
	}
	m.active[zoneID] = sess
	heap.Push(&m.stops, stopEntry{
		at:     start.Add(time.Duration(durationMinutes) * time.Minute),
		zoneID: zoneID,
		start:  start,
	})
	activeCount := len(m.active)
	m.mu.Unlock()

	m.signalWake()

	log.Info().
		Str("zone_id", zoneID).
		Str("zone", zone.Name).
		Int("duration_min", durationMinutes).
		Msg("Starting watering")

	datadog.Gauge("watering.active_zones", float64(activeCount))

	// Best-effort: a failed switch call never aborts the session. The stop is
	// already scheduled and physical state takes precedence over bookkeeping.
	go func() {
		if sess.Zone.PumpEntity != "" {
			if !m.gateway.TurnOn(sess.Zone.PumpEntity) {
				m.reportActuatorFailure(sess.Zone, sess.Zone.PumpEntity, "turn_on")
			}
		}
		if sess.Zone.SolenoidEntity != "" {
			if !m.gateway.TurnOn(sess.Zone.SolenoidEntity) {
				m.reportActuatorFailure(sess.Zone, sess.Zone.SolenoidEntity, "turn_on")
			}
		}
	}()

	return nil
}

// ManualWater triggers a watering outside the schedule engine. Same
// preconditions as Start; returns a human-readable confirmation on success.
func (m *Manager) ManualWater(zoneID string, durationMinutes int) (string, error) {
	if err := m.Start(zoneID, durationMinutes); err != nil {
		return "", err
	}
	return fmt.Sprintf("Started manual watering for %d minutes", durationMinutes), nil
}

// ActiveZones returns a snapshot of zone IDs with a watering in progress.
func (m *Manager) ActiveZones() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	zones := make([]string, 0, len(m.active))
	for id := range m.active {
		zones = append(zones, id)
	}
	sort.Strings(zones)
	return zones
}

// StopAll ends every active session immediately, so no pump is left running
// when the process exits. Usage is logged as if each session ran to plan.
func (m *Manager) StopAll() {
	for _, zoneID := range m.ActiveZones() {
		m.stop(zoneID)
	}
}

// Run services the stop-timer heap until ctx is cancelled. Each due stop runs
// in its own goroutine so one slow hub call cannot delay another zone's stop.
func (m *Manager) Run(ctx context.Context) {
	log.Info().Msg("Starting watering session manager")

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(m.nextWait())

		select {
		case <-ctx.Done():
			log.Info().Msg("Session manager shutting down")
			return
		case <-m.wake:
		case <-timer.C:
			for _, e := range m.popDue() {
				e := e
				go m.finish(e.zoneID, &e.start)
			}
		}
	}
}

func (m *Manager) nextWait() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.stops) == 0 {
		return time.Hour
	}
	wait := m.stops[0].at.Sub(m.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (m *Manager) popDue() []stopEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []stopEntry
	now := m.now()
	for len(m.stops) > 0 && !m.stops[0].at.After(now) {
		due = append(due, heap.Pop(&m.stops).(stopEntry))
	}
	return due
}

func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// stop ends the session for a zone. It is idempotent: calling it for a zone
// with no active session is a no-op, which guards against double-stops.
func (m *Manager) stop(zoneID string) {
	m.finish(zoneID, nil)
}

// finish ends a zone's session. When start is non-nil the live session must
// have begun at that instant; a mismatch means the stop entry belongs to an
// earlier session that was already ended, and it is discarded rather than
// cutting the current session short.
func (m *Manager) finish(zoneID string, start *time.Time) {
	m.mu.Lock()
	sess, ok := m.active[zoneID]
	if !ok || (start != nil && !sess.Start.Equal(*start)) {
		m.mu.Unlock()
		return
	}
	delete(m.active, zoneID)
	activeCount := len(m.active)
	m.mu.Unlock()

	log.Info().
		Str("zone_id", zoneID).
		Str("zone", sess.Zone.Name).
		Msg("Stopping watering")

	if sess.Zone.PumpEntity != "" {
		if !m.gateway.TurnOff(sess.Zone.PumpEntity) {
			m.reportActuatorFailure(sess.Zone, sess.Zone.PumpEntity, "turn_off")
		}
	}
	if sess.Zone.SolenoidEntity != "" {
		if !m.gateway.TurnOff(sess.Zone.SolenoidEntity) {
			m.reportActuatorFailure(sess.Zone, sess.Zone.SolenoidEntity, "turn_off")
		}
	}

	// Usage comes from the snapshotted flow rate and the planned duration, so
	// the amount is exact regardless of when this timer actually fired.
	waterUsed := sess.WaterUsed()

	if err := db.LogWaterUsage(m.database, sess.ZoneID, sess.Zone.RoomID, waterUsed, sess.Duration); err != nil {
		// The physical stop already happened; bookkeeping failures are logged
		// and dropped, never retried against completed hardware actions.
		log.Error().Err(err).Str("zone_id", zoneID).Msg("Failed to log water usage")
	}

	datadog.Gauge("watering.active_zones", float64(activeCount))
	datadog.Gauge("water.usage_liters", waterUsed,
		fmt.Sprintf("zone:%s", sess.Zone.Name),
		fmt.Sprintf("room:%s", sess.Zone.RoomName))

	log.Info().
		Str("zone_id", zoneID).
		Str("zone", sess.Zone.Name).
		Float64("liters", waterUsed).
		Int("duration_min", sess.Duration).
		Msg("Watering complete")
}

func (m *Manager) reportActuatorFailure(zone model.Zone, entityID, action string) {
	datadog.Count("actuator.failure", 1,
		fmt.Sprintf("zone:%s", zone.Name),
		fmt.Sprintf("action:%s", action))

	if err := notifications.Send(
		"Irrigation actuator failure",
		fmt.Sprintf("Zone %s: %s failed for %s", zone.Name, action, entityID),
	); err != nil {
		log.Debug().Err(err).Msg("Actuator failure notification not sent")
	}
}
