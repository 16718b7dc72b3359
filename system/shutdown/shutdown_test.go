package shutdown

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/irrigation-controller/db"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/session"
)

type nopGateway struct{}

func (nopGateway) TurnOn(string) bool  { return true }
func (nopGateway) TurnOff(string) bool { return true }

func TestShutdownStopsWateringAndExits(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, db.InitSchema(conn))

	room, err := db.CreateRoom(conn, &model.Room{Name: "Veg Room", Type: model.RoomTypeVegetative})
	require.NoError(t, err)
	zone, err := db.CreateZone(conn, &model.Zone{
		Name: "Tomatoes", RoomID: room.ID, PlantCount: 1, FlowRate: 4.0, Active: true,
	})
	require.NoError(t, err)

	manager := session.NewManager(conn, nopGateway{})
	require.NoError(t, manager.Start(zone.ID, 30))

	exitCode := -1
	exit = func(code int) { exitCode = code }
	defer func() { exit = os.Exit }()

	ctx, cancel := context.WithCancel(context.Background())
	Shutdown(cancel, manager)

	assert.Empty(t, manager.ActiveZones())
	assert.Equal(t, 0, exitCode, "the daemon must terminate, not linger in the HTTP server")

	select {
	case <-ctx.Done():
	default:
		t.Fatal("background loops were not cancelled")
	}
}
