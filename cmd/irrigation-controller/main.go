package main

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/db"
	"github.com/thatsimonsguy/irrigation-controller/internal/api"
	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/datadog"
	"github.com/thatsimonsguy/irrigation-controller/internal/homeassistant"
	"github.com/thatsimonsguy/irrigation-controller/internal/logging"
	"github.com/thatsimonsguy/irrigation-controller/internal/notifications"
	"github.com/thatsimonsguy/irrigation-controller/internal/scheduler"
	"github.com/thatsimonsguy/irrigation-controller/internal/session"
	"github.com/thatsimonsguy/irrigation-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogFile, cfg.LogLevel)

	log.Info().
		Str("db_file", cfg.DBPath).
		Int("port", cfg.Port).
		Msg("Starting irrigation controller")

	datadog.InitMetrics(cfg)
	notifications.Init(cfg.NtfyTopic)

	conn, err := db.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer conn.Close()

	if err := db.InitSchema(conn); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database schema")
	}

	loadStoredDefaults(conn, cfg)

	hub := homeassistant.NewClient(cfg)
	manager := session.NewManager(conn, hub)
	engine := scheduler.NewEngine(conn, manager, time.Duration(cfg.PollIntervalSeconds)*time.Second)

	if err := engine.Reload(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load schedules")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go manager.Run(ctx)
	go engine.Run(ctx)
	go publishUsage(ctx, conn, hub)
	go shutdown.HandleSignals(cancel, manager)

	server := api.NewServer(conn, manager, engine, hub, cfg)
	if err := server.Start(cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("API server stopped")
	}
}

// loadStoredDefaults lets flow-rate defaults saved in the settings table
// override the config file, and seeds the table from config on first run.
func loadStoredDefaults(conn *sql.DB, cfg *config.Config) {
	if v, err := db.GetSetting(conn, "dripper_flow_rate", ""); err == nil && v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate > 0 {
			cfg.DripperFlowRate = rate
		}
	}
	if v, err := db.GetSetting(conn, "drippers_per_plant", ""); err == nil && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DrippersPerPlant = n
		}
	}

	if err := db.SetSetting(conn, "dripper_flow_rate",
		strconv.FormatFloat(cfg.DripperFlowRate, 'f', -1, 64)); err != nil {
		log.Warn().Err(err).Msg("Failed to persist dripper_flow_rate setting")
	}
	if err := db.SetSetting(conn, "drippers_per_plant",
		strconv.Itoa(cfg.DrippersPerPlant)); err != nil {
		log.Warn().Err(err).Msg("Failed to persist drippers_per_plant setting")
	}
}

// publishUsage periodically pushes today's total water usage to the hub as a
// sensor entity, so dashboards can chart it without polling our API.
func publishUsage(ctx context.Context, conn *sql.DB, hub *homeassistant.Client) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, err := db.GetSystemStatus(conn)
			if err != nil {
				log.Error().Err(err).Msg("Failed to read usage for sensor publish")
				continue
			}
			err = hub.PublishSensor("irrigation_water_today", "Irrigation Water Today",
				status.WaterUsageToday, "L")
			if err != nil {
				log.Debug().Err(err).Msg("Usage sensor publish failed")
			}
		}
	}
}
