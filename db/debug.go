package db

import (
	"fmt"
	"strings"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

func DumpRoomsCLI(dbPath string) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	rooms, err := GetAllRooms(conn)
	if err != nil {
		return err
	}
	for _, r := range rooms {
		fmt.Printf("%s  %-20s %-10s zones=%d\n", r.ID, r.Name, r.Type, r.ZoneCount)
	}
	if len(rooms) == 0 {
		fmt.Println("No rooms configured")
	}
	return nil
}

func DumpZonesCLI(dbPath string) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	zones, err := GetAllZones(conn)
	if err != nil {
		return err
	}
	for _, z := range zones {
		state := "inactive"
		if z.Active {
			state = "active"
		}
		fmt.Printf("%s  %-20s room=%-20s plants=%d flow=%.1fL/h %s\n",
			z.ID, z.Name, z.RoomName, z.PlantCount, z.FlowRate, state)
	}
	if len(zones) == 0 {
		fmt.Println("No zones configured")
	}
	return nil
}

func DumpSchedulesCLI(dbPath string) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	schedules, err := GetAllSchedules(conn)
	if err != nil {
		return err
	}
	for _, s := range schedules {
		days := ""
		if s.Frequency == model.FrequencyWeekly {
			days = " on " + strings.Join(s.Days, ",")
		}
		fmt.Printf("%s  %-20s zone=%-20s %dmin %s at %s%s\n",
			s.ID, s.Name, s.ZoneName, s.Duration, s.Frequency, strings.Join(s.Times, ","), days)
	}
	if len(schedules) == 0 {
		fmt.Println("No schedules configured")
	}
	return nil
}

func DumpUsageCLI(dbPath string) error {
	conn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	stats, err := GetWaterUsageStats(conn)
	if err != nil {
		return err
	}
	fmt.Printf("Total today: %.2fL\n", stats.TotalToday)
	for _, r := range stats.Rooms {
		fmt.Printf("  room %-20s %.2fL\n", r.Name, r.WaterUsed)
	}
	for _, z := range stats.Zones {
		fmt.Printf("  zone %-20s (%s) %.2fL\n", z.Name, z.RoomName, z.WaterUsed)
	}
	return nil
}
