package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thatsimonsguy/irrigation-controller/db"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var dbPath, command string
	flag.StringVar(&dbPath, "db", "data/irrigation.db", "Path to the SQLite database file")
	flag.StringVar(&command, "cmd", "", "Command to run: rooms, zones, schedules, usage")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help || command == "" {
		fmt.Println("\nUsage of irrigation-debug:")
		fmt.Println("  -db string\tPath to the SQLite database file (default 'data/irrigation.db')")
		fmt.Println("  -cmd string\tCommand to run: rooms, zones, schedules, usage")
		fmt.Println("  -help\tShow this help message")
		os.Exit(0)
	}

	var err error
	switch command {
	case "rooms":
		err = db.DumpRoomsCLI(dbPath)
	case "zones":
		err = db.DumpZonesCLI(dbPath)
	case "schedules":
		err = db.DumpSchedulesCLI(dbPath)
	case "usage":
		err = db.DumpUsageCLI(dbPath)
	default:
		fmt.Println("Invalid command")
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Command %s failed: %v\n", command, err)
		os.Exit(1)
	}
}
