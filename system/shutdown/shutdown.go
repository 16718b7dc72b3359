package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/internal/session"
)

var exit = os.Exit

// HandleSignals blocks until SIGINT or SIGTERM, then shuts the process down.
func HandleSignals(cancel context.CancelFunc, manager *session.Manager) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	Shutdown(cancel, manager)
}

// Shutdown stops every active watering so no pump or solenoid is left
// switched on, cancels the background loops, and terminates the process.
// signal.Notify suppresses default termination and main blocks in the HTTP
// server, so the exit here is what actually ends the daemon.
func Shutdown(cancel context.CancelFunc, manager *session.Manager) {
	manager.StopAll()
	cancel()
	exit(0)
}
