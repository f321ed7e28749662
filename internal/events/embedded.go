package events

import (
	"errors"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// readyTimeout bounds how long StartEmbedded waits for the listener.
const readyTimeout = 5 * time.Second

// ErrServerNotReady is returned when the embedded server does not accept
// connections in time.
var ErrServerNotReady = errors.New("embedded NATS server not ready")

// StartEmbedded runs an in-process NATS server bound to localhost. A port
// of -1 picks a random free port. Callers stop it with Shutdown.
func StartEmbedded(port int) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		ServerName: "devscontext",
		Host:       "127.0.0.1",
		Port:       port,
		NoLog:      true,
		NoSigs:     true,
	}
	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, err
	}

	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, ErrServerNotReady
	}
	return ns, nil
}
