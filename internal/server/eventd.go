//go:build linux

package server

import (
	"context"

	"pvemigrate/internal/eventd"
	"pvemigrate/pkg/log"
)

type EventdServer struct {
	daemon *eventd.Daemon
	log    *log.Logger
}

func NewEventdServer(
	log *log.Logger,
	daemon *eventd.Daemon,
) *EventdServer {
	return &EventdServer{
		daemon: daemon,
		log:    log,
	}
}

func (s *EventdServer) Start(ctx context.Context) error {
	s.log.Info("starting event daemon")
	return s.daemon.Serve(ctx)
}

func (s *EventdServer) Stop(ctx context.Context) error {
	s.log.Info("stopping event daemon")
	return s.daemon.Close()
}
