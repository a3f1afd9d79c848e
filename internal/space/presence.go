package space

import (
	"fmt"

	"go.uber.org/zap"
)

// RoomInfo is the metadata the backend exposes about one room.
type RoomInfo struct {
	ID          string
	Name        string
	IconURL     string
	MemberCount int
}

// PresenceReporter derives a human-readable status line from the current
// room and publishes it through an ActivityPublisher.
type PresenceReporter struct {
	session   *Session
	publisher ActivityPublisher
	logger    *zap.Logger
}

// NewPresenceReporter creates a reporter. publisher may be nil, in which case
// every report is a no-op.
func NewPresenceReporter(session *Session, publisher ActivityPublisher, logger *zap.Logger) *PresenceReporter {
	return &PresenceReporter{
		session:   session,
		publisher: publisher,
		logger:    logger,
	}
}

// ReportLobby publishes the default-room status.
func (p *PresenceReporter) ReportLobby() {
	if p.publisher == nil {
		return
	}
	p.publisher.SetActivity("In the lobby", "Lobby", "lobby")
}

// ReportRoom publishes a status for the given room metadata, falling back to
// placeholders when the lookup returned nothing.
func (p *PresenceReporter) ReportRoom(info RoomInfo) {
	if p.publisher == nil {
		return
	}
	name := info.Name
	if name == "" {
		name = "an unknown server"
	}
	icon := info.IconURL
	if icon == "" {
		icon = "lobby"
	}
	p.logger.Debug("publishing presence", zap.String("room", info.ID), zap.String("name", name))
	p.publisher.SetActivity(fmt.Sprintf("In the %s space", name), name, icon)
}
