package accumulator

import "github.com/casper-ecosystem/gssync/log"

// LogAnnouncer reports misbehaving peers through the structured logger,
// for deployments that feed peer reputation off log lines rather than a
// dedicated blocklist component.
type LogAnnouncer struct {
	log *log.Logger
}

// NewLogAnnouncer creates an Announcer backed by logger.
func NewLogAnnouncer(logger *log.Logger) *LogAnnouncer {
	return &LogAnnouncer{log: logger}
}

// AnnounceMisbehavingPeer implements Announcer.
func (a *LogAnnouncer) AnnounceMisbehavingPeer(peer PeerID, reason string) {
	a.log.Warn("peer misbehavior detected", "peer", string(peer), "reason", reason)
}
