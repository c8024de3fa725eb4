/*
Package events is an in-memory pub/sub broker for cluster lifecycle
notifications, unchanged from the orchestrator's broker except for the
catalog of event types it carries.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventLeaderChanged:
				handleLeaderChanged(event)
			case events.EventMemberOffline:
				handleMemberOffline(event)
			}
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventLeaderChanged,
		Message: "node 7 became leader for term 12",
	})

# Event catalog

EventMemberJoined / EventMemberLeft: Config SM membership changed.
EventMemberOnline / EventMemberOffline: a member's liveness flipped. No
package in this module publishes these two; internal/heartbeat reports
flips only as hb_online_changed commands.
EventLeaderChanged: a node observed a new leader_id.
EventTermChanged: a node's current_term advanced.
EventCommandCommitted: c_command reached majority commit.
EventSnapshotSaved / EventSnapshotInstalled: a Snapshot Entity was written
or installed on a follower.

Delivery is best-effort and non-blocking: a full subscriber buffer skips
that event rather than blocking the publisher, so nothing here should be
relied on for correctness, only for observability.
*/
package events
