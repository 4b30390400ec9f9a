package monitor

import (
	"context"
	"time"
)

// FetchData retrieves all data needed for the monitor display. Runs off the
// UI loop; each field degrades independently so one failing read never
// blanks the whole dashboard.
func FetchData(deps Deps) RefreshDataMsg {
	msg := RefreshDataMsg{
		Timestamp: time.Now(),
	}

	if deps.Probe != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		deps.Probe(ctx)
		cancel()
	}
	msg.Online = deps.Orch.Online()
	msg.Status, msg.StatusMsg = deps.Orch.Status()

	goals, err := deps.Goals.GetAll()
	if err != nil {
		msg.Err = err
	}
	msg.Goals = goals

	pending, err := deps.Queue.ListAll(100)
	if err != nil {
		msg.Err = err
	}
	msg.Pending = pending

	letters, err := deps.Queue.ListDeadLetters(100)
	if err != nil {
		msg.Err = err
	}
	msg.DeadLetters = letters

	lastSync, err := deps.Queue.DB.LastSyncAt()
	if err != nil {
		msg.Err = err
	}
	msg.LastSyncAt = lastSync

	return msg
}
