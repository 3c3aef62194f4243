package sensor

import (
	"time"

	"github.com/HerbHall/roomsense/pkg/models"
)

// pendingState debounces a single (device, room) transition.
type pendingState struct {
	lastState     bool
	appearedAt    time.Time
	appearedTimes int
}

// deviceState tracks the committed and pending room membership of one device.
type deviceState struct {
	inRooms map[int64]bool
	pending map[int64]*pendingState
}

func newDeviceState() *deviceState {
	return &deviceState{
		inRooms: make(map[int64]bool),
		pending: make(map[int64]*pendingState),
	}
}

// apply folds one occupancy prediction into the committed state and reports
// whether any committed membership changed. An empty prediction clears the
// device out of every room at once. ON commits immediately; OFF commits only
// after it has been observed for both the time and beat thresholds.
func (ds *deviceState) apply(occ []models.RoomOccupancy, now time.Time, cfg Config) bool {
	if len(occ) == 0 {
		changed := false
		for _, in := range ds.inRooms {
			if in {
				changed = true
			}
		}
		ds.inRooms = make(map[int64]bool)
		ds.pending = make(map[int64]*pendingState)
		return changed
	}

	observed := make(map[int64]bool, len(occ))
	for _, o := range occ {
		observed[o.RoomID] = o.State
	}

	merged := make(map[int64]struct{}, len(observed))
	for id := range observed {
		merged[id] = struct{}{}
	}
	for id := range ds.inRooms {
		merged[id] = struct{}{}
	}
	for id := range ds.pending {
		merged[id] = struct{}{}
	}

	changed := false
	for roomID := range merged {
		state := observed[roomID]
		p := ds.pending[roomID]
		if p == nil {
			p = &pendingState{lastState: state, appearedAt: now}
			ds.pending[roomID] = p
		}
		p.appearedTimes++
		if !state && p.lastState {
			*p = pendingState{lastState: false, appearedAt: now}
			continue
		}

		commit := state ||
			(p.lastState == state &&
				now.Sub(p.appearedAt) >= cfg.ChangeStateSeconds &&
				p.appearedTimes >= cfg.ChangeStateBeats)
		if !commit {
			continue
		}
		if ds.inRooms[roomID] != state {
			changed = true
		}
		ds.inRooms[roomID] = state
		p.lastState = state
		p.appearedAt = now
		p.appearedTimes = 0
	}
	return changed
}
