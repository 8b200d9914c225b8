package game

import "Moonveil/internal/wire"

// ViewRadius is the Chebyshev distance within which a player sees other
// instances.
const ViewRadius = 10

// visibleNow computes the set of instances this session can currently see:
// everything in its room within the view radius, excluding its own avatar,
// removed instances, and avatars whose owner is not playing.
func (s *Session) visibleNow() map[int64]wire.InstanceModel {
	out := make(map[int64]wire.InstanceModel)
	if s.avatar == nil {
		return out
	}
	for id, inst := range s.world.registry.InRoom(s.room.ID) {
		if id == s.avatar.ID || inst.Removed() {
			continue
		}
		if inst.TypeName == "Player" && s.world.sessionByAvatar(id) == nil {
			continue
		}
		dy, dx := inst.Y-s.avatar.Y, inst.X-s.avatar.X
		if dy < 0 {
			dy = -dy
		}
		if dx < 0 {
			dx = -dx
		}
		if dy > ViewRadius || dx > ViewRadius {
			continue
		}
		out[id] = inst.Model()
	}
	return out
}

// syncVisible diffs the freshly computed visible set against what the client
// last saw and queues the minimum updates: Goodbye for departures, a full
// model for arrivals, and a delta carrying only changed fields for the rest.
func (s *Session) syncVisible() {
	now := s.visibleNow()

	for id := range s.visible {
		if _, ok := now[id]; !ok {
			s.send(wire.Goodbye{InstanceID: id})
		}
	}
	for id, model := range now {
		prev, seen := s.visible[id]
		if !seen {
			s.send(wire.ModelUpdate{Model: model})
			continue
		}
		delta := wire.InstanceDelta{ID: id}
		if model.Y != prev.Y {
			y := model.Y
			delta.Y = &y
		}
		if model.X != prev.X {
			x := model.X
			delta.X = &x
		}
		if model.Amount != prev.Amount {
			a := model.Amount
			delta.Amount = &a
		}
		if !delta.Empty() {
			s.send(wire.ModelUpdate{Model: delta})
		}
	}
	s.visible = now
}
