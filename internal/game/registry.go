package game

import (
	"sort"

	"Moonveil/internal/db"
	"Moonveil/internal/wire"
)

// OOB marks an instance coordinate as out of bounds: the instance has been
// consumed and is waiting for its respawn deferred (or deletion).
const OOB = -1

// Instance is the in-memory placement of an entity, the unit the registry
// and visibility engine operate on. SpawnY/SpawnX remember where a
// respawning instance returns to.
type Instance struct {
	ID          int64
	EntityID    int64
	TypeName    string
	Name        string
	DropTableID *int64
	Item        *db.Item

	RoomID      int64
	Y, X        int
	Amount      int
	RespawnTime int
	SpawnY      int
	SpawnX      int
}

// Removed reports whether the instance currently sits at the OOB sentinel.
func (i *Instance) Removed() bool {
	return i.Y == OOB && i.X == OOB
}

// Model renders the instance as a full wire snapshot.
func (i *Instance) Model() wire.InstanceModel {
	return wire.InstanceModel{
		ID:       i.ID,
		EntityID: i.EntityID,
		TypeName: i.TypeName,
		Name:     i.Name,
		RoomID:   i.RoomID,
		Y:        i.Y,
		X:        i.X,
		Amount:   i.Amount,
	}
}

// Row converts the instance back to its persistence shape.
func (i *Instance) Row() db.Instance {
	return db.Instance{
		ID:          i.ID,
		EntityID:    i.EntityID,
		RoomID:      i.RoomID,
		Y:           i.Y,
		X:           i.X,
		Amount:      i.Amount,
		RespawnTime: i.RespawnTime,
	}
}

// Registry indexes every placed instance by id, by room, and by entity.
// It is owned by the World and only touched from the tick goroutine.
type Registry struct {
	byID     map[int64]*Instance
	byRoom   map[int64]map[int64]*Instance
	byEntity map[int64]*Instance
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[int64]*Instance),
		byRoom:   make(map[int64]map[int64]*Instance),
		byEntity: make(map[int64]*Instance),
	}
}

// LoadRecord converts a persistence record and adds it.
func (r *Registry) LoadRecord(rec db.InstanceRecord) *Instance {
	inst := &Instance{
		ID:          rec.Instance.ID,
		EntityID:    rec.Instance.EntityID,
		TypeName:    rec.Entity.TypeName,
		Name:        rec.Entity.Name,
		DropTableID: rec.Entity.DropTableID,
		Item:        rec.Item,
		RoomID:      rec.Instance.RoomID,
		Y:           rec.Instance.Y,
		X:           rec.Instance.X,
		Amount:      rec.Instance.Amount,
		RespawnTime: rec.Instance.RespawnTime,
		SpawnY:      rec.Instance.Y,
		SpawnX:      rec.Instance.X,
	}
	r.Add(inst)
	return inst
}

// Add places an instance into every index.
func (r *Registry) Add(inst *Instance) {
	r.byID[inst.ID] = inst
	room := r.byRoom[inst.RoomID]
	if room == nil {
		room = make(map[int64]*Instance)
		r.byRoom[inst.RoomID] = room
	}
	room[inst.ID] = inst
	r.byEntity[inst.EntityID] = inst
}

// Remove deletes an instance from every index.
func (r *Registry) Remove(id int64) {
	inst, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byEntity, inst.EntityID)
	if room := r.byRoom[inst.RoomID]; room != nil {
		delete(room, id)
	}
}

// Get returns the instance with the given id, or nil.
func (r *Registry) Get(id int64) *Instance {
	return r.byID[id]
}

// ByEntity returns the instance placing the given entity, or nil.
func (r *Registry) ByEntity(entityID int64) *Instance {
	return r.byEntity[entityID]
}

// InRoom returns the live index of instances placed in a room. Callers must
// not mutate it.
func (r *Registry) InRoom(roomID int64) map[int64]*Instance {
	return r.byRoom[roomID]
}

// At lists the instances occupying an exact coordinate, ordered by id so
// lookups are deterministic.
func (r *Registry) At(roomID int64, y, x int) []*Instance {
	var out []*Instance
	for _, inst := range r.byRoom[roomID] {
		if inst.Y == y && inst.X == x {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MoveRoom relocates an instance, keeping the room index coherent.
func (r *Registry) MoveRoom(inst *Instance, roomID int64, y, x int) {
	if inst.RoomID != roomID {
		if room := r.byRoom[inst.RoomID]; room != nil {
			delete(room, inst.ID)
		}
		inst.RoomID = roomID
		room := r.byRoom[roomID]
		if room == nil {
			room = make(map[int64]*Instance)
			r.byRoom[roomID] = room
		}
		room[inst.ID] = inst
	}
	inst.Y, inst.X = y, x
}
