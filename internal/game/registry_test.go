package game

import "testing"

func testInstance(id int64, roomID int64, y, x int) *Instance {
	return &Instance{
		ID:       id,
		EntityID: id + 100,
		TypeName: "Ore",
		Name:     "Ore",
		RoomID:   roomID,
		Y:        y,
		X:        x,
		Amount:   1,
		SpawnY:   y,
		SpawnX:   x,
	}
}

func TestRegistryAtSortsByID(t *testing.T) {
	r := NewRegistry()
	r.Add(testInstance(3, 1, 5, 5))
	r.Add(testInstance(1, 1, 5, 5))
	r.Add(testInstance(2, 1, 5, 5))
	r.Add(testInstance(4, 1, 6, 5))

	got := r.At(1, 5, 5)
	if len(got) != 3 {
		t.Fatalf("len(At) = %d, want 3", len(got))
	}
	for i, inst := range got {
		if inst.ID != int64(i+1) {
			t.Fatalf("At order = [%d %d %d], want ascending ids", got[0].ID, got[1].ID, got[2].ID)
		}
	}
}

func TestRegistryAtSkipsRemoved(t *testing.T) {
	r := NewRegistry()
	inst := testInstance(1, 1, 5, 5)
	r.Add(inst)
	inst.Y, inst.X = OOB, OOB
	if got := r.At(1, 5, 5); len(got) != 0 {
		t.Fatalf("len(At) = %d, want 0 once out of bounds", len(got))
	}
}

func TestRegistryMoveRoom(t *testing.T) {
	r := NewRegistry()
	inst := testInstance(1, 1, 5, 5)
	r.Add(inst)

	r.MoveRoom(inst, 2, 3, 4)
	if len(r.InRoom(1)) != 0 {
		t.Fatalf("instance still indexed in the old room")
	}
	if got := r.InRoom(2); len(got) != 1 {
		t.Fatalf("len(InRoom(2)) = %d, want 1", len(got))
	}
	if inst.RoomID != 2 || inst.Y != 3 || inst.X != 4 {
		t.Fatalf("instance at room %d (%d,%d), want room 2 (3,4)", inst.RoomID, inst.Y, inst.X)
	}
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	inst := testInstance(1, 1, 5, 5)
	r.Add(inst)
	r.Remove(1)

	if r.Get(1) != nil {
		t.Fatalf("Get(1) returned a removed instance")
	}
	if r.ByEntity(inst.EntityID) != nil {
		t.Fatalf("ByEntity still finds a removed instance")
	}
	if len(r.InRoom(1)) != 0 {
		t.Fatalf("room index still holds a removed instance")
	}
}
