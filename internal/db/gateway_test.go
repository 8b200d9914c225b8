package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := Open(filepath.Join(t.TempDir(), "moonveil.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { g.Close() })
	if err := g.Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return g
}

func TestSeedIsIdempotent(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	if err := g.Seed(ctx); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	rooms, err := g.ListRooms(ctx)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(rooms))
	}
}

func TestCreateUserIsAtomic(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	player, spawn, err := g.CreateUser(ctx, "alice", "hash", 1, 1, 1)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if player.ID == 0 || player.EntityID == 0 || player.ContainerID == 0 {
		t.Fatalf("CreateUser left ids unset: %+v", player)
	}
	if spawn.ID == 0 || spawn.EntityID != player.EntityID {
		t.Fatalf("spawn instance = %+v, want one bound to entity %d", spawn, player.EntityID)
	}

	user, err := g.GetUserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByName: %v", err)
	}
	got, err := g.GetPlayerByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetPlayerByUser: %v", err)
	}
	if got.ID != player.ID {
		t.Fatalf("player id = %d, want %d", got.ID, player.ID)
	}

	// Duplicate name violates the unique constraint and must not leave a
	// dangling entity or container behind.
	if _, _, err := g.CreateUser(ctx, "alice", "hash", 1, 1, 1); err == nil {
		t.Fatal("duplicate CreateUser succeeded")
	}
	var entities int
	if err := g.db.QueryRow(`SELECT COUNT(*) FROM entities WHERE typename = 'Player'`).Scan(&entities); err != nil {
		t.Fatalf("count entities: %v", err)
	}
	if entities != 1 {
		t.Fatalf("player entities = %d, want 1 (partial commit leaked)", entities)
	}
}

func TestGetUserByNameNotFound(t *testing.T) {
	g := openTestGateway(t)
	_, err := g.GetUserByName(context.Background(), "nobody")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestInstanceLifecycle(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	records, err := g.ListInstances(ctx)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("seed produced no instances")
	}

	var node *InstanceRecord
	var tool *InstanceRecord
	for i := range records {
		switch records[i].Entity.TypeName {
		case "OreNode":
			node = &records[i]
		case "Pickaxe":
			tool = &records[i]
		}
	}
	if node == nil || tool == nil {
		t.Fatal("seed is missing an ore node or pickaxe instance")
	}
	if node.Entity.DropTableID == nil {
		t.Fatal("ore node entity has no drop table")
	}
	if tool.Item == nil {
		t.Fatal("pickaxe instance carries no item attributes")
	}

	drops, err := g.DropTableItems(ctx, *node.Entity.DropTableID)
	if err != nil {
		t.Fatalf("DropTableItems: %v", err)
	}
	if len(drops) != 1 {
		t.Fatalf("drop entries = %d, want 1", len(drops))
	}

	in := node.Instance
	in.Y, in.X = -1, -1
	if err := g.UpdateInstance(ctx, in); err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}
	got, err := g.GetInstance(ctx, in.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Y != -1 || got.X != -1 {
		t.Fatalf("instance pos = (%d,%d), want OOB sentinel", got.Y, got.X)
	}

	if err := g.DeleteInstance(ctx, in.ID); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if _, err := g.GetInstance(ctx, in.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted instance error = %v, want ErrNotFound", err)
	}
}

func TestReplaceInventoryRewritesRows(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	player, _, err := g.CreateUser(ctx, "bob", "hash", 1, 1, 1)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	records, _ := g.ListInstances(ctx)
	var oreItemID int64
	for _, rec := range records {
		if rec.Entity.TypeName == "OreNode" {
			drops, err := g.DropTableItems(ctx, *rec.Entity.DropTableID)
			if err != nil {
				t.Fatalf("DropTableItems: %v", err)
			}
			oreItemID = drops[0].ItemID
		}
	}
	if oreItemID == 0 {
		t.Fatal("no ore item in seed")
	}

	rows, err := g.ReplaceInventory(ctx, player.ContainerID, []ContainerItem{
		{ItemID: oreItemID, Amount: 30},
		{ItemID: oreItemID, Amount: 12},
	})
	if err != nil {
		t.Fatalf("ReplaceInventory: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row.ID == 0 {
			t.Fatal("ReplaceInventory returned a row without an id")
		}
	}

	listed, err := g.InventoryItems(ctx, player.ContainerID)
	if err != nil {
		t.Fatalf("InventoryItems: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed rows = %d, want 2", len(listed))
	}
	if listed[0].Entity.Name != "Ore" {
		t.Fatalf("item name = %q, want Ore", listed[0].Entity.Name)
	}
	if listed[0].Item.MaxStack != 30 {
		t.Fatalf("max stack = %d, want 30", listed[0].Item.MaxStack)
	}
}

func TestPortalLookup(t *testing.T) {
	g := openTestGateway(t)
	ctx := context.Background()

	records, _ := g.ListInstances(ctx)
	for _, rec := range records {
		if rec.Entity.TypeName != "Portal" {
			continue
		}
		portal, err := g.GetPortal(ctx, rec.Entity.ID)
		if err != nil {
			t.Fatalf("GetPortal(%d): %v", rec.Entity.ID, err)
		}
		if portal.LinkedRoomID == rec.Instance.RoomID {
			t.Fatal("portal links back into its own room")
		}
	}
}
