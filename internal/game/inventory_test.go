package game

import (
	"testing"

	"Moonveil/internal/db"
)

var (
	testOre  = db.Item{ID: 1, EntityID: 10, MaxStack: 30}
	testAxe  = db.Item{ID: 2, EntityID: 11, MaxStack: 1}
	testLogs = db.Item{ID: 3, EntityID: 12, MaxStack: 30}
)

func TestInventoryAddFillsExistingStacksFirst(t *testing.T) {
	inv := &Inventory{ContainerID: 1}
	if added := inv.Add(testOre, "Ore", "Ore", 25); added != 25 {
		t.Fatalf("Add() = %d, want 25", added)
	}
	if added := inv.Add(testOre, "Ore", "Ore", 10); added != 10 {
		t.Fatalf("Add() = %d, want 10", added)
	}
	if len(inv.Stacks) != 2 {
		t.Fatalf("len(Stacks) = %d, want 2", len(inv.Stacks))
	}
	if inv.Stacks[0].Amount != 30 || inv.Stacks[1].Amount != 5 {
		t.Fatalf("stack amounts = %d, %d, want 30, 5", inv.Stacks[0].Amount, inv.Stacks[1].Amount)
	}
}

func TestInventoryAddPartialWhenFull(t *testing.T) {
	inv := &Inventory{ContainerID: 1}
	for i := 0; i < InventorySlots-1; i++ {
		inv.Add(testAxe, "Axe", "Axe", 1)
	}
	inv.Add(testOre, "Ore", "Ore", 25)

	added := inv.Add(testOre, "Ore", "Ore", 10)
	if added != 5 {
		t.Fatalf("Add() = %d, want 5", added)
	}
	if !inv.Full() {
		t.Fatalf("Full() = false, want true")
	}
}

func TestInventoryRemove(t *testing.T) {
	inv := &Inventory{ContainerID: 1}
	inv.Add(testOre, "Ore", "Ore", 45)

	if removed := inv.Remove(testOre.ID, 20); removed != 20 {
		t.Fatalf("Remove() = %d, want 20", removed)
	}
	if got := inv.Count(testOre.ID); got != 25 {
		t.Fatalf("Count() = %d, want 25", got)
	}
	if removed := inv.Remove(testOre.ID, 100); removed != 25 {
		t.Fatalf("Remove() = %d, want 25", removed)
	}
	if len(inv.Stacks) != 0 {
		t.Fatalf("len(Stacks) = %d, want 0", len(inv.Stacks))
	}
}

func TestInventoryRebalanceCoalesces(t *testing.T) {
	inv := &Inventory{ContainerID: 1}
	inv.Stacks = []Stack{
		{Item: testOre, TypeName: "Ore", Name: "Ore", Amount: 10},
		{Item: testLogs, TypeName: "Logs", Name: "Logs", Amount: 4},
		{Item: testOre, TypeName: "Ore", Name: "Ore", Amount: 10},
		{Item: testOre, TypeName: "Ore", Name: "Ore", Amount: 15},
	}
	inv.Rebalance()

	if len(inv.Stacks) != 3 {
		t.Fatalf("len(Stacks) = %d, want 3", len(inv.Stacks))
	}
	// First-appearance order preserved: ore before logs.
	if inv.Stacks[0].Item.ID != testOre.ID || inv.Stacks[0].Amount != 30 {
		t.Fatalf("stack 0 = item %d amount %d, want full ore stack", inv.Stacks[0].Item.ID, inv.Stacks[0].Amount)
	}
	if inv.Stacks[1].Item.ID != testOre.ID || inv.Stacks[1].Amount != 5 {
		t.Fatalf("stack 1 = item %d amount %d, want ore remainder of 5", inv.Stacks[1].Item.ID, inv.Stacks[1].Amount)
	}
	if inv.Stacks[2].Item.ID != testLogs.ID || inv.Stacks[2].Amount != 4 {
		t.Fatalf("stack 2 = item %d amount %d, want 4 logs", inv.Stacks[2].Item.ID, inv.Stacks[2].Amount)
	}
}

func TestInventoryCloneIsIndependent(t *testing.T) {
	inv := &Inventory{ContainerID: 1}
	inv.Add(testOre, "Ore", "Ore", 5)

	clone := inv.Clone()
	clone.Add(testOre, "Ore", "Ore", 10)
	clone.Add(testAxe, "Axe", "Axe", 1)

	if got := inv.Count(testOre.ID); got != 5 {
		t.Fatalf("original Count() = %d, want 5", got)
	}
	if inv.HasType("Axe") {
		t.Fatalf("original HasType(Axe) = true, want false")
	}
	if got := clone.Count(testOre.ID); got != 15 {
		t.Fatalf("clone Count() = %d, want 15", got)
	}
}

func TestInventorySnapshot(t *testing.T) {
	inv := &Inventory{ContainerID: 1}
	inv.Add(testOre, "Ore", "Ore", 12)
	inv.Add(testAxe, "Axe", "Axe", 1)

	models := inv.Snapshot()
	if len(models) != 2 {
		t.Fatalf("len(Snapshot()) = %d, want 2", len(models))
	}
	if models[0].ItemID != testOre.ID || models[0].Amount != 12 || models[0].MaxStack != 30 {
		t.Fatalf("model 0 = %+v, want 12 ore with max stack 30", models[0])
	}
}
