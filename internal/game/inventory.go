package game

import (
	"Moonveil/internal/db"
	"Moonveil/internal/wire"
)

// InventorySlots bounds how many distinct stacks an inventory can hold.
const InventorySlots = 30

// Stack is one inventory slot: an item and how many of it are held.
type Stack struct {
	RowID    int64
	Item     db.Item
	TypeName string
	Name     string
	Amount   int
}

// Inventory is the in-memory view of a player's container. All mutation
// happens on the tick goroutine; persistence rewrites the container rows
// atomically afterwards.
type Inventory struct {
	ContainerID int64
	Stacks      []Stack
}

// LoadInventory builds an inventory from its persisted rows.
func LoadInventory(containerID int64, records []db.InventoryRecord) *Inventory {
	inv := &Inventory{ContainerID: containerID}
	for _, rec := range records {
		inv.Stacks = append(inv.Stacks, Stack{
			RowID:    rec.Row.ID,
			Item:     rec.Item,
			TypeName: rec.Entity.TypeName,
			Name:     rec.Entity.Name,
			Amount:   rec.Row.Amount,
		})
	}
	return inv
}

// Clone returns an independent copy, used to stage a mutation that is only
// adopted once it has been persisted.
func (inv *Inventory) Clone() *Inventory {
	out := &Inventory{ContainerID: inv.ContainerID}
	out.Stacks = append(out.Stacks, inv.Stacks...)
	return out
}

// Count sums the held amount of an item across all stacks.
func (inv *Inventory) Count(itemID int64) int {
	total := 0
	for _, s := range inv.Stacks {
		if s.Item.ID == itemID {
			total += s.Amount
		}
	}
	return total
}

// HasType reports whether any stack holds an item of the given entity type,
// e.g. a Pickaxe.
func (inv *Inventory) HasType(typeName string) bool {
	for _, s := range inv.Stacks {
		if s.TypeName == typeName {
			return true
		}
	}
	return false
}

// Full reports whether nothing more could be inserted: every slot taken and
// every stack at its cap.
func (inv *Inventory) Full() bool {
	if len(inv.Stacks) < InventorySlots {
		return false
	}
	for _, s := range inv.Stacks {
		if s.Amount < s.Item.MaxStack {
			return false
		}
	}
	return true
}

// Add inserts up to amount of an item, filling under-capacity stacks first
// and then free slots. It returns how much was actually inserted; the
// remainder did not fit.
func (inv *Inventory) Add(item db.Item, typeName, name string, amount int) int {
	if amount <= 0 {
		return 0
	}
	added := 0

	for i := range inv.Stacks {
		if amount == 0 {
			break
		}
		s := &inv.Stacks[i]
		if s.Item.ID != item.ID || s.Amount >= s.Item.MaxStack {
			continue
		}
		take := min(item.MaxStack-s.Amount, amount)
		s.Amount += take
		amount -= take
		added += take
	}

	for amount > 0 && len(inv.Stacks) < InventorySlots {
		take := min(item.MaxStack, amount)
		inv.Stacks = append(inv.Stacks, Stack{
			Item:     item,
			TypeName: typeName,
			Name:     name,
			Amount:   take,
		})
		amount -= take
		added += take
	}
	return added
}

// Remove takes up to amount of an item out of the inventory, draining later
// stacks first so remainders stay compacted. Emptied stacks are dropped.
// It returns how much was actually removed.
func (inv *Inventory) Remove(itemID int64, amount int) int {
	if amount <= 0 {
		return 0
	}
	removed := 0
	for i := len(inv.Stacks) - 1; i >= 0 && amount > 0; i-- {
		s := &inv.Stacks[i]
		if s.Item.ID != itemID {
			continue
		}
		take := min(s.Amount, amount)
		s.Amount -= take
		amount -= take
		removed += take
	}
	kept := inv.Stacks[:0]
	for _, s := range inv.Stacks {
		if s.Amount > 0 {
			kept = append(kept, s)
		}
	}
	inv.Stacks = kept
	return removed
}

// Rebalance coalesces same-item stacks so that after any mutation at most
// one under-capacity stack per item remains, preserving the order in which
// items first appear.
func (inv *Inventory) Rebalance() {
	type bucket struct {
		stack Stack
		total int
	}
	var order []int64
	totals := make(map[int64]*bucket)
	for _, s := range inv.Stacks {
		b, ok := totals[s.Item.ID]
		if !ok {
			b = &bucket{stack: s}
			totals[s.Item.ID] = b
			order = append(order, s.Item.ID)
		}
		b.total += s.Amount
	}

	rebuilt := inv.Stacks[:0]
	for _, id := range order {
		b := totals[id]
		maxStack := b.stack.Item.MaxStack
		if maxStack < 1 {
			maxStack = 1
		}
		for b.total > 0 {
			take := min(maxStack, b.total)
			s := b.stack
			s.RowID = 0
			s.Amount = take
			rebuilt = append(rebuilt, s)
			b.total -= take
		}
	}
	inv.Stacks = rebuilt
}

// Rows converts the inventory to its persistence shape.
func (inv *Inventory) Rows() []db.ContainerItem {
	out := make([]db.ContainerItem, 0, len(inv.Stacks))
	for _, s := range inv.Stacks {
		out = append(out, db.ContainerItem{
			ID:          s.RowID,
			ContainerID: inv.ContainerID,
			ItemID:      s.Item.ID,
			Amount:      s.Amount,
		})
	}
	return out
}

// Snapshot renders every stack as a wire model for the full inventory sync.
func (inv *Inventory) Snapshot() []wire.InvItemModel {
	out := make([]wire.InvItemModel, 0, len(inv.Stacks))
	for _, s := range inv.Stacks {
		out = append(out, wire.InvItemModel{
			ItemID:   s.Item.ID,
			Name:     s.Name,
			Amount:   s.Amount,
			MaxStack: s.Item.MaxStack,
		})
	}
	return out
}
