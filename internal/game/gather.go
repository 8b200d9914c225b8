package game

import (
	"fmt"
	"log"
	"strings"

	"Moonveil/internal/wire"
)

// toolFor maps a gatherable node type to the tool a player must hold to
// work it.
var toolFor = map[string]string{
	"OreNode":  "Pickaxe",
	"TreeNode": "Axe",
}

// gatherChance is the per-attempt probability of a successful harvest.
const gatherChance = 0.3

// startGather begins or continues working a resource node. Walking into the
// same node while already working it does nothing; walking into a different
// node switches to it.
func (s *Session) startGather(node *Instance) {
	if s.gatherTaskID != 0 && s.gatherNodeID == node.ID {
		return
	}
	tool, ok := toolFor[node.TypeName]
	if !ok {
		return
	}
	if !s.inventory.HasType(tool) {
		article := "a"
		if strings.ContainsRune("AEIOU", rune(tool[0])) {
			article = "an"
		}
		s.send(wire.ServerLog{Text: fmt.Sprintf("You do not have %s %s.", article, tool)})
		return
	}
	if s.inventory.Full() {
		s.send(wire.ServerLog{Text: "Your inventory is full."})
		return
	}

	s.cancelGather()
	s.gatherNodeID = node.ID
	s.gatherTaskID = s.world.sched.Every(s.world.tick, s.world.secondsToTicks(gatherIntervalSec), Task{
		Kind:       TaskGatherAttempt,
		InstanceID: node.ID,
		Session:    s,
	})
	s.send(wire.ServerLog{Text: fmt.Sprintf("You begin working on the %s.", node.Name)})
}

func (s *Session) cancelGather() {
	if s.gatherTaskID != 0 {
		s.world.sched.Cancel(s.gatherTaskID)
		s.gatherTaskID = 0
		s.gatherNodeID = 0
	}
}

// gatherAttempt fires every couple of seconds while a player works a node.
// Each attempt either misses or harvests the node's drop table, after which
// the node despawns until its respawn timer brings it back.
func (s *Session) gatherAttempt(t Task) {
	w := s.world
	node := w.registry.Get(t.InstanceID)
	if s.state != StatePlay || node == nil || node.Removed() || node.RoomID != s.room.ID {
		s.cancelGather()
		return
	}
	if w.rng.Float64() >= gatherChance {
		s.send(wire.ServerLog{Text: fmt.Sprintf("You keep working on the %s.", node.Name)})
		return
	}
	if node.DropTableID == nil {
		s.cancelGather()
		return
	}

	ctx, cancel := w.dbctx()
	entries, err := w.gw.DropTableItems(ctx, *node.DropTableID)
	cancel()
	if err != nil {
		log.Printf("drop table %d: %v", *node.DropTableID, err)
		s.cancelGather()
		return
	}

	clone := s.inventory.Clone()
	type haul struct {
		name   string
		amount int
	}
	var gained []haul
	for _, entry := range entries {
		if w.rng.Float64() >= entry.Chance {
			continue
		}
		qty := entry.MinAmount
		if spread := entry.MaxAmount - entry.MinAmount; spread > 0 {
			qty += w.rng.Intn(spread + 1)
		}
		ctx, cancel := w.dbctx()
		item, entity, err := w.gw.GetItem(ctx, entry.ItemID)
		cancel()
		if err != nil {
			log.Printf("drop item %d: %v", entry.ItemID, err)
			continue
		}
		added := clone.Add(item, entity.TypeName, entity.Name, qty)
		if added > 0 {
			gained = append(gained, haul{name: entity.Name, amount: added})
		}
	}

	if len(gained) > 0 {
		clone.Rebalance()
		if err := s.commitInventory(clone); err != nil {
			log.Printf("gather %q: %v", s.user.Username, err)
			s.send(wire.ServerLog{Text: "Your haul slips through your fingers."})
			s.cancelGather()
			return
		}
		for _, h := range gained {
			s.send(wire.ServerLog{Text: fmt.Sprintf("You gather %d %s.", h.amount, h.name)})
		}
		s.sendInventory()
	}

	s.consumeInstance(node)
	s.cancelGather()
}
