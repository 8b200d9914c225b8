package db

import (
	"context"
	"fmt"
)

// Seed populates a fresh database with the starter world: two rooms joined
// by portals, resource nodes with drop tables, and a pair of tools left on
// the ground. It is a no-op when rooms already exist.
func (g *Gateway) Seed(ctx context.Context) error {
	var count int
	if err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&count); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	defer tx.Rollback()

	exec := func(query string, args ...any) (int64, error) {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}

	forest, err := exec(`INSERT INTO rooms (name, file_name) VALUES ('Moonveil Forest', 'forest')`)
	if err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}
	caverns, err := exec(`INSERT INTO rooms (name, file_name) VALUES ('Gloamway Caverns', 'caverns')`)
	if err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}

	oreTable, err := exec(`INSERT INTO drop_tables DEFAULT VALUES`)
	if err != nil {
		return fmt.Errorf("seed drop tables: %w", err)
	}
	treeTable, err := exec(`INSERT INTO drop_tables DEFAULT VALUES`)
	if err != nil {
		return fmt.Errorf("seed drop tables: %w", err)
	}

	entity := func(typename, name string, dropTable *int64) (int64, error) {
		if dropTable != nil {
			return exec(`INSERT INTO entities (typename, name, drop_table_id) VALUES (?, ?, ?)`,
				typename, name, *dropTable)
		}
		return exec(`INSERT INTO entities (typename, name) VALUES (?, ?)`, typename, name)
	}

	oreNode, err := entity("OreNode", "Rocky Outcrop", &oreTable)
	if err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}
	treeNode, err := entity("TreeNode", "Gnarled Tree", &treeTable)
	if err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}
	pickaxe, err := entity("Pickaxe", "Pickaxe", nil)
	if err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}
	axe, err := entity("Axe", "Axe", nil)
	if err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}
	ore, err := entity("Ore", "Ore", nil)
	if err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}
	logs, err := entity("Logs", "Logs", nil)
	if err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}
	portalDown, err := entity("Portal", "Cavern Mouth", nil)
	if err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}
	portalUp, err := entity("Portal", "Shaft of Moonlight", nil)
	if err != nil {
		return fmt.Errorf("seed entities: %w", err)
	}

	item := func(entityID int64, maxStack int) (int64, error) {
		return exec(`INSERT INTO items (entity_id, max_stack_amt) VALUES (?, ?)`, entityID, maxStack)
	}
	if _, err := item(pickaxe, 1); err != nil {
		return fmt.Errorf("seed items: %w", err)
	}
	if _, err := item(axe, 1); err != nil {
		return fmt.Errorf("seed items: %w", err)
	}
	oreItem, err := item(ore, 30)
	if err != nil {
		return fmt.Errorf("seed items: %w", err)
	}
	logsItem, err := item(logs, 30)
	if err != nil {
		return fmt.Errorf("seed items: %w", err)
	}

	if _, err := exec(`INSERT INTO drop_table_items (drop_table_id, item_id, min_amt, max_amt, chance)
		VALUES (?, ?, 1, 3, 0.8)`, oreTable, oreItem); err != nil {
		return fmt.Errorf("seed drop table items: %w", err)
	}
	if _, err := exec(`INSERT INTO drop_table_items (drop_table_id, item_id, min_amt, max_amt, chance)
		VALUES (?, ?, 1, 2, 0.9)`, treeTable, logsItem); err != nil {
		return fmt.Errorf("seed drop table items: %w", err)
	}

	if _, err := exec(`INSERT INTO portals (entity_id, linked_room_id, linked_y, linked_x)
		VALUES (?, ?, 2, 2)`, portalDown, caverns); err != nil {
		return fmt.Errorf("seed portals: %w", err)
	}
	if _, err := exec(`INSERT INTO portals (entity_id, linked_room_id, linked_y, linked_x)
		VALUES (?, ?, 6, 6)`, portalUp, forest); err != nil {
		return fmt.Errorf("seed portals: %w", err)
	}

	place := func(entityID, roomID int64, y, x, amount, respawn int) error {
		_, err := exec(`INSERT INTO instanced_entities (entity_id, room_id, y, x, amount, respawn_time)
			VALUES (?, ?, ?, ?, ?, ?)`, entityID, roomID, y, x, amount, respawn)
		return err
	}
	seedInstances := []struct {
		entity  int64
		room    int64
		y, x    int
		amount  int
		respawn int
	}{
		{portalDown, forest, 5, 5, 1, 0},
		{portalUp, caverns, 2, 3, 1, 0},
		{treeNode, forest, 8, 12, 1, 30},
		{treeNode, forest, 14, 4, 1, 30},
		{oreNode, caverns, 9, 9, 1, 45},
		{oreNode, caverns, 4, 11, 1, 45},
		{pickaxe, forest, 3, 4, 1, 60},
		{axe, forest, 3, 5, 1, 60},
	}
	for _, s := range seedInstances {
		if err := place(s.entity, s.room, s.y, s.x, s.amount, s.respawn); err != nil {
			return fmt.Errorf("seed instances: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	return nil
}
