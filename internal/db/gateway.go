// Package db is the persistence gateway: narrow, context-bound CRUD over the
// sqlite database that backs users, players, entities, rooms, inventories,
// and placed instances. Nothing above this package writes SQL.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// User is an account row. Password holds the bcrypt hash.
type User struct {
	ID       int64
	Username string
	Password string
}

// Room names a room and the map file describing its terrain.
type Room struct {
	ID       int64
	Name     string
	FileName string
}

// Entity is the immutable identity of a thing that can be placed in a room.
type Entity struct {
	ID          int64
	TypeName    string
	Name        string
	DropTableID *int64
}

// Item carries the stackable-item attributes of an entity.
type Item struct {
	ID       int64
	EntityID int64
	MaxStack int
}

// Player binds a user to its avatar entity and inventory container.
type Player struct {
	ID          int64
	UserID      int64
	EntityID    int64
	ContainerID int64
}

// Portal links a portal entity to its destination room and coordinate.
type Portal struct {
	ID           int64
	EntityID     int64
	LinkedRoomID int64
	LinkedY      int
	LinkedX      int
}

// Instance is a placement of an entity inside a room. Y = X = -1 marks an
// instance removed pending respawn. RespawnTime is seconds; zero means the
// instance never respawns and is deleted outright when consumed.
type Instance struct {
	ID          int64
	EntityID    int64
	RoomID      int64
	Y           int
	X           int
	Amount      int
	RespawnTime int
}

// ContainerItem is one stack inside an inventory container.
type ContainerItem struct {
	ID          int64
	ContainerID int64
	ItemID      int64
	Amount      int
}

// DropTableItem is one weighted entry of a gathering drop table.
type DropTableItem struct {
	ID          int64
	DropTableID int64
	ItemID      int64
	MinAmount   int
	MaxAmount   int
	Chance      float64
}

// InstanceRecord joins an instance with its entity identity, the shape the
// in-memory registry loads at boot.
type InstanceRecord struct {
	Instance Instance
	Entity   Entity
	Item     *Item
}

// InventoryRecord joins a container stack with its item and entity rows.
type InventoryRecord struct {
	Row    ContainerItem
	Item   Item
	Entity Entity
}

// Gateway wraps the database handle. All operations are synchronous and
// transactional at per-call granularity; callers bound them with a context
// deadline so a stalled disk never stalls the tick loop.
type Gateway struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and ensures
// the schema exists.
func Open(path string) (*Gateway, error) {
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The modernc driver is single-writer; one connection avoids
	// SQLITE_BUSY under concurrent test access.
	handle.SetMaxOpenConns(1)
	if _, err := handle.Exec(schema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Gateway{db: handle}, nil
}

// Close releases the database handle.
func (g *Gateway) Close() error {
	return g.db.Close()
}

// GetUserByName looks up an account by exact username.
func (g *Gateway) GetUserByName(ctx context.Context, username string) (User, error) {
	var u User
	err := g.db.QueryRowContext(ctx,
		`SELECT id, username, password FROM users WHERE username = ?`, username).
		Scan(&u.ID, &u.Username, &u.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// CreateUser registers a new account: the user row, its avatar entity, the
// player binding, an empty inventory container, and a spawn instance in the
// given room, all in one transaction. The returned instance is the freshly
// placed avatar.
func (g *Gateway) CreateUser(ctx context.Context, username, passwordHash string, roomID int64, y, x int) (Player, Instance, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return Player{}, Instance{}, fmt.Errorf("create user: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO users (username, password) VALUES (?, ?)`, username, passwordHash)
	if err != nil {
		return Player{}, Instance{}, fmt.Errorf("insert user: %w", err)
	}
	userID, _ := res.LastInsertId()

	res, err = tx.ExecContext(ctx,
		`INSERT INTO entities (typename, name) VALUES ('Player', ?)`, username)
	if err != nil {
		return Player{}, Instance{}, fmt.Errorf("insert entity: %w", err)
	}
	entityID, _ := res.LastInsertId()

	res, err = tx.ExecContext(ctx, `INSERT INTO containers DEFAULT VALUES`)
	if err != nil {
		return Player{}, Instance{}, fmt.Errorf("insert container: %w", err)
	}
	containerID, _ := res.LastInsertId()

	res, err = tx.ExecContext(ctx,
		`INSERT INTO players (user_id, entity_id, container_id) VALUES (?, ?, ?)`,
		userID, entityID, containerID)
	if err != nil {
		return Player{}, Instance{}, fmt.Errorf("insert player: %w", err)
	}
	playerID, _ := res.LastInsertId()

	res, err = tx.ExecContext(ctx,
		`INSERT INTO instanced_entities (entity_id, room_id, y, x, amount, respawn_time)
		 VALUES (?, ?, ?, ?, 1, 0)`, entityID, roomID, y, x)
	if err != nil {
		return Player{}, Instance{}, fmt.Errorf("insert spawn instance: %w", err)
	}
	instanceID, _ := res.LastInsertId()

	if err := tx.Commit(); err != nil {
		return Player{}, Instance{}, fmt.Errorf("create user: %w", err)
	}
	player := Player{ID: playerID, UserID: userID, EntityID: entityID, ContainerID: containerID}
	instance := Instance{ID: instanceID, EntityID: entityID, RoomID: roomID, Y: y, X: x, Amount: 1}
	return player, instance, nil
}

// GetPlayerByUser resolves the player row bound to a user.
func (g *Gateway) GetPlayerByUser(ctx context.Context, userID int64) (Player, error) {
	var p Player
	err := g.db.QueryRowContext(ctx,
		`SELECT id, user_id, entity_id, container_id FROM players WHERE user_id = ?`, userID).
		Scan(&p.ID, &p.UserID, &p.EntityID, &p.ContainerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Player{}, fmt.Errorf("player for user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Player{}, fmt.Errorf("get player: %w", err)
	}
	return p, nil
}

// GetRoom fetches a room by id.
func (g *Gateway) GetRoom(ctx context.Context, id int64) (Room, error) {
	var r Room
	err := g.db.QueryRowContext(ctx,
		`SELECT id, name, file_name FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.Name, &r.FileName)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, fmt.Errorf("room %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Room{}, fmt.Errorf("get room: %w", err)
	}
	return r, nil
}

// ListRooms returns every room.
func (g *Gateway) ListRooms(ctx context.Context) ([]Room, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT id, name, file_name FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()
	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.FileName); err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListInstances loads every placed instance joined with its entity identity
// and, when the entity is stackable, its item attributes.
func (g *Gateway) ListInstances(ctx context.Context) ([]InstanceRecord, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT i.id, i.entity_id, i.room_id, i.y, i.x, i.amount, i.respawn_time,
		       e.typename, e.name, e.drop_table_id,
		       it.id, it.max_stack_amt
		FROM instanced_entities AS i
		JOIN entities AS e ON e.id = i.entity_id
		LEFT JOIN items AS it ON it.entity_id = e.id
		ORDER BY i.id`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []InstanceRecord
	for rows.Next() {
		var rec InstanceRecord
		var itemID sql.NullInt64
		var maxStack sql.NullInt64
		if err := rows.Scan(
			&rec.Instance.ID, &rec.Instance.EntityID, &rec.Instance.RoomID,
			&rec.Instance.Y, &rec.Instance.X, &rec.Instance.Amount, &rec.Instance.RespawnTime,
			&rec.Entity.TypeName, &rec.Entity.Name, &rec.Entity.DropTableID,
			&itemID, &maxStack,
		); err != nil {
			return nil, fmt.Errorf("list instances: %w", err)
		}
		rec.Entity.ID = rec.Instance.EntityID
		if itemID.Valid {
			rec.Item = &Item{ID: itemID.Int64, EntityID: rec.Entity.ID, MaxStack: int(maxStack.Int64)}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetInstance fetches one instance row.
func (g *Gateway) GetInstance(ctx context.Context, id int64) (Instance, error) {
	var in Instance
	err := g.db.QueryRowContext(ctx,
		`SELECT id, entity_id, room_id, y, x, amount, respawn_time
		 FROM instanced_entities WHERE id = ?`, id).
		Scan(&in.ID, &in.EntityID, &in.RoomID, &in.Y, &in.X, &in.Amount, &in.RespawnTime)
	if errors.Is(err, sql.ErrNoRows) {
		return Instance{}, fmt.Errorf("instance %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Instance{}, fmt.Errorf("get instance: %w", err)
	}
	return in, nil
}

// CreateInstance places a new instance and returns its allocated id.
func (g *Gateway) CreateInstance(ctx context.Context, in Instance) (int64, error) {
	res, err := g.db.ExecContext(ctx,
		`INSERT INTO instanced_entities (entity_id, room_id, y, x, amount, respawn_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		in.EntityID, in.RoomID, in.Y, in.X, in.Amount, in.RespawnTime)
	if err != nil {
		return 0, fmt.Errorf("create instance: %w", err)
	}
	return res.LastInsertId()
}

// UpdateInstance persists an instance's mutable placement fields.
func (g *Gateway) UpdateInstance(ctx context.Context, in Instance) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE instanced_entities SET room_id = ?, y = ?, x = ?, amount = ? WHERE id = ?`,
		in.RoomID, in.Y, in.X, in.Amount, in.ID)
	if err != nil {
		return fmt.Errorf("update instance %d: %w", in.ID, err)
	}
	return nil
}

// DeleteInstance removes an instance permanently.
func (g *Gateway) DeleteInstance(ctx context.Context, id int64) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM instanced_entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete instance %d: %w", id, err)
	}
	return nil
}

// GetPortal resolves the portal row for a portal entity.
func (g *Gateway) GetPortal(ctx context.Context, entityID int64) (Portal, error) {
	var p Portal
	err := g.db.QueryRowContext(ctx,
		`SELECT id, entity_id, linked_room_id, linked_y, linked_x
		 FROM portals WHERE entity_id = ?`, entityID).
		Scan(&p.ID, &p.EntityID, &p.LinkedRoomID, &p.LinkedY, &p.LinkedX)
	if errors.Is(err, sql.ErrNoRows) {
		return Portal{}, fmt.Errorf("portal for entity %d: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return Portal{}, fmt.Errorf("get portal: %w", err)
	}
	return p, nil
}

// GetItem fetches an item row by id, together with its entity.
func (g *Gateway) GetItem(ctx context.Context, itemID int64) (Item, Entity, error) {
	var it Item
	var e Entity
	err := g.db.QueryRowContext(ctx, `
		SELECT it.id, it.entity_id, it.max_stack_amt, e.typename, e.name, e.drop_table_id
		FROM items AS it JOIN entities AS e ON e.id = it.entity_id
		WHERE it.id = ?`, itemID).
		Scan(&it.ID, &it.EntityID, &it.MaxStack, &e.TypeName, &e.Name, &e.DropTableID)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, Entity{}, fmt.Errorf("item %d: %w", itemID, ErrNotFound)
	}
	if err != nil {
		return Item{}, Entity{}, fmt.Errorf("get item: %w", err)
	}
	e.ID = it.EntityID
	return it, e, nil
}

// InventoryItems lists the stacks of a container joined with item and entity
// identity, ordered by row id.
func (g *Gateway) InventoryItems(ctx context.Context, containerID int64) ([]InventoryRecord, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT c.id, c.container_id, c.item_id, c.amount,
		       it.entity_id, it.max_stack_amt,
		       e.typename, e.name
		FROM container_items AS c
		JOIN items AS it ON it.id = c.item_id
		JOIN entities AS e ON e.id = it.entity_id
		WHERE c.container_id = ?
		ORDER BY c.id`, containerID)
	if err != nil {
		return nil, fmt.Errorf("inventory %d: %w", containerID, err)
	}
	defer rows.Close()

	var out []InventoryRecord
	for rows.Next() {
		var rec InventoryRecord
		if err := rows.Scan(
			&rec.Row.ID, &rec.Row.ContainerID, &rec.Row.ItemID, &rec.Row.Amount,
			&rec.Item.EntityID, &rec.Item.MaxStack,
			&rec.Entity.TypeName, &rec.Entity.Name,
		); err != nil {
			return nil, fmt.Errorf("inventory %d: %w", containerID, err)
		}
		rec.Item.ID = rec.Row.ItemID
		rec.Entity.ID = rec.Item.EntityID
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CreateContainerItem inserts a new inventory stack.
func (g *Gateway) CreateContainerItem(ctx context.Context, row ContainerItem) (int64, error) {
	res, err := g.db.ExecContext(ctx,
		`INSERT INTO container_items (container_id, item_id, amount) VALUES (?, ?, ?)`,
		row.ContainerID, row.ItemID, row.Amount)
	if err != nil {
		return 0, fmt.Errorf("create container item: %w", err)
	}
	return res.LastInsertId()
}

// UpdateContainerItem persists a stack's amount.
func (g *Gateway) UpdateContainerItem(ctx context.Context, row ContainerItem) error {
	_, err := g.db.ExecContext(ctx,
		`UPDATE container_items SET amount = ? WHERE id = ?`, row.Amount, row.ID)
	if err != nil {
		return fmt.Errorf("update container item %d: %w", row.ID, err)
	}
	return nil
}

// DeleteContainerItem removes an inventory stack.
func (g *Gateway) DeleteContainerItem(ctx context.Context, id int64) error {
	_, err := g.db.ExecContext(ctx, `DELETE FROM container_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete container item %d: %w", id, err)
	}
	return nil
}

// ReplaceInventory atomically rewrites every stack of a container. Used by
// the rebalance pass so a coalesce is never half-visible.
func (g *Gateway) ReplaceInventory(ctx context.Context, containerID int64, rows []ContainerItem) ([]ContainerItem, error) {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("replace inventory: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM container_items WHERE container_id = ?`, containerID); err != nil {
		return nil, fmt.Errorf("replace inventory: %w", err)
	}
	out := make([]ContainerItem, 0, len(rows))
	for _, row := range rows {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO container_items (container_id, item_id, amount) VALUES (?, ?, ?)`,
			containerID, row.ItemID, row.Amount)
		if err != nil {
			return nil, fmt.Errorf("replace inventory: %w", err)
		}
		id, _ := res.LastInsertId()
		row.ID = id
		row.ContainerID = containerID
		out = append(out, row)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("replace inventory: %w", err)
	}
	return out, nil
}

// DropTableItems lists the weighted entries of a drop table.
func (g *Gateway) DropTableItems(ctx context.Context, dropTableID int64) ([]DropTableItem, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, drop_table_id, item_id, min_amt, max_amt, chance
		 FROM drop_table_items WHERE drop_table_id = ? ORDER BY id`, dropTableID)
	if err != nil {
		return nil, fmt.Errorf("drop table %d: %w", dropTableID, err)
	}
	defer rows.Close()

	var out []DropTableItem
	for rows.Next() {
		var d DropTableItem
		if err := rows.Scan(&d.ID, &d.DropTableID, &d.ItemID, &d.MinAmount, &d.MaxAmount, &d.Chance); err != nil {
			return nil, fmt.Errorf("drop table %d: %w", dropTableID, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
