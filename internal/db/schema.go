package db

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL,
	file_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS drop_tables (
	id INTEGER PRIMARY KEY AUTOINCREMENT
);

CREATE TABLE IF NOT EXISTS entities (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	typename      TEXT NOT NULL,
	name          TEXT NOT NULL,
	drop_table_id INTEGER REFERENCES drop_tables(id)
);

CREATE TABLE IF NOT EXISTS items (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id     INTEGER NOT NULL REFERENCES entities(id),
	max_stack_amt INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS drop_table_items (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	drop_table_id INTEGER NOT NULL REFERENCES drop_tables(id),
	item_id       INTEGER NOT NULL REFERENCES items(id),
	min_amt       INTEGER NOT NULL DEFAULT 1,
	max_amt       INTEGER NOT NULL DEFAULT 1,
	chance        REAL NOT NULL DEFAULT 1.0
);

CREATE TABLE IF NOT EXISTS containers (
	id INTEGER PRIMARY KEY AUTOINCREMENT
);

CREATE TABLE IF NOT EXISTS container_items (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	container_id INTEGER NOT NULL REFERENCES containers(id),
	item_id      INTEGER NOT NULL REFERENCES items(id),
	amount       INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS players (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL UNIQUE REFERENCES users(id),
	entity_id    INTEGER NOT NULL REFERENCES entities(id),
	container_id INTEGER NOT NULL REFERENCES containers(id)
);

CREATE TABLE IF NOT EXISTS portals (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id      INTEGER NOT NULL REFERENCES entities(id),
	linked_room_id INTEGER NOT NULL REFERENCES rooms(id),
	linked_y       INTEGER NOT NULL,
	linked_x       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS instanced_entities (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id    INTEGER NOT NULL REFERENCES entities(id),
	room_id      INTEGER NOT NULL REFERENCES rooms(id),
	y            INTEGER NOT NULL,
	x            INTEGER NOT NULL,
	amount       INTEGER NOT NULL DEFAULT 1,
	respawn_time INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_instances_room ON instanced_entities(room_id);
CREATE INDEX IF NOT EXISTS idx_container_items_container ON container_items(container_id);
`
