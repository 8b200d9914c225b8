package game

import (
	"fmt"
	"log"
	"net"
	"strings"
	"sync"

	"Moonveil/internal/db"
	"Moonveil/internal/maps"
	"Moonveil/internal/wire"
)

// SessionState tracks where a connection sits in its lifecycle.
type SessionState int

const (
	// StateGetEntry accepts only Login and Register.
	StateGetEntry SessionState = iota
	// StatePlay accepts gameplay requests.
	StatePlay
	// StateDisconnected means the connection is gone and the session is
	// draining out of the world.
	StateDisconnected
)

// New players start in the first room on open ground.
const (
	spawnRoomID = 1
	spawnY      = 1
	spawnX      = 1
)

// Session is one client connection. The reader goroutine feeds decoded
// packets into inbound; the tick goroutine consumes them, mutates state and
// queues replies in outbound; flush seals and hands frames to the writer
// goroutine via writeCh. Only the cipher is shared between goroutines.
type Session struct {
	world   *World
	conn    net.Conn
	writeCh chan []byte

	closeOnce sync.Once

	cipherMu sync.Mutex
	cipher   *wire.FrameCipher

	inbound  chan wire.Packet
	outbound []wire.Packet

	state         SessionState
	user          db.User
	player        db.Player
	inventory     *Inventory
	avatar        *Instance
	room          db.Room
	roomMap       *maps.Map
	visible       map[int64]wire.InstanceModel
	sentInventory bool

	gatherTaskID int64
	gatherNodeID int64
	syncTaskID   int64

	retired bool
}

func newSession(w *World, conn net.Conn) *Session {
	return &Session{
		world:   w,
		conn:    conn,
		writeCh: make(chan []byte, 64),
		inbound: make(chan wire.Packet, 16),
		visible: make(map[int64]wire.InstanceModel),
	}
}

// readLoop reads the connection, reassembles frames, and forwards decoded
// packets to the tick loop. It returns when the connection dies or the
// client sends something unrecoverable.
func (s *Session) readLoop() {
	defer func() {
		s.close()
		s.world.leaves <- s
	}()
	var fr wire.FrameReader
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			fr.Feed(buf[:n])
			for {
				frame, ferr := fr.Next()
				if ferr != nil {
					return
				}
				if frame == nil {
					break
				}
				if !s.handleFrame(frame) {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// handleFrame processes one reassembled frame. Before the key exchange the
// only acceptable frame is a plaintext ClientKey; afterwards frames are
// decrypted and decoded. A frame that fails decryption is dropped alone; a
// frame that decrypts to garbage kills the connection.
func (s *Session) handleFrame(frame []byte) bool {
	s.cipherMu.Lock()
	ciph := s.cipher
	s.cipherMu.Unlock()

	if ciph == nil {
		pkt, err := wire.Decode(frame)
		if err != nil {
			return false
		}
		ck, ok := pkt.(wire.ClientKey)
		if !ok {
			return false
		}
		key, err := s.world.keys.UnwrapSessionKey(ck.Key)
		if err != nil {
			return false
		}
		c, err := wire.NewFrameCipher(key)
		if err != nil {
			return false
		}
		s.cipherMu.Lock()
		s.cipher = c
		s.cipherMu.Unlock()
		s.writePacket(wire.Welcome{MOTD: s.world.cfg.MOTD})
		return true
	}

	plain, err := ciph.Decrypt(frame)
	if err != nil {
		log.Printf("drop undecryptable frame: %v", err)
		return true
	}
	pkt, err := wire.Decode(plain)
	if err != nil {
		return false
	}
	select {
	case s.inbound <- pkt:
	default:
	}
	return true
}

// writePacket seals one packet and hands it to the writer goroutine. With no
// cipher installed the frame goes out in plaintext; that happens only for
// the server's public key and in tests.
func (s *Session) writePacket(pkt wire.Packet) {
	payload, err := wire.Encode(pkt)
	if err != nil {
		log.Printf("encode %s: %v", pkt.Action(), err)
		return
	}
	s.cipherMu.Lock()
	if s.cipher != nil {
		payload, err = s.cipher.Encrypt(payload)
	}
	s.cipherMu.Unlock()
	if err != nil {
		log.Printf("seal %s: %v", pkt.Action(), err)
		return
	}
	select {
	case s.writeCh <- wire.EncodeFrame(payload):
	default:
	}
}

// send queues a packet for the end-of-tick flush. Tick goroutine only.
func (s *Session) send(pkt wire.Packet) {
	s.outbound = append(s.outbound, pkt)
}

func (s *Session) flush() {
	if len(s.outbound) == 0 {
		return
	}
	out := s.outbound
	s.outbound = s.outbound[:0]
	for _, pkt := range out {
		s.writePacket(pkt)
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

// dispatch routes one client packet according to the session state.
func (s *Session) dispatch(pkt wire.Packet) {
	switch s.state {
	case StateGetEntry:
		switch p := pkt.(type) {
		case wire.Login:
			s.handleLogin(p)
		case wire.Register:
			s.handleRegister(p)
		default:
			s.send(wire.Deny{Reason: "You must log in first."})
		}
	case StatePlay:
		switch p := pkt.(type) {
		case wire.Chat:
			s.handleChat(p)
		case wire.Move:
			s.handleMove(p)
		case wire.GrabItem:
			s.handleGrab()
		case wire.DropItem:
			s.handleDrop(p)
		case wire.MoveRooms:
			s.handleMoveRooms(p)
		case wire.Logout:
			s.handleLogout(true)
		default:
			s.send(wire.Deny{Reason: "You are already inhabiting this realm."})
		}
	}
}

func (s *Session) handleLogin(p wire.Login) {
	w := s.world
	name := NormalizeUsername(p.Username)

	lookupCtx, lookupCancel := w.dbctx()
	user, err := w.gw.GetUserByName(lookupCtx, name)
	lookupCancel()
	if err != nil {
		s.send(wire.Deny{Reason: "I don't know anybody by that name"})
		return
	}
	if w.sessionForUser(user.ID) != nil {
		s.send(wire.Deny{Reason: "You are already inhabiting this realm"})
		return
	}
	if !CheckPassword(user.Password, p.Password) {
		s.send(wire.Deny{Reason: "Incorrect password"})
		return
	}

	ctx, cancel := w.dbctx()
	defer cancel()
	player, err := w.gw.GetPlayerByUser(ctx, user.ID)
	if err != nil {
		log.Printf("login %q: %v", name, err)
		s.send(wire.Deny{Reason: "Your player could not be loaded."})
		return
	}
	avatar := w.registry.ByEntity(player.EntityID)
	if avatar == nil {
		log.Printf("login %q: avatar instance missing", name)
		s.send(wire.Deny{Reason: "Your player could not be loaded."})
		return
	}
	records, err := w.gw.InventoryItems(ctx, player.ContainerID)
	if err != nil {
		log.Printf("login %q: %v", name, err)
		s.send(wire.Deny{Reason: "Your player could not be loaded."})
		return
	}

	s.user = user
	s.player = player
	s.avatar = avatar
	s.inventory = LoadInventory(player.ContainerID, records)
	s.send(wire.Ok{})
	s.joinRoom(avatar.RoomID, avatar.Y, avatar.X)
	w.gamelog.Log("login", name)
}

func (s *Session) handleRegister(p wire.Register) {
	w := s.world
	name := NormalizeUsername(p.Username)
	if err := validateUsername(name); err != nil {
		s.send(wire.Deny{Reason: err.Error()})
		return
	}
	if err := validatePassword(p.Password); err != nil {
		s.send(wire.Deny{Reason: err.Error()})
		return
	}

	lookupCtx, lookupCancel := w.dbctx()
	_, err := w.gw.GetUserByName(lookupCtx, name)
	lookupCancel()
	if err == nil {
		s.send(wire.Deny{Reason: "Somebody else already goes by that name"})
		return
	}
	hash, err := HashPassword(p.Password)
	if err != nil {
		log.Printf("register %q: %v", name, err)
		s.send(wire.Deny{Reason: "Registration failed."})
		return
	}
	ctx, cancel := w.dbctx()
	defer cancel()
	player, spawn, err := w.gw.CreateUser(ctx, name, hash, spawnRoomID, spawnY, spawnX)
	if err != nil {
		log.Printf("register %q: %v", name, err)
		s.send(wire.Deny{Reason: "Somebody else already goes by that name"})
		return
	}
	w.registry.Add(&Instance{
		ID:       spawn.ID,
		EntityID: player.EntityID,
		TypeName: "Player",
		Name:     name,
		RoomID:   spawn.RoomID,
		Y:        spawn.Y,
		X:        spawn.X,
		Amount:   spawn.Amount,
		SpawnY:   spawn.Y,
		SpawnX:   spawn.X,
	})
	s.send(wire.Ok{})
	w.gamelog.Log("register", name)
}

// joinRoom moves the avatar into a room and replays the full entry sequence
// the client rebuilds its scene from.
func (s *Session) joinRoom(roomID int64, y, x int) {
	w := s.world
	room, ok := w.rooms[roomID]
	if !ok {
		s.send(wire.Deny{Reason: "That place does not exist."})
		return
	}
	m, err := w.provider.Load(room.FileName)
	if err != nil {
		log.Printf("join room %d: %v", roomID, err)
		s.send(wire.Deny{Reason: "That place could not be loaded."})
		return
	}

	s.cancelGather()
	// Persist the destination before touching the avatar so a failed write
	// leaves the player exactly where observers last saw them.
	row := s.avatar.Row()
	row.RoomID = roomID
	row.Y, row.X = y, x
	ctx, cancel := w.dbctx()
	err = w.gw.UpdateInstance(ctx, row)
	cancel()
	if err != nil {
		log.Printf("join room %d: %v", roomID, err)
		s.send(wire.Deny{Reason: "That place could not be loaded."})
		return
	}
	w.registry.MoveRoom(s.avatar, roomID, y, x)

	s.room = room
	s.roomMap = m
	s.visible = make(map[int64]wire.InstanceModel)

	id := roomID
	s.send(wire.MoveRooms{RoomID: &id})
	s.send(wire.Ok{})
	s.send(wire.TickRate{Hz: w.cfg.TickRate})
	s.send(wire.ModelUpdate{Model: wire.RoomModel{
		ID:     room.ID,
		Name:   room.Name,
		Height: m.Height,
		Width:  m.Width,
		Ground: m.Ground,
		Solid:  m.Solid,
		Roof:   m.Roof,
	}})
	s.send(wire.ModelUpdate{Model: wire.PlayerModel{
		PlayerID:   s.player.ID,
		EntityID:   s.player.EntityID,
		Name:       s.user.Username,
		InstanceID: s.avatar.ID,
	}})
	s.send(wire.ModelUpdate{Model: s.avatar.Model()})
	s.send(wire.ModelUpdate{Model: wire.WeatherModel{State: w.weather}})
	if !s.sentInventory {
		s.sendInventory()
		s.sentInventory = true
	}

	s.state = StatePlay
	if s.syncTaskID == 0 {
		s.syncTaskID = w.sched.Every(w.tick, w.secondsToTicks(syncSelfSec), Task{Kind: TaskSyncSelf, Session: s})
	}
	w.broadcastRoom(roomID, wire.ServerLog{Text: fmt.Sprintf("%s has arrived.", s.user.Username)})
}

func (s *Session) handleChat(p wire.Chat) {
	msg := strings.TrimSpace(sanitizeInput(p.Message))
	if msg == "" {
		return
	}
	text := fmt.Sprintf("%s says: %s", s.user.Username, msg)
	s.world.broadcastRoom(s.room.ID, wire.ServerLog{Text: text})
	s.world.gamelog.Log("chat", text)
}

func (s *Session) handleMove(p wire.Move) {
	w := s.world
	dy, dx := p.Direction.Vector()
	if dy == 0 && dx == 0 {
		s.send(wire.Deny{Reason: "Can't move there"})
		return
	}
	y, x := s.avatar.Y+dy, s.avatar.X+dx

	for _, inst := range w.registry.At(s.room.ID, y, x) {
		switch inst.TypeName {
		case "Portal":
			s.usePortal(inst)
			return
		case "OreNode", "TreeNode":
			s.startGather(inst)
			return
		}
	}

	if !s.roomMap.InBounds(y, x) || s.roomMap.IsSolid(y, x) {
		s.send(wire.Deny{Reason: "Can't move there"})
		return
	}

	s.cancelGather()
	row := s.avatar.Row()
	row.Y, row.X = y, x
	ctx, cancel := w.dbctx()
	err := w.gw.UpdateInstance(ctx, row)
	cancel()
	if err != nil {
		log.Printf("move %q: %v", s.user.Username, err)
		s.send(wire.Deny{Reason: "Can't move there"})
		return
	}
	s.avatar.Y, s.avatar.X = y, x
}

func (s *Session) usePortal(inst *Instance) {
	w := s.world
	ctx, cancel := w.dbctx()
	portal, err := w.gw.GetPortal(ctx, inst.EntityID)
	cancel()
	if err != nil {
		log.Printf("portal %d: %v", inst.ID, err)
		s.send(wire.Deny{Reason: "The portal fizzles."})
		return
	}
	s.joinRoom(portal.LinkedRoomID, portal.LinkedY, portal.LinkedX)
}

// handleMoveRooms lets a client ask to re-enter its current room, which
// replays the scene after a desync. Travel happens only through portals.
func (s *Session) handleMoveRooms(p wire.MoveRooms) {
	if p.RoomID == nil || *p.RoomID != s.room.ID {
		s.send(wire.Deny{Reason: "You can't go there from here."})
		return
	}
	s.joinRoom(s.room.ID, s.avatar.Y, s.avatar.X)
}

func (s *Session) handleGrab() {
	w := s.world
	var target *Instance
	for _, inst := range w.registry.At(s.room.ID, s.avatar.Y, s.avatar.X) {
		if inst.Item != nil {
			target = inst
			break
		}
	}
	if target == nil {
		s.send(wire.ServerLog{Text: "There is nothing here to pick up."})
		return
	}

	clone := s.inventory.Clone()
	added := clone.Add(*target.Item, target.TypeName, target.Name, target.Amount)
	if added == 0 {
		s.send(wire.ServerLog{Text: "Your inventory is full."})
		return
	}
	clone.Rebalance()
	if err := s.commitInventory(clone); err != nil {
		log.Printf("grab %q: %v", s.user.Username, err)
		s.send(wire.ServerLog{Text: "You fumble and drop it."})
		return
	}

	remaining := target.Amount - added
	if remaining > 0 {
		target.Amount = remaining
		row := target.Row()
		ctx, cancel := w.dbctx()
		if err := w.gw.UpdateInstance(ctx, row); err != nil {
			log.Printf("grab update instance %d: %v", target.ID, err)
		}
		cancel()
	} else {
		s.consumeInstance(target)
	}
	s.send(wire.ServerLog{Text: fmt.Sprintf("You pick up %d %s.", added, target.Name)})
	s.sendInventory()
}

// consumeInstance removes a fully depleted instance from the world. A
// respawning instance goes out of bounds and comes back later; the database
// row is left untouched so it still describes the spawn. Anything else is
// deleted for good.
func (s *Session) consumeInstance(target *Instance) {
	w := s.world
	if target.RespawnTime > 0 {
		target.Y, target.X = OOB, OOB
		w.sched.After(w.tick, w.secondsToTicks(target.RespawnTime), Task{
			Kind:       TaskRespawnInstance,
			InstanceID: target.ID,
		})
		return
	}
	w.registry.Remove(target.ID)
	ctx, cancel := w.dbctx()
	defer cancel()
	if err := w.gw.DeleteInstance(ctx, target.ID); err != nil {
		log.Printf("delete instance %d: %v", target.ID, err)
	}
}

func (s *Session) handleDrop(p wire.DropItem) {
	w := s.world
	held := s.inventory.Count(p.ItemID)
	if held == 0 {
		s.send(wire.ServerLog{Text: "You aren't carrying that."})
		return
	}
	amount := p.Amount
	if amount <= 0 || amount > held {
		amount = held
	}

	var stack *Stack
	for i := range s.inventory.Stacks {
		if s.inventory.Stacks[i].Item.ID == p.ItemID {
			stack = &s.inventory.Stacks[i]
			break
		}
	}

	// A matching stack already on the ground absorbs the drop up to its
	// capacity; whatever does not fit stays carried.
	var target *Instance
	for _, inst := range w.registry.At(s.room.ID, s.avatar.Y, s.avatar.X) {
		if inst.Item != nil && inst.Item.ID == p.ItemID {
			target = inst
			break
		}
	}
	if target != nil {
		space := target.Item.MaxStack - target.Amount
		if space <= 0 {
			s.send(wire.ServerLog{Text: "There is no room here for that."})
			return
		}
		if amount > space {
			amount = space
		}
	}

	clone := s.inventory.Clone()
	clone.Remove(p.ItemID, amount)
	clone.Rebalance()
	if err := s.commitInventory(clone); err != nil {
		log.Printf("drop %q: %v", s.user.Username, err)
		s.send(wire.ServerLog{Text: "You can't let go of it."})
		return
	}

	if target != nil {
		target.Amount += amount
		ctx, cancel := w.dbctx()
		if err := w.gw.UpdateInstance(ctx, target.Row()); err != nil {
			log.Printf("drop merge instance %d: %v", target.ID, err)
		}
		cancel()
	} else {
		row := db.Instance{
			EntityID: stack.Item.EntityID,
			RoomID:   s.room.ID,
			Y:        s.avatar.Y,
			X:        s.avatar.X,
			Amount:   amount,
		}
		ctx, cancel := w.dbctx()
		id, err := w.gw.CreateInstance(ctx, row)
		cancel()
		if err != nil {
			log.Printf("drop create instance: %v", err)
			return
		}
		item := stack.Item
		dropped := &Instance{
			ID:       id,
			EntityID: item.EntityID,
			TypeName: stack.TypeName,
			Name:     stack.Name,
			Item:     &item,
			RoomID:   s.room.ID,
			Y:        s.avatar.Y,
			X:        s.avatar.X,
			Amount:   amount,
			SpawnY:   s.avatar.Y,
			SpawnX:   s.avatar.X,
		}
		w.registry.Add(dropped)
		w.sched.After(w.tick, w.secondsToTicks(dropDespawnSec), Task{
			Kind:       TaskDespawnInstance,
			InstanceID: id,
		})
	}
	s.send(wire.ServerLog{Text: fmt.Sprintf("You drop %d %s.", amount, stack.Name)})
	s.sendInventory()
}

// handleLogout returns the session to the entry state. notify controls
// whether the leaving client itself gets a reply; a dead connection does
// not.
func (s *Session) handleLogout(notify bool) {
	w := s.world
	s.cancelGather()
	if s.syncTaskID != 0 {
		w.sched.Cancel(s.syncTaskID)
		s.syncTaskID = 0
	}
	if s.avatar != nil {
		ctx, cancel := w.dbctx()
		if err := w.gw.UpdateInstance(ctx, s.avatar.Row()); err != nil {
			log.Printf("logout save %q: %v", s.user.Username, err)
		}
		cancel()
		// The visibility diff sends the Goodbye for the vanished avatar.
		w.broadcastRoom(s.room.ID, wire.ServerLog{Text: fmt.Sprintf("%s has departed.", s.user.Username)}, s)
	}
	w.gamelog.Log("logout", s.user.Username)
	if notify {
		s.send(wire.Ok{})
	}

	s.state = StateGetEntry
	s.user = db.User{}
	s.player = db.Player{}
	s.inventory = nil
	s.avatar = nil
	s.room = db.Room{}
	s.roomMap = nil
	s.visible = make(map[int64]wire.InstanceModel)
	s.sentInventory = false
}

// forceLogout runs when the connection drops while playing.
func (s *Session) forceLogout() {
	s.handleLogout(false)
	s.state = StateDisconnected
}

// syncSelf periodically re-sends the avatar's own model so the client's
// predicted position never drifts from the authoritative one.
func (s *Session) syncSelf() {
	if s.state != StatePlay || s.avatar == nil {
		return
	}
	s.send(wire.ModelUpdate{Model: s.avatar.Model()})
}

func (s *Session) sendInventory() {
	for _, m := range s.inventory.Snapshot() {
		s.send(wire.ModelUpdate{Model: m})
	}
}

// commitInventory persists a staged inventory and adopts it only on
// success, so the in-memory view never runs ahead of the database.
func (s *Session) commitInventory(clone *Inventory) error {
	ctx, cancel := s.world.dbctx()
	defer cancel()
	rows, err := s.world.gw.ReplaceInventory(ctx, clone.ContainerID, clone.Rows())
	if err != nil {
		return err
	}
	for i := range rows {
		clone.Stacks[i].RowID = rows[i].ID
	}
	s.inventory = clone
	return nil
}
