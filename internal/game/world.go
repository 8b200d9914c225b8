package game

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"Moonveil/internal/db"
	"Moonveil/internal/maps"
	"Moonveil/internal/wire"
)

// Config carries the server's tunables, populated from the environment and
// overridable by flags in main.
type Config struct {
	Addr     string `env:"MOONVEIL_ADDR" envDefault:":8081"`
	DataDir  string `env:"MOONVEIL_DATA_DIR" envDefault:"data"`
	DBPath   string `env:"MOONVEIL_DB"`
	TickRate int    `env:"MOONVEIL_TICK_RATE" envDefault:"20"`
	MOTD     string `env:"MOONVEIL_MOTD" envDefault:"Welcome to Moonveil."`
}

// DefaultConfig reads configuration from the environment, filling anything
// unset with defaults.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "moonveil.db")
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = 20
	}
	return cfg, nil
}

// Scheduling intervals, in seconds of game time.
const (
	weatherIntervalSec = 30
	saveIntervalSec    = 60
	syncSelfSec        = 1
	gatherIntervalSec  = 2
	dropDespawnSec     = 60
)

// World owns all mutable game state. Every mutation happens on the tick
// goroutine inside Step; reader and writer goroutines touch the world only
// through channels, so no game state needs a lock.
type World struct {
	cfg      Config
	gw       *db.Gateway
	provider *maps.Provider
	gamelog  *GameLog
	keys     *wire.KeyPair
	rng      *rand.Rand

	registry *Registry
	sched    *Scheduler
	sessions map[*Session]struct{}
	rooms    map[int64]db.Room
	weather  string
	tick     uint64

	joins  chan *Session
	leaves chan *Session

	dbTimeout time.Duration
}

// NewWorld loads all rooms and instances from the database and arms the
// recurring weather and save tasks.
func NewWorld(cfg Config, gw *db.Gateway, provider *maps.Provider, gamelog *GameLog, keys *wire.KeyPair) (*World, error) {
	w := &World{
		cfg:       cfg,
		gw:        gw,
		provider:  provider,
		gamelog:   gamelog,
		keys:      keys,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		registry:  NewRegistry(),
		sched:     NewScheduler(),
		sessions:  make(map[*Session]struct{}),
		rooms:     make(map[int64]db.Room),
		weather:   wire.WeatherClear,
		joins:     make(chan *Session, 16),
		leaves:    make(chan *Session, 16),
		dbTimeout: 250 * time.Millisecond,
	}

	ctx, cancel := w.dbctx()
	defer cancel()
	rooms, err := gw.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rooms: %w", err)
	}
	for _, r := range rooms {
		w.rooms[r.ID] = r
		if _, err := provider.Load(r.FileName); err != nil {
			return nil, fmt.Errorf("load map for room %q: %w", r.Name, err)
		}
	}
	records, err := gw.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("load instances: %w", err)
	}
	for _, rec := range records {
		w.registry.LoadRecord(rec)
	}

	w.sched.Every(w.tick, w.secondsToTicks(weatherIntervalSec), Task{Kind: TaskWeatherRoll})
	w.sched.Every(w.tick, w.secondsToTicks(saveIntervalSec), Task{Kind: TaskSavePlayers})
	return w, nil
}

// Run drives the tick loop until the context is cancelled.
func (w *World) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(w.cfg.TickRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Step()
		}
	}
}

// Step advances the world by one tick: admit and retire sessions, dispatch
// at most one request per session, fire due tasks, recompute visibility, and
// flush everything queued for sending.
func (w *World) Step() {
	for {
		select {
		case s := <-w.joins:
			if !s.retired {
				w.sessions[s] = struct{}{}
			}
			continue
		case s := <-w.leaves:
			if _, ok := w.sessions[s]; ok {
				if s.state == StatePlay {
					s.forceLogout()
				}
				delete(w.sessions, s)
			}
			if !s.retired {
				s.retired = true
				// The reader is gone and the session is out of the world,
				// so no sender remains; closing the channel lets the
				// writer goroutine exit.
				close(s.writeCh)
			}
			continue
		default:
		}
		break
	}

	w.tick++

	for s := range w.sessions {
		select {
		case p := <-s.inbound:
			s.dispatch(p)
		default:
		}
	}

	w.sched.Advance(w.tick, w.runTask)

	for s := range w.sessions {
		if s.state == StatePlay {
			s.syncVisible()
		}
	}
	for s := range w.sessions {
		s.flush()
	}
}

func (w *World) runTask(t Task) {
	switch t.Kind {
	case TaskRespawnInstance:
		w.respawnInstance(t.InstanceID)
	case TaskDespawnInstance:
		w.despawnInstance(t.InstanceID)
	case TaskGatherAttempt:
		t.Session.gatherAttempt(t)
	case TaskWeatherRoll:
		w.weatherRoll()
	case TaskSavePlayers:
		w.savePlayers()
	case TaskSyncSelf:
		t.Session.syncSelf()
	}
}

// respawnInstance restores a removed instance from its persisted row, which
// still holds the spawn coordinates and amount because removal pending
// respawn is never written to the database.
func (w *World) respawnInstance(id int64) {
	inst := w.registry.Get(id)
	if inst == nil || !inst.Removed() {
		return
	}
	ctx, cancel := w.dbctx()
	defer cancel()
	row, err := w.gw.GetInstance(ctx, id)
	if err != nil {
		log.Printf("respawn instance %d: %v", id, err)
		return
	}
	inst.Y = row.Y
	inst.X = row.X
	inst.Amount = row.Amount
}

// despawnInstance permanently deletes a ground item that nobody picked up.
func (w *World) despawnInstance(id int64) {
	inst := w.registry.Get(id)
	if inst == nil {
		return
	}
	w.registry.Remove(id)
	ctx, cancel := w.dbctx()
	defer cancel()
	if err := w.gw.DeleteInstance(ctx, id); err != nil {
		log.Printf("despawn instance %d: %v", id, err)
	}
}

func (w *World) weatherRoll() {
	if w.rng.Intn(2) == 0 {
		return
	}
	var next, flavor string
	switch w.weather {
	case wire.WeatherClear:
		next, flavor = wire.WeatherRain, "Rain begins to fall."
	case wire.WeatherRain:
		if w.rng.Intn(2) == 0 {
			next, flavor = wire.WeatherStorm, "The rain thickens into a storm."
		} else {
			next, flavor = wire.WeatherClear, "The rain tapers off and the sky clears."
		}
	case wire.WeatherStorm:
		next, flavor = wire.WeatherRain, "The storm settles into a steady rain."
	default:
		next, flavor = wire.WeatherClear, "The sky clears."
	}
	w.weather = next
	w.broadcastAll(wire.WeatherChange{State: next})
	w.broadcastAll(wire.ServerLog{Text: flavor})
	w.gamelog.Log("weather", next)
}

func (w *World) savePlayers() {
	for s := range w.sessions {
		if s.state != StatePlay || s.avatar == nil {
			continue
		}
		ctx, cancel := w.dbctx()
		err := w.gw.UpdateInstance(ctx, s.avatar.Row())
		cancel()
		if err != nil {
			log.Printf("save player %q: %v", s.user.Username, err)
			continue
		}
		s.send(wire.ServerLog{Text: "Game has been saved."})
	}
}

// broadcastRoom queues a packet for every playing session in a room, minus
// any excluded sessions.
func (w *World) broadcastRoom(roomID int64, pkt wire.Packet, exclude ...*Session) {
	for s := range w.sessions {
		if s.state != StatePlay || s.room.ID != roomID {
			continue
		}
		skip := false
		for _, e := range exclude {
			if s == e {
				skip = true
				break
			}
		}
		if !skip {
			s.send(pkt)
		}
	}
}

func (w *World) broadcastAll(pkt wire.Packet) {
	for s := range w.sessions {
		if s.state == StatePlay {
			s.send(pkt)
		}
	}
}

// sessionForUser finds the live session already inhabiting a user, if any.
func (w *World) sessionForUser(userID int64) *Session {
	for s := range w.sessions {
		if s.state == StatePlay && s.user.ID == userID {
			return s
		}
	}
	return nil
}

func (w *World) sessionByAvatar(instanceID int64) *Session {
	for s := range w.sessions {
		if s.state == StatePlay && s.avatar != nil && s.avatar.ID == instanceID {
			return s
		}
	}
	return nil
}

func (w *World) dbctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), w.dbTimeout)
}

func (w *World) secondsToTicks(sec int) uint64 {
	return uint64(sec * w.cfg.TickRate)
}
