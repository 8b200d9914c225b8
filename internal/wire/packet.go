package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Action identifies a packet variant on the wire.
type Action string

const (
	ActionOk            Action = "Ok"
	ActionDeny          Action = "Deny"
	ActionWelcome       Action = "Welcome"
	ActionGoodbye       Action = "Goodbye"
	ActionLogin         Action = "Login"
	ActionLogout        Action = "Logout"
	ActionRegister      Action = "Register"
	ActionModelUpdate   Action = "ModelUpdate"
	ActionChat          Action = "Chat"
	ActionMove          Action = "Move"
	ActionMoveRooms     Action = "MoveRooms"
	ActionDisconnect    Action = "Disconnect"
	ActionServerLog     Action = "ServerLog"
	ActionTickRate      Action = "TickRate"
	ActionClientKey     Action = "ClientKey"
	ActionPublicKey     Action = "PublicKey"
	ActionGrabItem      Action = "GrabItem"
	ActionDropItem      Action = "DropItem"
	ActionWeatherChange Action = "WeatherChange"
)

// ErrBadAction is returned when a decoded frame names an action outside the
// catalog. The connection that sent it cannot be trusted to stay in sync.
var ErrBadAction = errors.New("unknown packet action")

// ChatLimit is the maximum chat message length carried on the wire.
const ChatLimit = 80

// truncateChat caps a message at ChatLimit bytes, backing up so a multi-byte
// rune is never split.
func truncateChat(msg string) string {
	if len(msg) <= ChatLimit {
		return msg
	}
	cut := ChatLimit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

// Direction is a cardinal movement request.
type Direction string

const (
	DirUp    Direction = "Up"
	DirDown  Direction = "Down"
	DirLeft  Direction = "Left"
	DirRight Direction = "Right"
)

// Vector returns the (dy, dx) unit offset for the direction.
func (d Direction) Vector() (int, int) {
	switch d {
	case DirUp:
		return -1, 0
	case DirDown:
		return 1, 0
	case DirLeft:
		return 0, -1
	case DirRight:
		return 0, 1
	}
	return 0, 0
}

// Weather states broadcast to clients.
const (
	WeatherClear = "Clear"
	WeatherRain  = "Rain"
	WeatherStorm = "Storm"
)

// Packet is implemented by every catalog variant.
type Packet interface {
	Action() Action
	payloads() ([]any, error)
}

// Ok signals a request succeeded.
type Ok struct{}

// Deny rejects a request with a human-readable reason.
type Deny struct{ Reason string }

// Welcome greets a freshly connected client with the message of the day.
type Welcome struct{ MOTD string }

// Goodbye tells a client an instance has left its view.
type Goodbye struct{ InstanceID int64 }

// Login requests entry as an existing user.
type Login struct{ Username, Password string }

// Logout returns an authenticated session to the entry state.
type Logout struct{ Username string }

// Register requests creation of a new user.
type Register struct{ Username, Password string }

// ModelUpdate carries a full or sparse model snapshot.
type ModelUpdate struct{ Model Model }

// Chat carries a player's room-scoped chat line.
type Chat struct{ Message string }

// Move requests a one-cell movement.
type Move struct{ Direction Direction }

// MoveRooms announces a transition into a room. The room is nil while the
// destination is still being resolved server-side.
type MoveRooms struct{ RoomID *int64 }

// Disconnect reports a lost connection, with an optional reason.
type Disconnect struct{ Username, Reason string }

// ServerLog conveys a server-side message for display in the client's log.
type ServerLog struct{ Text string }

// TickRate informs the client of the authoritative loop frequency.
type TickRate struct{ Hz int }

// ClientKey is the client's RSA-wrapped symmetric session key.
type ClientKey struct{ Key []byte }

// PublicKey is the server's RSA public key, sent as the first, unencrypted
// frame of every connection. The modulus travels as a decimal string.
type PublicKey struct {
	N string
	E int
}

// GrabItem asks to pick up whatever item lies at the player's feet.
type GrabItem struct{}

// DropItem asks to drop an amount of the named inventory item.
type DropItem struct {
	ItemID int64
	Amount int
}

// WeatherChange announces a world weather transition.
type WeatherChange struct{ State string }

func (Ok) Action() Action            { return ActionOk }
func (Deny) Action() Action          { return ActionDeny }
func (Welcome) Action() Action       { return ActionWelcome }
func (Goodbye) Action() Action       { return ActionGoodbye }
func (Login) Action() Action         { return ActionLogin }
func (Logout) Action() Action        { return ActionLogout }
func (Register) Action() Action      { return ActionRegister }
func (ModelUpdate) Action() Action   { return ActionModelUpdate }
func (Chat) Action() Action          { return ActionChat }
func (Move) Action() Action          { return ActionMove }
func (MoveRooms) Action() Action     { return ActionMoveRooms }
func (Disconnect) Action() Action    { return ActionDisconnect }
func (ServerLog) Action() Action     { return ActionServerLog }
func (TickRate) Action() Action      { return ActionTickRate }
func (ClientKey) Action() Action     { return ActionClientKey }
func (PublicKey) Action() Action     { return ActionPublicKey }
func (GrabItem) Action() Action      { return ActionGrabItem }
func (DropItem) Action() Action      { return ActionDropItem }
func (WeatherChange) Action() Action { return ActionWeatherChange }

func (Ok) payloads() ([]any, error)        { return nil, nil }
func (p Deny) payloads() ([]any, error)    { return []any{p.Reason}, nil }
func (p Welcome) payloads() ([]any, error) { return []any{p.MOTD}, nil }
func (p Goodbye) payloads() ([]any, error) { return []any{p.InstanceID}, nil }
func (p Login) payloads() ([]any, error)   { return []any{p.Username, p.Password}, nil }
func (p Logout) payloads() ([]any, error)  { return []any{p.Username}, nil }
func (p Register) payloads() ([]any, error) {
	return []any{p.Username, p.Password}, nil
}

func (p ModelUpdate) payloads() ([]any, error) {
	env, err := encodeModel(p.Model)
	if err != nil {
		return nil, err
	}
	return []any{env}, nil
}

func (p Chat) payloads() ([]any, error) {
	return []any{truncateChat(p.Message)}, nil
}

func (p Move) payloads() ([]any, error) { return []any{string(p.Direction)}, nil }

func (p MoveRooms) payloads() ([]any, error) {
	if p.RoomID == nil {
		return []any{nil}, nil
	}
	return []any{*p.RoomID}, nil
}

func (p Disconnect) payloads() ([]any, error) {
	return []any{p.Username, p.Reason}, nil
}
func (p ServerLog) payloads() ([]any, error) { return []any{p.Text}, nil }
func (p TickRate) payloads() ([]any, error)  { return []any{p.Hz}, nil }
func (p ClientKey) payloads() ([]any, error) {
	return []any{base64.StdEncoding.EncodeToString(p.Key)}, nil
}
func (p PublicKey) payloads() ([]any, error) { return []any{p.N, p.E}, nil }
func (GrabItem) payloads() ([]any, error)    { return nil, nil }
func (p DropItem) payloads() ([]any, error) {
	return []any{p.ItemID, p.Amount}, nil
}
func (p WeatherChange) payloads() ([]any, error) { return []any{p.State}, nil }

// frame is the JSON body carried inside a netstring: an action tag plus
// positional payload values.
type frame struct {
	A Action            `json:"a"`
	P []json.RawMessage `json:"p,omitempty"`
}

// Encode serializes a packet into the JSON body placed inside a netstring.
func Encode(p Packet) ([]byte, error) {
	values, err := p.payloads()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", p.Action(), err)
	}
	f := frame{A: p.Action()}
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", p.Action(), err)
		}
		f.P = append(f.P, raw)
	}
	return json.Marshal(f)
}

// decoders maps every catalog action to its typed constructor. Unknown tags
// are a decode error, not a lookup miss.
var decoders = map[Action]func(args) (Packet, error){
	ActionOk:      func(args) (Packet, error) { return Ok{}, nil },
	ActionWelcome: func(a args) (Packet, error) { s, err := a.str(0); return Welcome{MOTD: s}, err },
	ActionDeny:    func(a args) (Packet, error) { s, err := a.str(0); return Deny{Reason: s}, err },
	ActionGoodbye: func(a args) (Packet, error) {
		id, err := a.i64(0)
		return Goodbye{InstanceID: id}, err
	},
	ActionLogin: func(a args) (Packet, error) {
		user, err := a.str(0)
		if err != nil {
			return nil, err
		}
		pass, err := a.str(1)
		return Login{Username: user, Password: pass}, err
	},
	ActionLogout: func(a args) (Packet, error) {
		user, err := a.str(0)
		return Logout{Username: user}, err
	},
	ActionRegister: func(a args) (Packet, error) {
		user, err := a.str(0)
		if err != nil {
			return nil, err
		}
		pass, err := a.str(1)
		return Register{Username: user, Password: pass}, err
	},
	ActionModelUpdate: func(a args) (Packet, error) {
		if len(a) < 1 {
			return nil, fmt.Errorf("ModelUpdate: missing payload")
		}
		model, err := decodeModel(a[0])
		if err != nil {
			return nil, err
		}
		return ModelUpdate{Model: model}, nil
	},
	ActionChat: func(a args) (Packet, error) {
		msg, err := a.str(0)
		if err != nil {
			return nil, err
		}
		return Chat{Message: truncateChat(msg)}, nil
	},
	ActionMove: func(a args) (Packet, error) {
		s, err := a.str(0)
		if err != nil {
			return nil, err
		}
		switch Direction(s) {
		case DirUp, DirDown, DirLeft, DirRight:
			return Move{Direction: Direction(s)}, nil
		}
		return nil, fmt.Errorf("Move: bad direction %q", s)
	},
	ActionMoveRooms: func(a args) (Packet, error) {
		if len(a) < 1 || string(a[0]) == "null" {
			return MoveRooms{}, nil
		}
		id, err := a.i64(0)
		if err != nil {
			return nil, err
		}
		return MoveRooms{RoomID: &id}, nil
	},
	ActionDisconnect: func(a args) (Packet, error) {
		user, err := a.str(0)
		if err != nil {
			return nil, err
		}
		reason := ""
		if len(a) > 1 {
			if reason, err = a.str(1); err != nil {
				return nil, err
			}
		}
		return Disconnect{Username: user, Reason: reason}, nil
	},
	ActionServerLog: func(a args) (Packet, error) {
		text, err := a.str(0)
		return ServerLog{Text: text}, err
	},
	ActionTickRate: func(a args) (Packet, error) {
		hz, err := a.integer(0)
		return TickRate{Hz: hz}, err
	},
	ActionClientKey: func(a args) (Packet, error) {
		s, err := a.str(0)
		if err != nil {
			return nil, err
		}
		key, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("ClientKey: %w", err)
		}
		return ClientKey{Key: key}, nil
	},
	ActionPublicKey: func(a args) (Packet, error) {
		n, err := a.str(0)
		if err != nil {
			return nil, err
		}
		e, err := a.integer(1)
		return PublicKey{N: n, E: e}, err
	},
	ActionGrabItem: func(args) (Packet, error) { return GrabItem{}, nil },
	ActionDropItem: func(a args) (Packet, error) {
		id, err := a.i64(0)
		if err != nil {
			return nil, err
		}
		amt, err := a.integer(1)
		return DropItem{ItemID: id, Amount: amt}, err
	},
	ActionWeatherChange: func(a args) (Packet, error) {
		s, err := a.str(0)
		if err != nil {
			return nil, err
		}
		switch s {
		case WeatherClear, WeatherRain, WeatherStorm:
			return WeatherChange{State: s}, nil
		}
		return nil, fmt.Errorf("WeatherChange: bad state %q", s)
	},
}

// Decode reconstructs the exact packet variant from a netstring body.
func Decode(body []byte) (Packet, error) {
	var f frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decode packet: %w", err)
	}
	dec, ok := decoders[f.A]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBadAction, f.A)
	}
	p, err := dec(args(f.P))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.A, err)
	}
	return p, nil
}

// args wraps positional payload values with typed accessors.
type args []json.RawMessage

func (a args) str(i int) (string, error) {
	if i >= len(a) {
		return "", fmt.Errorf("missing payload %d", i)
	}
	var s string
	if err := json.Unmarshal(a[i], &s); err != nil {
		return "", fmt.Errorf("payload %d: %w", i, err)
	}
	return s, nil
}

func (a args) i64(i int) (int64, error) {
	if i >= len(a) {
		return 0, fmt.Errorf("missing payload %d", i)
	}
	var v int64
	if err := json.Unmarshal(a[i], &v); err != nil {
		return 0, fmt.Errorf("payload %d: %w", i, err)
	}
	return v, nil
}

func (a args) integer(i int) (int, error) {
	v, err := a.i64(i)
	return int(v), err
}
