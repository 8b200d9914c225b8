package wire

import (
	"encoding/json"
	"fmt"
)

// ModelKind discriminates the structured payload variants a ModelUpdate can
// carry. The set is closed; decoding an unlisted kind fails.
type ModelKind string

const (
	KindInstance      ModelKind = "instance"
	KindInstanceDelta ModelKind = "instance-delta"
	KindPlayer        ModelKind = "player"
	KindRoom          ModelKind = "room"
	KindWeather       ModelKind = "weather"
	KindInvItem       ModelKind = "inv-item"
)

// Model is a structured, type-discriminated payload value.
type Model interface {
	Kind() ModelKind
}

// InstanceModel is a full snapshot of a placed entity.
type InstanceModel struct {
	ID       int64  `json:"id"`
	EntityID int64  `json:"entity_id"`
	TypeName string `json:"type"`
	Name     string `json:"name"`
	RoomID   int64  `json:"room_id"`
	Y        int    `json:"y"`
	X        int    `json:"x"`
	Amount   int    `json:"amount"`
}

// InstanceDelta carries only the fields of an instance that changed since the
// viewer last saw it. Nil fields were unchanged.
type InstanceDelta struct {
	ID     int64 `json:"id"`
	Y      *int  `json:"y,omitempty"`
	X      *int  `json:"x,omitempty"`
	Amount *int  `json:"amount,omitempty"`
}

// Empty reports whether the delta carries no changed fields at all.
func (d InstanceDelta) Empty() bool {
	return d.Y == nil && d.X == nil && d.Amount == nil
}

// PlayerModel describes the viewer's own player binding.
type PlayerModel struct {
	PlayerID   int64  `json:"player_id"`
	EntityID   int64  `json:"entity_id"`
	Name       string `json:"name"`
	InstanceID int64  `json:"instance_id"`
}

// Layer maps a terrain tag to the coordinates it covers, [y, x] pairs.
type Layer map[string][][2]int

// RoomModel is the static description of a room sent on entry.
type RoomModel struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
	Ground Layer  `json:"ground,omitempty"`
	Solid  Layer  `json:"solid,omitempty"`
	Roof   Layer  `json:"roof,omitempty"`
}

// WeatherModel is the current world weather.
type WeatherModel struct {
	State string `json:"state"`
}

// InvItemModel is one inventory stack in a full inventory snapshot.
type InvItemModel struct {
	ItemID   int64  `json:"item_id"`
	Name     string `json:"name"`
	Amount   int    `json:"amount"`
	MaxStack int    `json:"max_stack"`
}

func (InstanceModel) Kind() ModelKind { return KindInstance }
func (InstanceDelta) Kind() ModelKind { return KindInstanceDelta }
func (PlayerModel) Kind() ModelKind   { return KindPlayer }
func (RoomModel) Kind() ModelKind     { return KindRoom }
func (WeatherModel) Kind() ModelKind  { return KindWeather }
func (InvItemModel) Kind() ModelKind  { return KindInvItem }

// modelEnvelope wraps a model value with its explicit discriminator so the
// decoder reconstructs the exact variant.
type modelEnvelope struct {
	T ModelKind       `json:"t"`
	V json.RawMessage `json:"v"`
}

func encodeModel(m Model) (*modelEnvelope, error) {
	if m == nil {
		return nil, fmt.Errorf("nil model")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode model %s: %w", m.Kind(), err)
	}
	return &modelEnvelope{T: m.Kind(), V: raw}, nil
}

var modelDecoders = map[ModelKind]func(json.RawMessage) (Model, error){
	KindInstance: func(raw json.RawMessage) (Model, error) {
		var m InstanceModel
		err := json.Unmarshal(raw, &m)
		return m, err
	},
	KindInstanceDelta: func(raw json.RawMessage) (Model, error) {
		var m InstanceDelta
		err := json.Unmarshal(raw, &m)
		return m, err
	},
	KindPlayer: func(raw json.RawMessage) (Model, error) {
		var m PlayerModel
		err := json.Unmarshal(raw, &m)
		return m, err
	},
	KindRoom: func(raw json.RawMessage) (Model, error) {
		var m RoomModel
		err := json.Unmarshal(raw, &m)
		return m, err
	},
	KindWeather: func(raw json.RawMessage) (Model, error) {
		var m WeatherModel
		err := json.Unmarshal(raw, &m)
		return m, err
	},
	KindInvItem: func(raw json.RawMessage) (Model, error) {
		var m InvItemModel
		err := json.Unmarshal(raw, &m)
		return m, err
	},
}

func decodeModel(raw json.RawMessage) (Model, error) {
	var env modelEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode model envelope: %w", err)
	}
	dec, ok := modelDecoders[env.T]
	if !ok {
		return nil, fmt.Errorf("unknown model kind %q", env.T)
	}
	m, err := dec(env.V)
	if err != nil {
		return nil, fmt.Errorf("decode model %s: %w", env.T, err)
	}
	return m, nil
}
