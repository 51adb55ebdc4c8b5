package session

import (
	"time"

	"github.com/liuscraft/orion-duck/internal/audio"
	"github.com/liuscraft/orion-duck/internal/surface/remote"
)

// EventType 事件类型
type EventType int

const (
	EventTypeDuckStateChanged EventType = iota
	EventTypeSurfaceAttached
	EventTypeSurfaceDetached
	EventTypePlayerState
)

func (t EventType) String() string {
	switch t {
	case EventTypeDuckStateChanged:
		return "DuckStateChanged"
	case EventTypeSurfaceAttached:
		return "SurfaceAttached"
	case EventTypeSurfaceDetached:
		return "SurfaceDetached"
	case EventTypePlayerState:
		return "PlayerState"
	default:
		return "Unknown"
	}
}

// Event 事件接口
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// EventHandler 事件处理器
type EventHandler func(event Event)

type BaseEvent struct {
	eventType EventType
	timestamp time.Time
}

func (e *BaseEvent) Type() EventType {
	return e.eventType
}

func (e *BaseEvent) Timestamp() time.Time {
	return e.timestamp
}

// DuckStateChangedEvent 闪避状态变化
type DuckStateChangedEvent struct {
	BaseEvent
	From   audio.DuckState
	To     audio.DuckState
	Factor float64
}

func NewDuckStateChangedEvent(from, to audio.DuckState, factor float64) *DuckStateChangedEvent {
	return &DuckStateChangedEvent{
		BaseEvent: BaseEvent{eventType: EventTypeDuckStateChanged, timestamp: time.Now()},
		From:      from,
		To:        to,
		Factor:    factor,
	}
}

// SurfaceAttachedEvent 通道绑定了新的播放表面
type SurfaceAttachedEvent struct {
	BaseEvent
	Channel audio.Channel
	Surface string
	ID      string
}

func NewSurfaceAttachedEvent(ch audio.Channel, surface, id string) *SurfaceAttachedEvent {
	return &SurfaceAttachedEvent{
		BaseEvent: BaseEvent{eventType: EventTypeSurfaceAttached, timestamp: time.Now()},
		Channel:   ch,
		Surface:   surface,
		ID:        id,
	}
}

// SurfaceDetachedEvent 播放表面断开
type SurfaceDetachedEvent struct {
	BaseEvent
	Channel audio.Channel
	ID      string
	// Current 为 false 表示断开的是已被替换的旧页面，混音器状态不变
	Current bool
}

func NewSurfaceDetachedEvent(ch audio.Channel, id string, current bool) *SurfaceDetachedEvent {
	return &SurfaceDetachedEvent{
		BaseEvent: BaseEvent{eventType: EventTypeSurfaceDetached, timestamp: time.Now()},
		Channel:   ch,
		ID:        id,
		Current:   current,
	}
}

// PlayerStateEvent 嵌入式播放器上报的播放状态
type PlayerStateEvent struct {
	BaseEvent
	Channel audio.Channel
	ID      string
	State   remote.PlayerState
}

func NewPlayerStateEvent(ch audio.Channel, id string, state remote.PlayerState) *PlayerStateEvent {
	return &PlayerStateEvent{
		BaseEvent: BaseEvent{eventType: EventTypePlayerState, timestamp: time.Now()},
		Channel:   ch,
		ID:        id,
		State:     state,
	}
}
