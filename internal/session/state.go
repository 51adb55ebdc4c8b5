package session

import "slices"

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

var validTransitions = map[State][]State{
	StateIdle:     {StateRunning},
	StateRunning:  {StateStopping},
	StateStopping: {StateIdle},
}

// StateMachine 状态机，调用方负责加锁
type StateMachine struct {
	currentState State
}

func NewStateMachine() *StateMachine {
	return &StateMachine{currentState: StateIdle}
}

// CanTransition 检查是否可以转换
func (sm *StateMachine) CanTransition(to State) bool {
	return slices.Contains(validTransitions[sm.currentState], to)
}

// Transition 状态转换
func (sm *StateMachine) Transition(to State) bool {
	if !sm.CanTransition(to) {
		return false
	}
	sm.currentState = to
	return true
}

func (sm *StateMachine) GetCurrentState() State {
	return sm.currentState
}
