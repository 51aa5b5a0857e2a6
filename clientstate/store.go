package clientstate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/qianlnk/werewolf-channels/models"
)

// DecodeDelta 解码服务端消息中的增量，非增量消息返回 ok=false
func DecodeDelta(env models.RawEnvelope) (delta models.Delta, ok bool, err error) {
	delta.Kind = models.DeltaKind(env.Type)
	switch delta.Kind {
	case models.DeltaJoinSession:
		var snap models.Snapshot
		err = json.Unmarshal(env.Payload, &snap)
		delta.Snapshot = &snap
	case models.DeltaUserJoined, models.DeltaUserLeft, models.DeltaUserBlocked, models.DeltaUnblock:
		var user models.Identity
		err = json.Unmarshal(env.Payload, &user)
		delta.User = &user
	case models.DeltaSettingsChanged:
		err = json.Unmarshal(env.Payload, &delta.Settings)
	case models.DeltaStateUpdate:
		var update models.StateUpdate
		err = json.Unmarshal(env.Payload, &update)
		delta.State = &update
	default:
		return models.Delta{}, false, nil
	}
	if err != nil {
		return models.Delta{}, false, fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return delta, true, nil
}

// Store 并发安全的客户端状态
type Store struct {
	state State
	mutex sync.RWMutex
}

// NewStore 创建空状态
func NewStore() *Store {
	return &Store{}
}

// Apply 应用一条增量
func (s *Store) Apply(d models.Delta) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = Reduce(s.state, d)
}

// Handle 处理一条服务端原始消息
func (s *Store) Handle(data []byte) error {
	var env models.RawEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	delta, ok, err := DecodeDelta(env)
	if err != nil {
		return err
	}
	if ok {
		s.Apply(delta)
		return nil
	}

	switch env.Type {
	case models.EventPhaseResult:
		var result models.PhaseResult
		if err := json.Unmarshal(env.Payload, &result); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		s.mutex.Lock()
		s.state = WithPhaseResult(s.state, result)
		s.mutex.Unlock()
	case models.EventPrivateResult:
		var result models.PrivateResult
		if err := json.Unmarshal(env.Payload, &result); err != nil {
			return fmt.Errorf("decode %s: %w", env.Type, err)
		}
		s.mutex.Lock()
		s.state = WithRevelation(s.state, result.Revelation)
		s.mutex.Unlock()
	}
	return nil
}

// State 返回当前状态
func (s *Store) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}
