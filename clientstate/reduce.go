// Package clientstate 客户端本地状态，按服务端下发的增量归约
package clientstate

import (
	"github.com/qianlnk/werewolf-channels/models"
)

// State 客户端看到的会话和频道状态
type State struct {
	SessionID    string
	ChannelID    string
	Self         string
	Phase        models.GamePhase
	Participants []models.Participant
	Users        []models.Identity
	Blocked      []models.Identity
	Settings     map[string]string
	History      []models.DayRecord
	Private      []models.Revelation
}

// FromSnapshot 由快照构造状态
func FromSnapshot(snap models.Snapshot) State {
	return State{
		SessionID:    snap.SessionID,
		ChannelID:    snap.ChannelID,
		Self:         snap.Self,
		Phase:        snap.Phase,
		Participants: append([]models.Participant(nil), snap.Participants...),
		Users:        append([]models.Identity(nil), snap.Users...),
		Blocked:      append([]models.Identity(nil), snap.Blocked...),
		Settings:     copyMap(snap.Settings),
		History:      append([]models.DayRecord(nil), snap.History...),
		Private:      append([]models.Revelation(nil), snap.Private...),
	}
}

// Reduce 把一条增量应用到状态上，不修改输入；同一增量应用两次与一次结果相同
func Reduce(s State, d models.Delta) State {
	switch d.Kind {
	case models.DeltaJoinSession:
		if d.Snapshot == nil {
			return s
		}
		return FromSnapshot(*d.Snapshot)

	case models.DeltaUserJoined:
		if d.User == nil || indexOf(s.Users, d.User.UserID) >= 0 || indexOf(s.Blocked, d.User.UserID) >= 0 {
			return s
		}
		s.Users = append(cloneIdentities(s.Users), *d.User)
		return s

	case models.DeltaUserLeft:
		if d.User == nil {
			return s
		}
		s.Users = without(s.Users, d.User.UserID)
		return s

	case models.DeltaUserBlocked:
		if d.User == nil {
			return s
		}
		s.Users = without(s.Users, d.User.UserID)
		if indexOf(s.Blocked, d.User.UserID) < 0 {
			s.Blocked = append(cloneIdentities(s.Blocked), *d.User)
		}
		return s

	case models.DeltaUnblock:
		if d.User == nil || indexOf(s.Blocked, d.User.UserID) < 0 {
			return s
		}
		s.Blocked = without(s.Blocked, d.User.UserID)
		if indexOf(s.Users, d.User.UserID) < 0 {
			s.Users = append(cloneIdentities(s.Users), *d.User)
		}
		return s

	case models.DeltaSettingsChanged:
		settings := copyMap(s.Settings)
		if settings == nil {
			settings = make(map[string]string, len(d.Settings))
		}
		for k, v := range d.Settings {
			settings[k] = v
		}
		s.Settings = settings
		return s

	case models.DeltaStateUpdate:
		if d.State == nil {
			return s
		}
		if d.State.Phase != nil {
			s.Phase = *d.State.Phase
		}
		if len(d.State.Participants) > 0 {
			s.Participants = mergeParticipants(s.Participants, d.State.Participants)
		}
		return s
	}
	return s
}

// mergeParticipants 按 ID 合并，空字段表示不变，新玩家追加在末尾
func mergeParticipants(current, updates []models.Participant) []models.Participant {
	merged := append([]models.Participant(nil), current...)
	for _, u := range updates {
		i := -1
		for j := range merged {
			if merged[j].ID == u.ID {
				i = j
				break
			}
		}
		if i < 0 {
			merged = append(merged, u)
			continue
		}
		p := &merged[i]
		if u.DisplayName != "" {
			p.DisplayName = u.DisplayName
		}
		if u.Status != "" {
			p.Status = u.Status
		}
		if u.Role != models.RoleNone {
			p.Role = u.Role
		}
		if u.PartnerID != "" {
			p.PartnerID = u.PartnerID
		}
		if u.IsBot {
			p.IsBot = true
		}
	}
	return merged
}

// WithPhaseResult 记录阶段结算，同一天的记录被替换
func WithPhaseResult(s State, result models.PhaseResult) State {
	history := append([]models.DayRecord(nil), s.History...)
	for i := range history {
		if history[i].Day == result.Record.Day {
			history[i] = result.Record
			s.History = history
			return s
		}
	}
	s.History = append(history, result.Record)
	return s
}

// WithRevelation 记录私有结果，重复的结果被忽略
func WithRevelation(s State, rev models.Revelation) State {
	for _, r := range s.Private {
		if r == rev {
			return s
		}
	}
	s.Private = append(append([]models.Revelation(nil), s.Private...), rev)
	return s
}

func indexOf(users []models.Identity, id string) int {
	for i, u := range users {
		if u.UserID == id {
			return i
		}
	}
	return -1
}

func without(users []models.Identity, id string) []models.Identity {
	i := indexOf(users, id)
	if i < 0 {
		return users
	}
	out := make([]models.Identity, 0, len(users)-1)
	out = append(out, users[:i]...)
	return append(out, users[i+1:]...)
}

func cloneIdentities(users []models.Identity) []models.Identity {
	return append(make([]models.Identity, 0, len(users)+1), users...)
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
