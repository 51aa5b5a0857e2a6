package models

import (
	"encoding/json"
	"time"
)

// DayRecord 某一天结算后的记录，结算后只追加不修改
type DayRecord struct {
	Day            int                 `json:"day"`
	Votes          map[string][]string `json:"votes,omitempty"` // 被投票者 -> 投票者
	Executed       string              `json:"executed,omitempty"`
	Guarded        string              `json:"guarded,omitempty"`
	Attacked       string              `json:"attacked,omitempty"`
	Killed         string              `json:"killed,omitempty"`
	GuardSucceeded bool                `json:"guard_succeeded,omitempty"`
}

// ViewFor 返回指定角色可见的记录：守护目标只给猎人，袭击目标只给狼人
func (r DayRecord) ViewFor(role Role, finished bool) DayRecord {
	if finished {
		return r
	}
	view := DayRecord{
		Day:      r.Day,
		Votes:    r.Votes,
		Executed: r.Executed,
		Killed:   r.Killed,
	}
	switch role {
	case Hunter:
		view.Guarded = r.Guarded
		view.GuardSucceeded = r.GuardSucceeded
	case Werewolf:
		view.Attacked = r.Attacked
	}
	return view
}

// Revelation 占卜/通灵结果，仅对行动者可见
type Revelation struct {
	Day      int        `json:"day"`
	Kind     ActionKind `json:"kind"`
	PlayerID string     `json:"player_id"`
	Team     Team       `json:"team"`
}

// HistoryRecord 持久化记录，以 (SessionID, Day, Kind, ActorID) 唯一
type HistoryRecord struct {
	SessionID string          `json:"session_id" bson:"session_id"`
	Day       int             `json:"day" bson:"day"`
	Kind      ActionKind      `json:"kind" bson:"kind"`
	ActorID   string          `json:"actor_id,omitempty" bson:"actor_id"`
	Payload   json.RawMessage `json:"payload" bson:"payload"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
}

// Outcome 对局结果
type Outcome struct {
	SessionID  string          `json:"session_id" bson:"session_id"`
	ChannelID  string          `json:"channel_id" bson:"channel_id"`
	Winner     Team            `json:"winner" bson:"winner"`
	Day        int             `json:"day" bson:"day"`
	Void       bool            `json:"void,omitempty" bson:"void"`
	Roles      map[string]Role `json:"roles" bson:"roles"`
	FinishedAt time.Time       `json:"finished_at" bson:"finished_at"`
}
