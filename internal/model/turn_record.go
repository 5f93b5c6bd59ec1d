package model

import (
	"encoding/json"
	"time"
)

// TurnRecord is the archived form of a Turn.
// ChunkIDs is stored as a JSON array for portability.
type TurnRecord struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	TurnID             string    `gorm:"size:36;not null;uniqueIndex" json:"turn_id"`
	SessionID          string    `gorm:"size:128;not null;index" json:"session_id"`
	Question           string    `gorm:"type:text;not null" json:"question"`
	StandaloneQuestion string    `gorm:"type:text" json:"standalone_question"`
	ChunkIDs           string    `gorm:"type:text" json:"-"`
	Answer             string    `gorm:"type:text;not null" json:"answer"`
	CreatedAt          time.Time `json:"created_at"`
}

func NewTurnRecord(turn Turn) TurnRecord {
	ids, _ := json.Marshal(turn.ChunkIDs)
	return TurnRecord{
		TurnID:             turn.ID,
		SessionID:          turn.SessionID,
		Question:           turn.Question,
		StandaloneQuestion: turn.StandaloneQuestion,
		ChunkIDs:           string(ids),
		Answer:             turn.Answer,
		CreatedAt:          turn.CreatedAt,
	}
}

// Turn converts the record back; ChunkIDs is empty on parse error.
func (r *TurnRecord) Turn() Turn {
	var ids []string
	_ = json.Unmarshal([]byte(r.ChunkIDs), &ids)
	return Turn{
		ID:                 r.TurnID,
		SessionID:          r.SessionID,
		Question:           r.Question,
		StandaloneQuestion: r.StandaloneQuestion,
		ChunkIDs:           ids,
		Answer:             r.Answer,
		CreatedAt:          r.CreatedAt,
	}
}
