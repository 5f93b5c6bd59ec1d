package model

import "time"

type Session struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
}

// Turn is one completed question/answer exchange. Turns are appended to a
// session transcript and never mutated.
type Turn struct {
	ID                 string    `json:"id"`
	SessionID          string    `json:"session_id"`
	Question           string    `json:"question"`
	StandaloneQuestion string    `json:"standalone_question"`
	ChunkIDs           []string  `json:"chunk_ids"`
	Answer             string    `json:"answer"`
	CreatedAt          time.Time `json:"created_at"`
}
