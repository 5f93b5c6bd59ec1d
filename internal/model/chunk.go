package model

// Chunk is a fixed-size window of one page's text. Chunks are the unit of
// embedding and retrieval.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Source     string `json:"source"`
	PageIndex  int    `json:"page_index"`
	Position   int    `json:"position"`
	Text       string `json:"text"`
}

type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

func ChunkIDs(chunks []ScoredChunk) []string {
	ids := make([]string, len(chunks))
	for i := range chunks {
		ids[i] = chunks[i].Chunk.ID
	}
	return ids
}
