package model

// RetrievedChunk 是相似度检索的输出项。
type RetrievedChunk struct {
	ContentID  string  `json:"contentId"`
	Score      float64 `json:"score"`
	TokenCount int     `json:"tokenCount"`
	Title      string  `json:"title"`
	Body       string  `json:"body"`
}
