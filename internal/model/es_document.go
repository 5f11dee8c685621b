// Package model 定义了与数据库表对应的 Go 结构体。
package model

// ChildHitDTO 定义了子块检索结果的结构。
type ChildHitDTO struct {
	Content  string  `json:"content"`
	ParentID string  `json:"parentId"`
	Source   string  `json:"source"`
	Score    float64 `json:"score"`
}

// EsChildChunk 代表存储在 Elasticsearch 中的子块文档结构。
// VectorID 形如 {parent_id}_child_{n}，在知识库内唯一。
type EsChildChunk struct {
	VectorID     string    `json:"vector_id"`
	DocStem      string    `json:"doc_stem"`
	ParentID     string    `json:"parent_id"`
	ChunkID      int       `json:"chunk_id"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"` // 文本内容的向量表示
	ModelVersion string    `json:"model_version"`
	Source       string    `json:"source"`
}
