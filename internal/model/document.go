// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 文档处理状态。
const (
	DocStatusProcessing = 0 // 已入队，等待或正在解析
	DocStatusReady      = 1 // 切块并索引完成
	DocStatusFailed     = 2 // 处理失败
)

// Document 对应于数据库中的 'documents' 表，是知识库的文档登记表。
// Stem 是文件名去掉扩展名后的稳定标识，parent/child/image 的 ID 都由它派生。
type Document struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Stem        string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"stem"`
	FileName    string     `gorm:"type:varchar(255);not null" json:"fileName"`
	TotalSize   int64      `gorm:"not null" json:"totalSize"`
	Status      int        `gorm:"type:tinyint;not null;default:0" json:"status"`
	ParentCount int        `gorm:"not null;default:0" json:"parentCount"`
	ChildCount  int        `gorm:"not null;default:0" json:"childCount"`
	ImageCount  int        `gorm:"not null;default:0" json:"imageCount"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	IndexedAt   *time.Time `gorm:"default:null" json:"indexedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}
