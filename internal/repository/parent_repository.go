// Package repository 提供了数据访问层的实现。
package repository

import (
	"encoding/json"
	"errors"
	"fmt"

	"doc-smart-go/internal/model"

	"gorm.io/gorm"
)

// ParentRepository 定义了父块存储（Parent Store）的操作接口。
// 读写语义：Load 未命中返回 (nil, nil)；LoadMany 按入参顺序返回并静默省略未命中。
type ParentRepository interface {
	Put(docStem string, parent model.ParentChunk) error
	PutBatch(docStem string, parents []model.ParentChunk) error
	Load(parentID string) (*model.ParentChunk, error)
	LoadMany(parentIDs []string) ([]model.ParentChunk, error)
	Delete(parentID string) error
	DeleteByDocStem(docStem string) error
	Clear() error
}

type parentRepository struct {
	db *gorm.DB
}

// NewParentRepository 创建一个基于 MySQL 的 ParentRepository 实例。
func NewParentRepository(db *gorm.DB) ParentRepository {
	return &parentRepository{db: db}
}

// toRow 把父块序列化为数据库行，标题元数据与图片以 JSON 文本列存储。
func toRow(docStem string, parent model.ParentChunk) (*model.ParentChunkRow, error) {
	headersJSON, err := json.Marshal(parent.Headers)
	if err != nil {
		return nil, fmt.Errorf("序列化标题元数据失败: %w", err)
	}
	imagesJSON, err := json.Marshal(parent.Images)
	if err != nil {
		return nil, fmt.Errorf("序列化图片元数据失败: %w", err)
	}
	return &model.ParentChunkRow{
		ParentID: parent.ID,
		DocStem:  docStem,
		Source:   parent.Source,
		Content:  parent.Content,
		Headers:  string(headersJSON),
		Images:   string(imagesJSON),
	}, nil
}

func fromRow(row model.ParentChunkRow) (model.ParentChunk, error) {
	parent := model.ParentChunk{
		ID:      row.ParentID,
		Content: row.Content,
		Source:  row.Source,
	}
	if row.Headers != "" {
		if err := json.Unmarshal([]byte(row.Headers), &parent.Headers); err != nil {
			return parent, fmt.Errorf("解析标题元数据失败 (parent_id=%s): %w", row.ParentID, err)
		}
	}
	if row.Images != "" {
		if err := json.Unmarshal([]byte(row.Images), &parent.Images); err != nil {
			return parent, fmt.Errorf("解析图片元数据失败 (parent_id=%s): %w", row.ParentID, err)
		}
	}
	return parent, nil
}

// Put 写入或覆盖一个父块。
func (r *parentRepository) Put(docStem string, parent model.ParentChunk) error {
	row, err := toRow(docStem, parent)
	if err != nil {
		return err
	}
	return r.db.Save(row).Error
}

// PutBatch 批量写入一个文档的全部父块。
func (r *parentRepository) PutBatch(docStem string, parents []model.ParentChunk) error {
	if len(parents) == 0 {
		return nil
	}
	rows := make([]*model.ParentChunkRow, 0, len(parents))
	for _, parent := range parents {
		row, err := toRow(docStem, parent)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return r.db.CreateInBatches(rows, 100).Error // 每100条记录一批
}

// Load 按 ID 读取一个父块，未命中返回 (nil, nil)。
func (r *parentRepository) Load(parentID string) (*model.ParentChunk, error) {
	var row model.ParentChunkRow
	err := r.db.Where("parent_id = ?", parentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	parent, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &parent, nil
}

// LoadMany 批量读取父块，结果顺序与入参一致，未命中的 ID 被静默省略。
func (r *parentRepository) LoadMany(parentIDs []string) ([]model.ParentChunk, error) {
	if len(parentIDs) == 0 {
		return []model.ParentChunk{}, nil
	}
	var rows []model.ParentChunkRow
	if err := r.db.Where("parent_id IN ?", parentIDs).Find(&rows).Error; err != nil {
		return nil, err
	}

	byID := make(map[string]model.ParentChunk, len(rows))
	for _, row := range rows {
		parent, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		byID[row.ParentID] = parent
	}

	results := make([]model.ParentChunk, 0, len(parentIDs))
	for _, id := range parentIDs {
		if parent, ok := byID[id]; ok {
			results = append(results, parent)
		}
	}
	return results, nil
}

// Delete 删除一个父块。
func (r *parentRepository) Delete(parentID string) error {
	return r.db.Where("parent_id = ?", parentID).Delete(&model.ParentChunkRow{}).Error
}

// DeleteByDocStem 删除一个文档的全部父块，用于幂等重建。
func (r *parentRepository) DeleteByDocStem(docStem string) error {
	return r.db.Where("doc_stem = ?", docStem).Delete(&model.ParentChunkRow{}).Error
}

// Clear 清空整个父块存储（知识库清空时调用）。
func (r *parentRepository) Clear() error {
	return r.db.Where("1 = 1").Delete(&model.ParentChunkRow{}).Error
}
