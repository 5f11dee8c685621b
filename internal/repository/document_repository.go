package repository

import (
	"errors"
	"time"

	"doc-smart-go/internal/model"

	"gorm.io/gorm"
)

// DocumentRepository 定义了文档注册表的数据持久化操作。
type DocumentRepository interface {
	Upsert(doc *model.Document) error
	FindByStem(stem string) (*model.Document, error)
	FindAll() ([]model.Document, error)
	UpdateStatus(stem string, status int) error
	MarkIndexed(stem string, parentCount, childCount, imageCount int) error
	DeleteByStem(stem string) error
	Clear() error
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Upsert 创建或更新一条文档记录，以 stem 为唯一键。
func (r *documentRepository) Upsert(doc *model.Document) error {
	var existing model.Document
	err := r.db.Where("stem = ?", doc.Stem).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(doc).Error
	}
	if err != nil {
		return err
	}
	doc.ID = existing.ID
	doc.CreatedAt = existing.CreatedAt
	return r.db.Save(doc).Error
}

// FindByStem 根据 stem 检索文档记录，未找到时返回 (nil, nil)。
func (r *documentRepository) FindByStem(stem string) (*model.Document, error) {
	var doc model.Document
	err := r.db.Where("stem = ?", stem).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindAll 返回全部文档记录,按创建时间降序排列。
func (r *documentRepository) FindAll() ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Order("created_at DESC").Find(&docs).Error
	return docs, err
}

// UpdateStatus 更新文档的处理状态。
func (r *documentRepository) UpdateStatus(stem string, status int) error {
	return r.db.Model(&model.Document{}).Where("stem = ?", stem).
		Update("status", status).Error
}

// MarkIndexed 标记文档索引完成，并记录各层级块的数量。
func (r *documentRepository) MarkIndexed(stem string, parentCount, childCount, imageCount int) error {
	now := time.Now()
	return r.db.Model(&model.Document{}).Where("stem = ?", stem).
		Updates(map[string]interface{}{
			"status":       model.DocStatusReady,
			"parent_count": parentCount,
			"child_count":  childCount,
			"image_count":  imageCount,
			"indexed_at":   &now,
		}).Error
}

// DeleteByStem 删除一条文档记录。
func (r *documentRepository) DeleteByStem(stem string) error {
	return r.db.Where("stem = ?", stem).Delete(&model.Document{}).Error
}

// Clear 清空文档注册表。
func (r *documentRepository) Clear() error {
	return r.db.Where("1 = 1").Delete(&model.Document{}).Error
}
