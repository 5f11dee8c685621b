// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"doc-smart-go/internal/config"
	"doc-smart-go/internal/model"
	"doc-smart-go/internal/repository"
	"doc-smart-go/pkg/es"
	"doc-smart-go/pkg/kafka"
	"doc-smart-go/pkg/log"
	"doc-smart-go/pkg/storage"
	"doc-smart-go/pkg/tasks"

	"github.com/minio/minio-go/v7"
)

// DownloadInfoDTO 封装了文件下载链接所需的信息。
type DownloadInfoDTO struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
	FileSize    int64  `json:"fileSize"`
}

// DocumentService 接口定义了知识库文档管理相关的业务操作。
type DocumentService interface {
	// Upload 把原始文件存入 MinIO，登记注册表并投递摄取任务。
	Upload(ctx context.Context, fileName string, size int64, reader io.Reader, enableVLM bool) (*model.Document, error)
	List() ([]model.Document, error)
	// Delete 删除一个文档的全部痕迹：父块、子块索引、原始对象、图片目录与注册表记录。
	Delete(ctx context.Context, stem string) error
	// Clear 清空整个知识库。
	Clear(ctx context.Context) error
	GenerateDownloadURL(stem string) (*DownloadInfoDTO, error)
}

type documentService struct {
	docRepo      repository.DocumentRepository
	parentRepo   repository.ParentRepository
	minioCfg     config.MinIOConfig
	esCfg        config.ElasticsearchConfig
	converterCfg config.ConverterConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	parentRepo repository.ParentRepository,
	minioCfg config.MinIOConfig,
	esCfg config.ElasticsearchConfig,
	converterCfg config.ConverterConfig,
) DocumentService {
	return &documentService{
		docRepo:      docRepo,
		parentRepo:   parentRepo,
		minioCfg:     minioCfg,
		esCfg:        esCfg,
		converterCfg: converterCfg,
	}
}

// Upload 把原始文件存入 MinIO，登记注册表并投递摄取任务。
func (s *documentService) Upload(ctx context.Context, fileName string, size int64, reader io.Reader, enableVLM bool) (*model.Document, error) {
	stem := DocStem(fileName)
	if stem == "" {
		return nil, errors.New("无效的文件名")
	}

	objectName := fmt.Sprintf("raw/%s", fileName)
	_, err := storage.MinioClient.PutObject(ctx, s.minioCfg.BucketName, objectName, reader, size, minio.PutObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("上传文件到 MinIO 失败: %w", err)
	}
	log.Infof("[DocumentService] 文件已存入 MinIO, Object: %s, Size: %d", objectName, size)

	doc := &model.Document{
		Stem:      stem,
		FileName:  fileName,
		TotalSize: size,
		Status:    model.DocStatusProcessing,
	}
	if err := s.docRepo.Upsert(doc); err != nil {
		return nil, fmt.Errorf("登记文档记录失败: %w", err)
	}

	task := tasks.DocumentIngestTask{
		DocStem:    stem,
		FileName:   fileName,
		ObjectName: objectName,
		TotalSize:  size,
		EnableVLM:  enableVLM,
	}
	if err := kafka.ProduceIngestTask(task); err != nil {
		return nil, fmt.Errorf("投递摄取任务失败: %w", err)
	}
	log.Infof("[DocumentService] 摄取任务已投递, stem: %s", stem)

	return doc, nil
}

// List 返回注册表中的全部文档。
func (s *documentService) List() ([]model.Document, error) {
	return s.docRepo.FindAll()
}

// Delete 删除一个文档的全部痕迹。
func (s *documentService) Delete(ctx context.Context, stem string) error {
	doc, err := s.docRepo.FindByStem(stem)
	if err != nil {
		return err
	}
	if doc == nil {
		return errors.New("文档不存在")
	}

	// 子块索引
	if err := es.DeleteByDocStem(ctx, s.esCfg.IndexName, stem); err != nil {
		log.Warnf("[DocumentService] 删除子块索引失败 (stem=%s): %v", stem, err)
	}
	// 父块
	if err := s.parentRepo.DeleteByDocStem(stem); err != nil {
		log.Warnf("[DocumentService] 删除父块失败 (stem=%s): %v", stem, err)
	}
	// 原始对象
	objectName := fmt.Sprintf("raw/%s", doc.FileName)
	if err := storage.MinioClient.RemoveObject(ctx, s.minioCfg.BucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		log.Warnf("[DocumentService] 删除 MinIO 对象失败 (object=%s): %v", objectName, err)
	}
	// 落盘的图片目录
	imagesDir := filepath.Join(s.converterCfg.ImagesDir, stem)
	if err := os.RemoveAll(imagesDir); err != nil {
		log.Warnf("[DocumentService] 删除图片目录失败 (dir=%s): %v", imagesDir, err)
	}

	return s.docRepo.DeleteByStem(stem)
}

// Clear 清空整个知识库。
func (s *documentService) Clear(ctx context.Context) error {
	docs, err := s.docRepo.FindAll()
	if err != nil {
		return err
	}

	if err := es.DeleteAll(ctx, s.esCfg.IndexName); err != nil {
		log.Warnf("[DocumentService] 清空子块索引失败: %v", err)
	}
	if err := s.parentRepo.Clear(); err != nil {
		log.Warnf("[DocumentService] 清空父块存储失败: %v", err)
	}
	for _, doc := range docs {
		objectName := fmt.Sprintf("raw/%s", doc.FileName)
		if err := storage.MinioClient.RemoveObject(ctx, s.minioCfg.BucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
			log.Warnf("[DocumentService] 删除 MinIO 对象失败 (object=%s): %v", objectName, err)
		}
	}
	if err := os.RemoveAll(s.converterCfg.ImagesDir); err != nil {
		log.Warnf("[DocumentService] 清空图片目录失败: %v", err)
	}

	return s.docRepo.Clear()
}

// GenerateDownloadURL 生成原始文件的临时下载链接。
func (s *documentService) GenerateDownloadURL(stem string) (*DownloadInfoDTO, error) {
	doc, err := s.docRepo.FindByStem(stem)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("文档不存在")
	}

	// 生成预签名的 URL，有效期为1小时
	expiry := time.Hour
	objectName := fmt.Sprintf("raw/%s", doc.FileName)
	presignedURL, err := storage.MinioClient.PresignedGetObject(context.Background(), s.minioCfg.BucketName, objectName, expiry, url.Values{})
	if err != nil {
		return nil, err
	}

	return &DownloadInfoDTO{
		FileName:    doc.FileName,
		DownloadURL: presignedURL.String(),
		FileSize:    doc.TotalSize,
	}, nil
}

// DocStem 返回文件名去掉扩展名后的部分，作为文档的稳定标识。
func DocStem(fileName string) string {
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
