// Package pipeline 定义了文档摄取的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"doc-smart-go/internal/chunker"
	"doc-smart-go/internal/config"
	"doc-smart-go/internal/model"
	"doc-smart-go/internal/repository"
	"doc-smart-go/pkg/converter"
	"doc-smart-go/pkg/embedding"
	"doc-smart-go/pkg/es"
	"doc-smart-go/pkg/log"
	"doc-smart-go/pkg/storage"
	"doc-smart-go/pkg/tasks"

	"github.com/minio/minio-go/v7"
)

// 转换服务的有界重试参数。
const (
	convertMaxAttempts = 3
	convertBackoffBase = 2 * time.Second
)

// Processor 封装了文档摄取的所有依赖和逻辑。
type Processor struct {
	converterClient *converter.Client
	embeddingClient embedding.Client
	docChunker      *chunker.Chunker
	esCfg           config.ElasticsearchConfig
	minioCfg        config.MinIOConfig
	embeddingCfg    config.EmbeddingConfig
	converterCfg    config.ConverterConfig
	parentRepo      repository.ParentRepository
	docRepo         repository.DocumentRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	converterClient *converter.Client,
	embeddingClient embedding.Client,
	docChunker *chunker.Chunker,
	esCfg config.ElasticsearchConfig,
	minioCfg config.MinIOConfig,
	embeddingCfg config.EmbeddingConfig,
	converterCfg config.ConverterConfig,
	parentRepo repository.ParentRepository,
	docRepo repository.DocumentRepository,
) *Processor {
	return &Processor{
		converterClient: converterClient,
		embeddingClient: embeddingClient,
		docChunker:      docChunker,
		esCfg:           esCfg,
		minioCfg:        minioCfg,
		embeddingCfg:    embeddingCfg,
		converterCfg:    converterCfg,
		parentRepo:      parentRepo,
		docRepo:         docRepo,
	}
}

// Process 是文档摄取的主函数。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentIngestTask) error {
	log.Infof("[Processor] 开始处理文档, stem: %s, FileName: %s", task.DocStem, task.FileName)

	if err := p.process(ctx, task); err != nil {
		if updErr := p.docRepo.UpdateStatus(task.DocStem, model.DocStatusFailed); updErr != nil {
			log.Errorf("[Processor] 更新文档状态为失败时出错, stem: %s, Error: %v", task.DocStem, updErr)
		}
		return err
	}
	return nil
}

func (p *Processor) process(ctx context.Context, task tasks.DocumentIngestTask) error {
	// 1. 从 MinIO 下载原始文件
	log.Infof("[Processor] 步骤1: 从MinIO下载文件, Bucket: %s, Object: %s", p.minioCfg.BucketName, task.ObjectName)
	object, err := storage.MinioClient.GetObject(ctx, p.minioCfg.BucketName, task.ObjectName, minio.GetObjectOptions{})
	if err != nil {
		log.Errorf("[Processor] 从MinIO下载文件失败, Object: %s, Error: %v", task.ObjectName, err)
		return fmt.Errorf("从 MinIO 下载文件失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		log.Errorf("[Processor] 从MinIO对象流中读取内容到缓冲区失败, Error: %v", err)
		return fmt.Errorf("读取MinIO对象流失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, 从MinIO流中读取到的文件大小为: %d字节", size)
	if size == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", task.FileName)
		return errors.New("文件内容为空")
	}

	// 2. 转换为 Markdown 与图片。.md 文件直接读取，不经过转换服务
	log.Info("[Processor] 步骤2: 转换文档内容")
	var markdown string
	var images []model.ImageRecord
	if strings.EqualFold(filepath.Ext(task.FileName), ".md") {
		markdown = buf.String()
	} else {
		result, err := p.convertWithRetry(buf.Bytes(), task.FileName, task.EnableVLM)
		if err != nil {
			log.Errorf("[Processor] 转换文档失败, FileName: %s, Error: %v", task.FileName, err)
			return fmt.Errorf("转换文档失败: %w", err)
		}
		markdown = result.Markdown
		images = result.Images
	}
	if strings.TrimSpace(markdown) == "" {
		log.Warnf("[Processor] 转换后的 Markdown 内容为空, 处理中止, FileName: %s", task.FileName)
		return errors.New("转换后的内容为空")
	}
	log.Infof("[Processor] 步骤2: 转换成功, 内容长度: %d 字符, 图片数: %d", utf8.RuneCountInString(markdown), len(images))

	// 2b. 超过阈值的内联图片落盘，父块中只保留文件引用
	images = p.spillLargeImages(task.DocStem, images)

	// 3. 父子分块
	log.Info("[Processor] 步骤3: 进行父子分块")
	chunkResult := p.docChunker.ChunkDocument(task.DocStem, task.FileName, markdown, images)
	log.Infof("[Processor] 步骤3: 分块完成, 父块: %d, 子块: %d", len(chunkResult.Parents), len(chunkResult.Children))
	if len(chunkResult.Parents) == 0 {
		log.Warnf("[Processor] 未生成任何分块, 处理中止, FileName: %s", task.FileName)
		return errors.New("未生成任何分块")
	}

	// 阶段一：幂等重建，先清理该文档既有的父块与子块索引
	log.Info("[Processor] 阶段一: 清理旧索引并写入父块")
	if err := p.parentRepo.DeleteByDocStem(task.DocStem); err != nil {
		log.Warnf("[Processor] 清理旧父块失败 (stem=%s): %v", task.DocStem, err)
	}
	if err := es.DeleteByDocStem(ctx, p.esCfg.IndexName, task.DocStem); err != nil {
		log.Warnf("[Processor] 清理旧子块索引失败 (stem=%s): %v", task.DocStem, err)
	}
	if err := p.parentRepo.PutBatch(task.DocStem, chunkResult.Parents); err != nil {
		log.Errorf("[Processor] 阶段一: 批量保存父块失败, Error: %v", err)
		return fmt.Errorf("批量保存父块失败: %w", err)
	}
	log.Infof("[Processor] 阶段一: 成功写入 %d 个父块", len(chunkResult.Parents))

	// 阶段二：子块逐个向量化并索引到 ES
	log.Info("[Processor] 阶段二: 开始子块向量化与索引")
	for i, child := range chunkResult.Children {
		log.Infof("[Processor] 正在处理子块 %d/%d, ParentID: %s", i+1, len(chunkResult.Children), child.ParentID)
		vector, err := p.embeddingClient.CreateEmbedding(ctx, child.Content)
		if err != nil {
			log.Errorf("[Processor] 子块 %d 向量化失败, Error: %v", i, err)
			return fmt.Errorf("子块 %d 向量化失败: %w", i, err)
		}

		esDoc := model.EsChildChunk{
			VectorID:     fmt.Sprintf("%s_child_%d", task.DocStem, i),
			DocStem:      task.DocStem,
			ParentID:     child.ParentID,
			ChunkID:      i,
			TextContent:  child.Content,
			Vector:       vector,
			ModelVersion: p.embeddingCfg.Model,
			Source:       child.Source,
		}
		if err := es.IndexChildChunk(ctx, p.esCfg.IndexName, esDoc); err != nil {
			log.Errorf("[Processor] 索引子块 %d 到Elasticsearch失败, Error: %v", i, err)
			return fmt.Errorf("索引子块 %d 到 Elasticsearch 失败: %w", i, err)
		}
	}
	log.Info("[Processor] 阶段二: 所有子块处理完毕")

	// 4. 更新文档注册表
	if err := p.docRepo.MarkIndexed(task.DocStem, len(chunkResult.Parents), len(chunkResult.Children), len(images)); err != nil {
		log.Errorf("[Processor] 更新文档注册表失败, stem: %s, Error: %v", task.DocStem, err)
		return fmt.Errorf("更新文档注册表失败: %w", err)
	}

	log.Infof("[Processor] 文档处理成功完成, stem: %s", task.DocStem)
	return nil
}

// convertWithRetry 带有界退避地调用转换服务。
func (p *Processor) convertWithRetry(data []byte, fileName string, enableVLM bool) (*converter.ConvertResult, error) {
	var lastErr error
	for attempt := 1; attempt <= convertMaxAttempts; attempt++ {
		result, err := p.converterClient.Convert(bytes.NewReader(data), fileName, enableVLM)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt < convertMaxAttempts {
			backoff := convertBackoffBase * time.Duration(attempt)
			log.Warnf("[Processor] 转换失败 (第%d次), %s 后重试: %v", attempt, backoff, err)
			time.Sleep(backoff)
		}
	}
	return nil, fmt.Errorf("转换服务连续 %d 次失败: %w", convertMaxAttempts, lastErr)
}

// spillLargeImages 把超过阈值的内联图片写到本地图片目录，父块里只保留文件引用。
// 写盘失败时保留内联数据，不中断摄取。
func (p *Processor) spillLargeImages(docStem string, images []model.ImageRecord) []model.ImageRecord {
	if p.converterCfg.InlineLimitKB <= 0 || len(images) == 0 {
		return images
	}
	limit := p.converterCfg.InlineLimitKB * 1024
	dir := filepath.Join(p.converterCfg.ImagesDir, docStem)

	for i := range images {
		img := &images[i]
		if img.Pixels.Kind != model.PixelInline || len(img.Pixels.Base64Data) <= limit*4/3 {
			continue
		}
		data, err := img.Pixels.LoadBytes()
		if err != nil {
			log.Warnf("[Processor] 解码内联图片失败 (image_id=%s): %v", img.ImageID, err)
			continue
		}
		if len(data) <= limit {
			continue
		}
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			log.Warnf("[Processor] 创建图片目录失败: %v", err)
			return images
		}
		fileName := fmt.Sprintf("%s%s", img.ImageID, extForMime(img.Pixels.MimeType))
		path := filepath.Join(dir, fileName)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Warnf("[Processor] 写图片文件失败 (image_id=%s): %v", img.ImageID, err)
			continue
		}
		img.Pixels = model.PixelSource{
			Kind:     model.PixelFile,
			FilePath: path,
			MimeType: img.Pixels.MimeType,
		}
	}
	return images
}

func extForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
