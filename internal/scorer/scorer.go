// Package scorer 基于视觉语言编码器计算图片与查询的语义相关性。
package scorer

import (
	"context"
	"math"
	"sort"

	"doc-smart-go/internal/config"
	"doc-smart-go/internal/model"
	"doc-smart-go/pkg/clip"
	"doc-smart-go/pkg/log"
)

// 打分相关的默认值，配置缺失时生效。
const (
	DefaultThreshold        = 0.25
	DefaultTopK             = 3
	DefaultMaxImagesToScore = 20
)

// 视觉与文本得分的融合权重：两者都可用时视觉优先。
const (
	visualWeight = 0.7
	textWeight   = 0.3
)

// ImageScorer 对候选图片按查询相关性打分、过滤并排序。
// 编码器由外部持有并注入，便于测试替换；打分本身无状态。
type ImageScorer struct {
	encoder   clip.Encoder
	threshold float64
	topK      int
	maxBatch  int
}

// Options 允许单次调用覆盖阈值与 top_k；nil 字段使用配置默认值。
// Threshold 用指针以区分 "未设置" 与显式的 0。
type Options struct {
	Threshold *float64
	TopK      *int
}

// New 根据配置创建 ImageScorer。
func New(encoder clip.Encoder, cfg config.ClipConfig) *ImageScorer {
	s := &ImageScorer{
		encoder:   encoder,
		threshold: cfg.Threshold,
		topK:      cfg.TopK,
		maxBatch:  cfg.MaxImagesToScore,
	}
	if s.threshold == 0 {
		s.threshold = DefaultThreshold
	}
	if s.topK <= 0 {
		s.topK = DefaultTopK
	}
	if s.maxBatch <= 0 {
		s.maxBatch = DefaultMaxImagesToScore
	}
	return s
}

// ScoreImages 返回与查询相关性不低于阈值的图片，按得分降序取前 top_k。
// 得分相同保持输入顺序。候选超过批大小上限时，超出部分直接丢弃不打分。
// 编码器不可用或查询向量计算失败时返回空结果而不是错误：
// 图片展示是增强能力，不应影响文本回答。
func (s *ImageScorer) ScoreImages(ctx context.Context, query string, images []model.ImageRecord, opts *Options) []model.ScoredImage {
	if query == "" || len(images) == 0 {
		return nil
	}

	threshold := s.threshold
	topK := s.topK
	if opts != nil {
		if opts.Threshold != nil {
			threshold = *opts.Threshold
		}
		if opts.TopK != nil && *opts.TopK > 0 {
			topK = *opts.TopK
		}
	}

	candidates := images
	if len(candidates) > s.maxBatch {
		log.Warnf("[ImageScorer] 候选图片 %d 张超过批上限 %d，截断处理", len(candidates), s.maxBatch)
		candidates = candidates[:s.maxBatch]
	}

	queryEmbedding, err := s.encoder.EncodeText(ctx, query)
	if err != nil {
		log.Warnf("[ImageScorer] 查询向量计算失败，跳过图片打分: %v", err)
		return nil
	}

	var scored []model.ScoredImage
	for _, img := range candidates {
		score, ok := s.scoreSingle(ctx, img, queryEmbedding)
		if !ok {
			continue
		}
		log.Infof("[ImageScorer] 图片 '%s' 相关性得分: %.3f", img.ImageID, score)
		if score < threshold {
			continue
		}
		scored = append(scored, model.ScoredImage{ImageRecord: img, RelevanceScore: score})
	}

	// 稳定排序：得分相同保持原始输入顺序
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// scoreSingle 计算单张图片的融合得分。
// 视觉与文本两路各自独立失败：解码或编码异常只让对应一路缺席，
// 两路都不可得时返回 (0, false)，该图片被整体排除而不是按 0 分参与排序。
func (s *ImageScorer) scoreSingle(ctx context.Context, img model.ImageRecord, queryEmbedding []float32) (float64, bool) {
	var visualScore, textScore float64

	if !img.Pixels.Empty() {
		raw, err := img.Pixels.LoadBytes()
		if err != nil {
			log.Warnf("[ImageScorer] 图片 '%s' 像素数据读取失败: %v", img.ImageID, err)
		} else {
			imgEmbedding, err := s.encoder.EncodeImage(ctx, raw, img.Pixels.MimeType)
			if err != nil {
				log.Warnf("[ImageScorer] 图片 '%s' 视觉向量计算失败: %v", img.ImageID, err)
			} else {
				visualScore = cosineSimilarity(queryEmbedding, imgEmbedding)
			}
		}
	}

	if caption := img.BestCaption(); caption != "" {
		captionEmbedding, err := s.encoder.EncodeText(ctx, caption)
		if err != nil {
			log.Warnf("[ImageScorer] 图片 '%s' 描述向量计算失败: %v", img.ImageID, err)
		} else {
			textScore = cosineSimilarity(queryEmbedding, captionEmbedding)
		}
	}

	switch {
	case visualScore > 0 && textScore > 0:
		return visualWeight*visualScore + textWeight*textScore, true
	case visualScore > 0:
		return visualScore, true
	case textScore > 0:
		return textScore, true
	default:
		return 0, false
	}
}

// cosineSimilarity 计算两个向量的余弦相似度，长度不符或零向量返回 0。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
