// Package service 提供了检索相关的业务逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"doc-smart-go/internal/model"
	"doc-smart-go/internal/repository"
	"doc-smart-go/pkg/embedding"
	"doc-smart-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// RetrievalService 接口定义了子块检索与父块回捞操作。
type RetrievalService interface {
	SearchChildChunks(ctx context.Context, query string, topK int) ([]model.ChildHitDTO, error)
	// RetrieveParents 根据子块命中回捞父块上下文，并显式返回本次触达的父块 ID 列表。
	RetrieveParents(hits []model.ChildHitDTO) ([]model.ParentChunk, []string, error)
}

type retrievalService struct {
	embeddingClient embedding.Client
	esClient        *elasticsearch.Client
	indexName       string
	parentRepo      repository.ParentRepository
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(embeddingClient embedding.Client, esClient *elasticsearch.Client, indexName string, parentRepo repository.ParentRepository) RetrievalService {
	return &retrievalService{
		embeddingClient: embeddingClient,
		esClient:        esClient,
		indexName:       indexName,
		parentRepo:      parentRepo,
	}
}

// SearchChildChunks 执行两阶段混合搜索，返回命中的子块。
func (s *retrievalService) SearchChildChunks(ctx context.Context, query string, topK int) ([]model.ChildHitDTO, error) {
	log.Infof("[RetrievalService] 开始执行混合搜索, query: '%s', topK: %d", query, topK)

	// 1. 轻量归一化（去噪）以获取核心短语
	normalized, phrase := normalizeQuery(query)
	if normalized != query {
		log.Infof("[RetrievalService] 规范化查询: '%s' -> '%s' (phrase='%s')", query, normalized, phrase)
	}

	// 2. 向量化查询（用原始用户问句，保持语义检索能力）
	log.Info("[RetrievalService] 步骤1: 开始向量化查询")
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[RetrievalService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	log.Infof("[RetrievalService] 步骤1: 向量化查询成功, 向量维度: %d", len(queryVector))

	// 3. 构建 k-NN + BM25 混合查询，并加入短语兜底 should
	log.Info("[RetrievalService] 步骤2: 开始构建 Elasticsearch 两阶段混合搜索查询")
	var buf bytes.Buffer
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   queryVector,
			"k":              topK * 30,
			"num_candidates": topK * 30,
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"match": map[string]interface{}{
						"text_content": normalized,
					},
				},
				// 额外的 should：对核心短语做 match_phrase 以兜底召回
				"should": buildPhraseShould(phrase),
			},
		},
		"rescore": map[string]interface{}{
			"window_size": topK * 30,
			"query": map[string]interface{}{
				"rescore_query": map[string]interface{}{
					"match": map[string]interface{}{
						"text_content": map[string]interface{}{
							"query":    normalized,
							"operator": "and",
						},
					},
				},
				"query_weight":         0.2, // 保留部分 k-NN 分数
				"rescore_query_weight": 1.0, // BM25 分数权重
			},
		},
		"size": topK,
	}

	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		log.Errorf("[RetrievalService] 序列化 Elasticsearch 查询失败: %v", err)
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	// 4. 执行搜索
	log.Info("[RetrievalService] 步骤3: 开始向 Elasticsearch 发送搜索请求")
	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.indexName),
		s.esClient.Search.WithBody(&buf),
		s.esClient.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		log.Errorf("[RetrievalService] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[RetrievalService] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.String())
	}

	// 5. 解析结果
	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.EsChildChunk `json:"_source"`
				Score  float64            `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}

	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		log.Errorf("[RetrievalService] 解析 Elasticsearch 响应失败: %v", err)
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	if len(esResponse.Hits.Hits) == 0 {
		log.Infof("[RetrievalService] Elasticsearch 返回 0 条命中结果")
		// 兜底：若规范化后核心短语存在且与原问句不同，则用核心短语重试一次（更强关键词信号）
		if phrase != "" && phrase != query {
			log.Infof("[RetrievalService] 使用核心短语重试查询: '%s'", phrase)
			var retryBuf bytes.Buffer
			retryQuery := esQuery
			((retryQuery["query"].(map[string]interface{}))["bool"].(map[string]interface{}))["must"] = map[string]interface{}{
				"match": map[string]interface{}{
					"text_content": phrase,
				},
			}
			((retryQuery["rescore"].(map[string]interface{}))["query"].(map[string]interface{}))["rescore_query"] = map[string]interface{}{
				"match": map[string]interface{}{
					"text_content": map[string]interface{}{
						"query":    phrase,
						"operator": "and",
					},
				},
			}
			if err := json.NewEncoder(&retryBuf).Encode(retryQuery); err == nil {
				res2, err2 := s.esClient.Search(
					s.esClient.Search.WithContext(ctx),
					s.esClient.Search.WithIndex(s.indexName),
					s.esClient.Search.WithBody(&retryBuf),
					s.esClient.Search.WithTrackTotalHits(true),
				)
				if err2 == nil && !res2.IsError() {
					defer res2.Body.Close()
					if err := json.NewDecoder(res2.Body).Decode(&esResponse); err == nil {
						log.Infof("[RetrievalService] 重试后命中 %d 条", len(esResponse.Hits.Hits))
					}
				}
			}
		}
		if len(esResponse.Hits.Hits) == 0 {
			return []model.ChildHitDTO{}, nil
		}
	}

	// 6. 组装结果 DTO
	results := make([]model.ChildHitDTO, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		results = append(results, model.ChildHitDTO{
			Content:  hit.Source.TextContent,
			ParentID: hit.Source.ParentID,
			Source:   hit.Source.Source,
			Score:    hit.Score,
		})
	}

	log.Infof("[RetrievalService] 混合搜索执行完毕, query: '%s', 命中 %d 条", query, len(results))
	return results, nil
}

// RetrieveParents 根据子块命中回捞父块上下文。
// 父块 ID 按命中顺序去重，返回的 touched 列表即本次对话触达的父块。
func (s *retrievalService) RetrieveParents(hits []model.ChildHitDTO) ([]model.ParentChunk, []string, error) {
	seen := make(map[string]struct{}, len(hits))
	touched := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.ParentID == "" {
			continue
		}
		if _, ok := seen[hit.ParentID]; ok {
			continue
		}
		seen[hit.ParentID] = struct{}{}
		touched = append(touched, hit.ParentID)
	}
	if len(touched) == 0 {
		return []model.ParentChunk{}, nil, nil
	}

	parents, err := s.parentRepo.LoadMany(touched)
	if err != nil {
		return nil, nil, fmt.Errorf("回捞父块失败: %w", err)
	}
	log.Infof("[RetrievalService] 回捞父块完成, 触达 %d 个, 命中 %d 个", len(touched), len(parents))
	return parents, touched, nil
}

// normalizeQuery 对用户查询进行轻量去噪与短语提取。
// 返回值：规范化后的查询（用于 BM25/rescore）与核心短语（用于 match_phrase 兜底）。
func normalizeQuery(q string) (string, string) {
	if q == "" {
		return q, ""
	}
	lower := strings.ToLower(q)
	// 去除常见口语/功能词
	stopPhrases := []string{"是谁", "是什么", "是啥", "请问", "怎么", "如何", "告诉我", "严格", "按照", "不要补充", "的区别", "区别", "吗", "呢", "？", "?"}
	for _, sp := range stopPhrases {
		lower = strings.ReplaceAll(lower, sp, " ")
	}
	// 仅保留中文、英文、数字与空白
	reKeep := regexp.MustCompile(`[^\p{Han}a-z0-9\s]+`)
	kept := reKeep.ReplaceAllString(lower, " ")
	// 归一空白
	reSpace := regexp.MustCompile(`\s+`)
	kept = strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
	if kept == "" {
		return q, ""
	}
	return kept, kept
}

// buildPhraseShould 构建 match_phrase should 子句（带 boost），为空则返回 nil
func buildPhraseShould(phrase string) interface{} {
	if phrase == "" {
		return nil
	}
	return []map[string]interface{}{
		{
			"match_phrase": map[string]interface{}{
				"text_content": map[string]interface{}{
					"query": phrase,
					"boost": 3.0,
				},
			},
		},
	}
}
