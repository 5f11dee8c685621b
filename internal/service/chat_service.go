// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"doc-smart-go/internal/config"
	"doc-smart-go/internal/model"
	"doc-smart-go/internal/repository"
	"doc-smart-go/internal/scorer"
	"doc-smart-go/pkg/llm"
	"doc-smart-go/pkg/log"

	"github.com/gorilla/websocket"
)

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	StreamResponse(ctx context.Context, query, threadID string, ws *websocket.Conn, shouldStop func() bool) error
}

type chatService struct {
	retrievalService RetrievalService
	llmClient        llm.Client
	imageScorer      *scorer.ImageScorer
	conversationRepo repository.ConversationRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(retrievalService RetrievalService, llmClient llm.Client, imageScorer *scorer.ImageScorer, conversationRepo repository.ConversationRepository) ChatService {
	return &chatService{
		retrievalService: retrievalService,
		llmClient:        llmClient,
		imageScorer:      imageScorer,
		conversationRepo: conversationRepo,
	}
}

// StreamResponse 协调 RAG 流程并流式传输 LLM 响应。
// 回答流结束后，对本轮触达父块的图片做相关性打分并单独下发。
func (s *chatService) StreamResponse(ctx context.Context, query, threadID string, ws *websocket.Conn, shouldStop func() bool) error {
	// 1. 检索子块并回捞父块上下文（提升覆盖度：topK=10）
	hits, err := s.retrievalService.SearchChildChunks(ctx, query, 10)
	if err != nil {
		return fmt.Errorf("failed to retrieve context: %w", err)
	}
	parents, touchedParentIDs, err := s.retrievalService.RetrieveParents(hits)
	if err != nil {
		return fmt.Errorf("failed to load parent chunks: %w", err)
	}

	// 2. 构建上下文与 system 消息、历史
	contextText := s.buildContextText(parents)
	systemMsg := s.buildSystemMessage(contextText)
	history, err := s.conversationRepo.GetHistory(ctx, threadID)
	if err != nil {
		log.Errorf("Failed to load conversation history: %v", err)
		history = []model.ChatMessage{}
	}
	messages := s.composeMessages(systemMsg, history, query)

	// 拦截 websocket writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	// 3. 调用 LLM 客户端以流式传输响应（带生成参数）
	gen := s.buildGenerationParams()
	var llmMsgs []llm.Message
	for _, m := range messages {
		llmMsgs = append(llmMsgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	err = s.llmClient.StreamChatMessages(ctx, llmMsgs, gen, interceptor)
	if err != nil {
		return err
	}

	// 4. 对触达父块的图片打分并下发（失败只降级，不影响回答）
	s.sendRelevantImages(ctx, query, parents, touchedParentIDs, ws)

	// 5. 发送完成通知，并将对话保存到 Redis
	sendCompletion(ws)
	fullAnswer := answerBuilder.String()
	if len(fullAnswer) > 0 {
		// 使用后台上下文，因为即使原始请求被取消，我们也希望保存成功生成的答案
		err = s.addMessageToConversation(context.Background(), threadID, query, fullAnswer)
		if err != nil {
			// 只记录错误，不返回给客户端，因为流式响应已经成功
			log.Errorf("Failed to save conversation history: %v", err)
		}
	}

	return nil
}

// buildContextText 把父块内容编排为带编号与标题路径的上下文文本。
func (s *chatService) buildContextText(parents []model.ParentChunk) string {
	if len(parents) == 0 {
		return ""
	}
	var contextBuilder strings.Builder
	for i, p := range parents {
		label := p.Source
		if label == "" {
			label = "unknown"
		}
		if path := headerPath(p.Headers); path != "" {
			label = label + " / " + path
		}
		contextBuilder.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, label, p.Content))
	}
	return contextBuilder.String()
}

// headerPath 把父块的标题元数据拼成 "H1 > H2 > H3" 形式。
func headerPath(headers model.HeaderMeta) string {
	if len(headers) == 0 {
		return ""
	}
	parts := make([]string, 0, len(headers))
	for _, h := range headers {
		parts = append(parts, h.Value)
	}
	return strings.Join(parts, " > ")
}

func (s *chatService) buildSystemMessage(contextText string) string {
	// 从配置读取规则与包裹符
	rules := config.Conf.LLM.Prompt.Rules
	refStart := config.Conf.LLM.Prompt.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := config.Conf.LLM.Prompt.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}
	var sys strings.Builder
	if rules != "" {
		sys.WriteString(rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := config.Conf.LLM.Prompt.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

func (s *chatService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, model.ChatMessage{Role: "system", Content: systemMsg})
	msgs = append(msgs, history...)
	msgs = append(msgs, model.ChatMessage{Role: "user", Content: userInput})
	return msgs
}

// sendRelevantImages 汇总触达父块的图片，打分后把相关图片下发给客户端。
func (s *chatService) sendRelevantImages(ctx context.Context, query string, parents []model.ParentChunk, touchedParentIDs []string, ws *websocket.Conn) {
	if s.imageScorer == nil || len(parents) == 0 {
		return
	}

	var candidates []model.ImageRecord
	imageStem := make(map[string]string)
	for _, p := range parents {
		stem := stemFromParentID(p.ID)
		for _, img := range p.Images {
			candidates = append(candidates, img)
			imageStem[img.ImageID] = stem
		}
	}
	if len(candidates) == 0 {
		return
	}
	log.Infof("[ChatService] 本轮触达 %d 个父块, 候选图片 %d 张", len(touchedParentIDs), len(candidates))

	scored := s.imageScorer.ScoreImages(ctx, query, candidates, nil)
	if len(scored) == 0 {
		return
	}

	items := make([]map[string]interface{}, 0, len(scored))
	for _, si := range scored {
		dataURL := imageURL(si.ImageRecord, imageStem[si.ImageID])
		if dataURL == "" {
			continue
		}
		item := map[string]interface{}{
			"image_id":          si.ImageID,
			"data_url":          dataURL,
			"caption":           si.BestCaption(),
			"relevance_score":   si.RelevanceScore,
			"relevance_percent": fmt.Sprintf("%.1f%%", si.RelevanceScore*100),
		}
		if si.PageNumber != nil {
			item["page"] = *si.PageNumber
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return
	}

	payload := map[string]interface{}{
		"type":   "images",
		"images": items,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("[ChatService] 序列化图片消息失败: %v", err)
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Errorf("[ChatService] 下发图片消息失败: %v", err)
	}
}

// stemFromParentID 从 "{stem}_parent_{i}" 形式的父块 ID 中还原文档 stem。
func stemFromParentID(parentID string) string {
	if idx := strings.LastIndex(parentID, "_parent_"); idx > 0 {
		return parentID[:idx]
	}
	return parentID
}

// imageURL 把图片像素来源转成客户端可用的 URL：
// 内联图片转 data URL，落盘图片转静态服务路径。
func imageURL(img model.ImageRecord, stem string) string {
	switch img.Pixels.Kind {
	case model.PixelInline:
		if img.Pixels.Base64Data == "" {
			return ""
		}
		if strings.HasPrefix(img.Pixels.Base64Data, "data:") {
			return img.Pixels.Base64Data
		}
		mimeType := img.Pixels.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}
		return fmt.Sprintf("data:%s;base64,%s", mimeType, img.Pixels.Base64Data)
	case model.PixelFile:
		if img.Pixels.FilePath == "" {
			return ""
		}
		return fmt.Sprintf("/api/v1/images/%s/%s", stem, filepath.Base(img.Pixels.FilePath))
	default:
		return ""
	}
}

// addMessageToConversation 是一个用于管理 Redis 中对话历史的辅助函数。
func (s *chatService) addMessageToConversation(ctx context.Context, threadID, question, answer string) error {
	history, err := s.conversationRepo.GetHistory(ctx, threadID)
	if err != nil {
		return fmt.Errorf("failed to get conversation history: %w", err)
	}

	// 添加用户消息
	history = append(history, model.ChatMessage{
		Role:      "user",
		Content:   question,
		Timestamp: time.Now(),
	})

	// 添加助手消息
	history = append(history, model.ChatMessage{
		Role:      "assistant",
		Content:   answer,
		Timestamp: time.Now(),
	})

	return s.conversationRepo.UpdateHistory(ctx, threadID, history)
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
		"date":      time.Now().Format("2006-01-02T15:04:05"),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}

func (s *chatService) buildGenerationParams() *llm.GenerationParams {
	var gp llm.GenerationParams
	if config.Conf.LLM.Generation.Temperature != 0 {
		t := config.Conf.LLM.Generation.Temperature
		gp.Temperature = &t
	}
	if config.Conf.LLM.Generation.TopP != 0 {
		p := config.Conf.LLM.Generation.TopP
		gp.TopP = &p
	}
	if config.Conf.LLM.Generation.MaxTokens != 0 {
		m := config.Conf.LLM.Generation.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}
