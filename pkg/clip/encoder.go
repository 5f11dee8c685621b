// Package clip provides a client for a joint text/image embedding service.
//
// The backing service hosts a contrastively-trained vision-language model
// (OpenCLIP-style) and exposes OpenAI-compatible embedding endpoints for
// both modalities, so text and image vectors live in one comparable space.
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"doc-smart-go/internal/config"
	"doc-smart-go/pkg/log"
)

// Encoder defines the interface for a vision-language encoder.
// Implementations must return embeddings from a shared text/image space.
type Encoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
	EncodeImage(ctx context.Context, data []byte, mimeType string) ([]float32, error)
}

// Client 是视觉语言编码服务的 HTTP 客户端。
// 模型在服务端加载开销很大，首次调用时懒加载一次，进程内复用；
// 推理后端不保证并发安全，所有请求经 mu 串行化。
type Client struct {
	cfg    config.ClipConfig
	client *http.Client

	mu     sync.Mutex
	loaded bool
}

// NewClient 创建一个新的编码器客户端，不触发模型加载。
func NewClient(cfg config.ClipConfig) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type loadRequest struct {
	Model  string `json:"model"`
	Device string `json:"device,omitempty"`
}

type encodeRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type encodeResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Init 显式触发模型加载。启动路径之外也可以不调用，
// 首次 Encode 会自动完成同样的懒加载。
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureLoadedLocked(ctx)
}

// Shutdown 通知服务端卸载模型，释放显存；失败仅记录日志。
func (c *Client) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return
	}
	c.loaded = false
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/models/unload", nil)
	if err != nil {
		return
	}
	c.setHeaders(req)
	resp, err := c.client.Do(req)
	if err != nil {
		log.Warnf("[ClipClient] 卸载模型请求失败: %v", err)
		return
	}
	_ = resp.Body.Close()
}

// ensureLoadedLocked 懒加载模型，调用方必须持有 mu。
// 失败不粘滞：下次调用会重试加载。
func (c *Client) ensureLoadedLocked(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	log.Infof("[ClipClient] 开始加载编码模型: %s (device=%s)", c.cfg.Model, c.cfg.Device)

	reqBody := loadRequest{Model: c.cfg.Model, Device: c.cfg.Device}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal load request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/models/load", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create load request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to load encoder model: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("encoder load returned non-200 status: %s", resp.Status)
	}

	c.loaded = true
	log.Infof("[ClipClient] 编码模型加载成功: %s", c.cfg.Model)
	return nil
}

// EncodeText 返回文本在联合空间中的向量。
func (c *Client) EncodeText(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	return c.encodeLocked(ctx, "/embeddings/text", text)
}

// EncodeImage 返回图片在联合空间中的向量，像素数据以 base64 上送。
func (c *Client) EncodeImage(ctx context.Context, data []byte, mimeType string) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("图片数据为空")
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	payload := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}
	return c.encodeLocked(ctx, "/embeddings/image", payload)
}

// encodeLocked 调用编码端点并取回首个向量，调用方必须持有 mu。
func (c *Client) encodeLocked(ctx context.Context, path, input string) ([]float32, error) {
	reqBody := encodeRequest{Model: c.cfg.Model, Input: []string{input}}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+path, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create encode request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call encoder api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("encoder api returned non-200 status: %s", resp.Status)
	}

	var encResp encodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&encResp); err != nil {
		return nil, fmt.Errorf("failed to decode encoder response: %w", err)
	}
	if len(encResp.Data) == 0 || len(encResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from encoder api")
	}
	return encResp.Data[0].Embedding, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}
