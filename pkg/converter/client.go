// Package converter 提供了一个与文档转换服务交互的客户端。
// 转换服务接收 PDF 等原始文件，返回 Markdown 正文与随文图片。
package converter

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"doc-smart-go/internal/config"
	"doc-smart-go/internal/model"
)

// ConvertResult 是转换服务的输出：Markdown 正文与提取出的图片记录。
type ConvertResult struct {
	Markdown string              `json:"markdown"`
	Images   []model.ImageRecord `json:"images"`
}

// Client 是文档转换服务的客户端。
type Client struct {
	cfg    config.ConverterConfig
	client *http.Client
}

// NewClient 创建一个新的转换服务客户端实例。
func NewClient(cfg config.ConverterConfig) *Client {
	return &Client{cfg: cfg, client: &http.Client{}}
}

// Convert 把原始文件送去转换服务，返回 Markdown 与图片。
// enableVLM 控制是否让服务端为图片生成 VLM caption（较慢）。
func (c *Client) Convert(fileReader io.Reader, fileName string, enableVLM bool) (*ConvertResult, error) {
	contentType := detectMimeType(fileName)

	params := url.Values{}
	params.Set("filename", fileName)
	params.Set("ocr", strconv.FormatBool(c.cfg.EnableOCR))
	params.Set("images_scale", strconv.FormatFloat(c.cfg.ImagesScale, 'f', -1, 64))
	params.Set("captions", strconv.FormatBool(c.cfg.GenerateCaptions && enableVLM))

	req, err := http.NewRequest("PUT", c.cfg.ServerURL+"/convert?"+params.Encode(), fileReader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用转换服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("转换服务返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	var result ConvertResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("读取转换服务响应失败: %w", err)
	}

	return &result, nil
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		// fallback 默认
		return "application/octet-stream"
	}
	return mimeType
}
