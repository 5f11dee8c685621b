// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// PixelSourceKind 标识图片像素数据的存放方式。
type PixelSourceKind string

const (
	// PixelInline 表示像素数据以 base64 内联存储（旧格式）。
	PixelInline PixelSourceKind = "inline"
	// PixelFile 表示像素数据存放在磁盘文件中，记录仅保留路径。
	PixelFile PixelSourceKind = "file"
)

// PixelSource 是图片像素数据的带标签联合类型：内联 base64 或文件引用。
// 两种表示必须可以互换读取，统一通过 LoadBytes 访问。
type PixelSource struct {
	Kind       PixelSourceKind `json:"kind,omitempty"`
	Base64Data string          `json:"base64_data,omitempty"`
	FilePath   string          `json:"file_path,omitempty"`
	MimeType   string          `json:"mime_type,omitempty"`
}

// Empty 判断是否完全没有像素数据。
func (p PixelSource) Empty() bool {
	return p.Base64Data == "" && p.FilePath == ""
}

// LoadBytes 统一读取像素字节。
// 内联数据兼容带 "data:...;base64," 前缀的 data URL 形式。
func (p PixelSource) LoadBytes() ([]byte, error) {
	switch {
	case p.Base64Data != "":
		data := p.Base64Data
		if strings.HasPrefix(data, "data:") {
			idx := strings.Index(data, ",")
			if idx < 0 {
				return nil, errors.New("data URL 中缺少逗号分隔符")
			}
			data = data[idx+1:]
		}
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("base64 解码失败: %w", err)
		}
		return decoded, nil
	case p.FilePath != "":
		raw, err := os.ReadFile(p.FilePath)
		if err != nil {
			return nil, fmt.Errorf("读取图片文件失败: %w", err)
		}
		return raw, nil
	default:
		return nil, errors.New("图片记录不含像素数据")
	}
}

// ImageRecord 是从源 PDF 中提取的一张图片。
// ImageID 形如 {doc_stem}_img_{n}，在文档内唯一。
type ImageRecord struct {
	ImageID    string      `json:"image_id"`
	PageNumber *int        `json:"page_number,omitempty"`
	Pixels     PixelSource `json:"pixels"`
	Caption    string      `json:"caption,omitempty"`
	Description string     `json:"description,omitempty"`
	VLMCaption string      `json:"vlm_caption,omitempty"`
	BBox       []float64   `json:"bbox,omitempty"`
}

// imageRecordJSON 同时承载新旧两种序列化格式：
// 新格式的 pixels 对象，以及旧格式顶层的 base64_data/mime_type 字段。
type imageRecordJSON struct {
	ImageID     string      `json:"image_id"`
	PageNumber  *int        `json:"page_number,omitempty"`
	Pixels      PixelSource `json:"pixels"`
	Caption     string      `json:"caption,omitempty"`
	Description string      `json:"description,omitempty"`
	VLMCaption  string      `json:"vlm_caption,omitempty"`
	BBox        []float64   `json:"bbox,omitempty"`
	// 旧格式字段
	Base64Data string `json:"base64_data,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
}

// UnmarshalJSON 兼容旧格式（顶层 base64_data）的图片元数据。
func (r *ImageRecord) UnmarshalJSON(data []byte) error {
	var raw imageRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ImageRecord{
		ImageID:     raw.ImageID,
		PageNumber:  raw.PageNumber,
		Pixels:      raw.Pixels,
		Caption:     raw.Caption,
		Description: raw.Description,
		VLMCaption:  raw.VLMCaption,
		BBox:        raw.BBox,
	}
	if r.Pixels.Empty() && raw.Base64Data != "" {
		r.Pixels = PixelSource{
			Kind:       PixelInline,
			Base64Data: raw.Base64Data,
			MimeType:   raw.MimeType,
		}
	}
	if r.Pixels.Kind == "" && !r.Pixels.Empty() {
		if r.Pixels.FilePath != "" {
			r.Pixels.Kind = PixelFile
		} else {
			r.Pixels.Kind = PixelInline
		}
	}
	return nil
}

// BestCaption 按 模型生成描述 > 转换器标题 > 通用描述 的优先级返回图片文本。
func (r ImageRecord) BestCaption() string {
	if r.VLMCaption != "" {
		return r.VLMCaption
	}
	if r.Caption != "" {
		return r.Caption
	}
	return r.Description
}

// ScoredImage 是带相关性得分的图片记录，由打分器产出。
type ScoredImage struct {
	ImageRecord
	RelevanceScore float64 `json:"relevance_score"`
}
