// Package chunker 实现了 Markdown 文档的父/子两级切块流程。
//
// 流程共四趟：按标题切分 -> 合并过小片段 -> 拆分过大片段 -> 清理残余小块。
// 同一输入与同一配置下输出完全确定，上游依赖这一点做幂等重建。
package chunker

import (
	"fmt"

	"doc-smart-go/internal/config"
	"doc-smart-go/internal/model"
)

// 切块尺寸的默认值，配置缺失时生效。
const (
	DefaultMinParentSize     = 2000
	DefaultMaxParentSize     = 10000
	DefaultChildChunkSize    = 500
	DefaultChildChunkOverlap = 100
	DefaultHeaderLevels      = 3
)

// Chunker 将一个 Markdown 文档切分为父块序列和子块序列。
type Chunker struct {
	minParentSize     int
	maxParentSize     int
	childChunkSize    int
	childChunkOverlap int
	headerLevels      int
}

// Result 是单个文档的切块结果。
type Result struct {
	Parents  []model.ParentChunk
	Children []model.ChildChunk
}

// New 根据配置创建 Chunker，非法或缺失的尺寸会回退到默认值。
func New(cfg config.ChunkingConfig) *Chunker {
	c := &Chunker{
		minParentSize:     cfg.MinParentSize,
		maxParentSize:     cfg.MaxParentSize,
		childChunkSize:    cfg.ChildChunkSize,
		childChunkOverlap: cfg.ChildChunkOverlap,
		headerLevels:      cfg.HeaderLevels,
	}
	if c.minParentSize <= 0 {
		c.minParentSize = DefaultMinParentSize
	}
	if c.maxParentSize <= c.minParentSize {
		c.maxParentSize = DefaultMaxParentSize
	}
	if c.childChunkSize <= 0 {
		c.childChunkSize = DefaultChildChunkSize
	}
	if c.childChunkOverlap <= 0 || c.childChunkOverlap >= c.childChunkSize {
		c.childChunkOverlap = DefaultChildChunkOverlap
	}
	if c.headerLevels < 1 || c.headerLevels > 6 {
		c.headerLevels = DefaultHeaderLevels
	}
	return c
}

// ChunkDocument 把一个文档的 Markdown 文本切分为父块与子块。
// stem 是文档的稳定标识（文件名去扩展名），source 是原始文件名；
// images 是该文档的全部图片元数据，按页码或位置分配到各父块。
// 空文档返回空结果，不报错。
func (c *Chunker) ChunkDocument(stem, source, markdown string, images []model.ImageRecord) *Result {
	sections := splitByHeaders(markdown, c.headerLevels)
	merged := c.mergeSmallParents(sections)
	split := c.splitLargeParents(merged)
	cleaned := c.cleanSmallChunks(split)

	result := &Result{}
	total := len(cleaned)
	for i, sec := range cleaned {
		parent := model.ParentChunk{
			ID:      fmt.Sprintf("%s_parent_%d", stem, i),
			Content: sec.content,
			Headers: sec.headers,
			Source:  source,
		}
		if len(images) > 0 {
			parent.Images = imagesForParent(i, total, images)
		}
		result.Parents = append(result.Parents, parent)

		for _, piece := range splitFixed(sec.content, c.childChunkSize, c.childChunkOverlap) {
			result.Children = append(result.Children, model.ChildChunk{
				Content:  piece,
				ParentID: parent.ID,
				Source:   source,
			})
		}
	}
	return result
}

// mergeSmallParents 顺序累积片段直到达到最小父块尺寸，累积满则封存并重新开始。
// 结尾不足尺寸的残余并入前一个已封存的父块；若没有前块则单独保留。
// 以纯折叠方式产出新列表，不修改入参。
func (c *Chunker) mergeSmallParents(sections []section) []section {
	if len(sections) == 0 {
		return nil
	}

	var merged []section
	var current *section

	for _, sec := range sections {
		if current == nil {
			cp := section{content: sec.content, headers: sec.headers.Clone()}
			current = &cp
		} else {
			current.content += "\n\n" + sec.content
			current.headers = model.MergeHeaderMeta(current.headers, sec.headers)
		}

		if runeLen(current.content) >= c.minParentSize {
			merged = append(merged, *current)
			current = nil
		}
	}

	if current != nil {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			last.content += "\n\n" + current.content
			last.headers = model.MergeHeaderMeta(last.headers, current.headers)
		} else {
			merged = append(merged, *current)
		}
	}

	return merged
}

// splitLargeParents 把超过最大父块尺寸的片段用滑动窗口进一步拆分，
// 窗口大小取最大父块尺寸、重叠取子块重叠；各子片段继承原片段的标题元数据。
func (c *Chunker) splitLargeParents(sections []section) []section {
	var out []section
	for _, sec := range sections {
		if runeLen(sec.content) <= c.maxParentSize {
			out = append(out, sec)
			continue
		}
		for _, piece := range splitFixed(sec.content, c.maxParentSize, c.childChunkOverlap) {
			out = append(out, section{content: piece, headers: sec.headers.Clone()})
		}
	}
	return out
}

// cleanSmallChunks 自左向右清理仍小于最小父块尺寸的片段：
// 优先并入已清理列表的末尾；没有前块时前插进下一个原始片段
// （此时元数据拼接方向相反，小块的值排在前面）；
// 若它已是最后一个片段，则单独保留。
func (c *Chunker) cleanSmallChunks(sections []section) []section {
	// 工作副本，避免前插路径修改调用方的切片元素
	work := make([]section, len(sections))
	copy(work, sections)

	var cleaned []section
	for i := 0; i < len(work); i++ {
		sec := work[i]
		if runeLen(sec.content) >= c.minParentSize {
			cleaned = append(cleaned, sec)
			continue
		}

		switch {
		case len(cleaned) > 0:
			last := &cleaned[len(cleaned)-1]
			last.content += "\n\n" + sec.content
			last.headers = model.MergeHeaderMeta(last.headers, sec.headers)
		case i < len(work)-1:
			next := &work[i+1]
			next.content = sec.content + "\n\n" + next.content
			next.headers = model.MergeHeaderMetaReversed(next.headers, sec.headers)
		default:
			cleaned = append(cleaned, sec)
		}
	}
	return cleaned
}
