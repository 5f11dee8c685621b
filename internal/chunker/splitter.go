// Package chunker 实现了 Markdown 文档的父/子两级切块流程。
package chunker

import (
	"regexp"
	"strings"

	"doc-smart-go/internal/model"
)

// section 是按标题切分后的一个原始片段，metadata 记录当前生效的各级标题。
type section struct {
	content string
	headers model.HeaderMeta
}

var headerLineRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// headerLabel 返回标题层级对应的元数据 key，例如 2 -> "H2"。
func headerLabel(level int) string {
	return "H" + string(rune('0'+level))
}

// splitByHeaders 按 1..maxLevel 级 Markdown 标题把文档切成有序片段。
// 标题行保留在片段内容中；代码围栏内的 "#" 不视为标题。
// 任意文本都能切分：没有标题的文档整体作为一个无标题片段返回。
func splitByHeaders(text string, maxLevel int) []section {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if maxLevel < 1 || maxLevel > 6 {
		maxLevel = 3
	}

	var (
		sections []section
		current  []string
		// active[l] 是当前生效的 l 级标题文本，1 起始
		active  = make([]string, maxLevel+1)
		inFence = false
	)

	flush := func() {
		joined := strings.TrimSpace(strings.Join(current, "\n"))
		current = current[:0]
		if joined == "" {
			return
		}
		var meta model.HeaderMeta
		for l := 1; l <= maxLevel; l++ {
			if active[l] != "" {
				meta = meta.Set(headerLabel(l), active[l])
			}
		}
		sections = append(sections, section{content: joined, headers: meta})
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			current = append(current, line)
			continue
		}
		if !inFence {
			if m := headerLineRe.FindStringSubmatch(line); m != nil && len(m[1]) <= maxLevel {
				level := len(m[1])
				flush()
				active[level] = strings.TrimSpace(m[2])
				for l := level + 1; l <= maxLevel; l++ {
					active[l] = ""
				}
				current = append(current, line)
				continue
			}
		}
		current = append(current, line)
	}
	flush()

	return sections
}

// splitFixed 将长文本按指定大小和重叠进行滑动窗口切分（按 rune 计数）。
// 相邻窗口共享 overlap 个字符；overlap 不合法时退化为简单等宽切分。
func splitFixed(text string, chunkSize, chunkOverlap int) []string {
	if chunkSize <= 0 {
		return nil
	}
	if chunkOverlap < 0 || chunkSize <= chunkOverlap {
		return simpleSplit(text, chunkSize)
	}

	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func simpleSplit(text string, chunkSize int) []string {
	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// runeLen 按 rune 计数返回文本长度，所有尺寸判断统一使用该函数。
func runeLen(s string) int {
	return len([]rune(s))
}
