package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitByHeaders_Basic(t *testing.T) {
	text := "# 一级\n正文A\n## 二级\n正文B\n### 三级\n正文C"
	sections := splitByHeaders(text, 3)
	require.Len(t, sections, 3)

	assert.Contains(t, sections[0].content, "# 一级")
	assert.Contains(t, sections[0].content, "正文A")
	v, _ := sections[0].headers.Get("H1")
	assert.Equal(t, "一级", v)

	v, _ = sections[1].headers.Get("H1")
	assert.Equal(t, "一级", v)
	v, _ = sections[1].headers.Get("H2")
	assert.Equal(t, "二级", v)

	v, _ = sections[2].headers.Get("H3")
	assert.Equal(t, "三级", v)
}

func TestSplitByHeaders_LowerLevelResetsDeeper(t *testing.T) {
	text := "# A\n## B\n内容1\n# C\n内容2"
	sections := splitByHeaders(text, 3)
	require.Len(t, sections, 3)

	// 新的 H1 出现后，之前的 H2 不再生效
	last := sections[len(sections)-1]
	v, _ := last.headers.Get("H1")
	assert.Equal(t, "C", v)
	_, ok := last.headers.Get("H2")
	assert.False(t, ok)
}

func TestSplitByHeaders_NoHeaders(t *testing.T) {
	text := "没有任何标题的文档正文。"
	sections := splitByHeaders(text, 3)
	require.Len(t, sections, 1)
	assert.Empty(t, sections[0].headers)
	assert.Equal(t, text, sections[0].content)
}

func TestSplitByHeaders_IgnoresDeeperLevels(t *testing.T) {
	text := "# A\n正文\n#### 四级标题\n继续"
	sections := splitByHeaders(text, 3)
	require.Len(t, sections, 1)
	// 四级标题不触发切分，保留在内容中
	assert.Contains(t, sections[0].content, "#### 四级标题")
}

func TestSplitByHeaders_CodeFence(t *testing.T) {
	text := "# A\n```bash\n# 这是注释不是标题\n```\n正文"
	sections := splitByHeaders(text, 3)
	require.Len(t, sections, 1)
	assert.Contains(t, sections[0].content, "# 这是注释不是标题")
}

func TestSplitByHeaders_Empty(t *testing.T) {
	assert.Nil(t, splitByHeaders("", 3))
	assert.Nil(t, splitByHeaders("  \n \n", 3))
}

func TestSplitFixed_TilingCount(t *testing.T) {
	// 窗口数 = ceil((n - overlap) / (size - overlap))
	cases := []struct {
		n, size, overlap, want int
	}{
		{1200, 500, 100, 3},
		{500, 500, 100, 1},
		{501, 500, 100, 2},
		{10000, 10000, 100, 1},
		{12000, 10000, 100, 2},
	}
	for _, tc := range cases {
		chunks := splitFixed(strings.Repeat("x", tc.n), tc.size, tc.overlap)
		assert.Len(t, chunks, tc.want, "n=%d size=%d overlap=%d", tc.n, tc.size, tc.overlap)
	}
}

func TestSplitFixed_OverlapShared(t *testing.T) {
	text := "abcdefghij" // 10 runes
	chunks := splitFixed(text, 6, 2)
	require.Len(t, chunks, 2)
	assert.Equal(t, "abcdef", chunks[0])
	assert.Equal(t, "efghij", chunks[1])
}

func TestSplitFixed_RuneCounting(t *testing.T) {
	text := strings.Repeat("中", 7)
	chunks := splitFixed(text, 5, 1)
	require.Len(t, chunks, 2)
	assert.Equal(t, 5, len([]rune(chunks[0])))
	assert.Equal(t, 3, len([]rune(chunks[1])))
}

func TestSplitFixed_InvalidOverlapFallsBack(t *testing.T) {
	chunks := splitFixed("abcdef", 3, 3)
	require.Len(t, chunks, 2)
	assert.Equal(t, "abc", chunks[0])
	assert.Equal(t, "def", chunks[1])
}
