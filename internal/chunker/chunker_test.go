package chunker

import (
	"fmt"
	"strings"
	"testing"

	"doc-smart-go/internal/config"
	"doc-smart-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ChunkingConfig {
	return config.ChunkingConfig{
		MinParentSize:     2000,
		MaxParentSize:     10000,
		ChildChunkSize:    500,
		ChildChunkOverlap: 100,
		HeaderLevels:      3,
	}
}

func repeat(ch string, n int) string {
	return strings.Repeat(ch, n)
}

func TestNew_FallbackDefaults(t *testing.T) {
	c := New(config.ChunkingConfig{})
	assert.Equal(t, DefaultMinParentSize, c.minParentSize)
	assert.Equal(t, DefaultMaxParentSize, c.maxParentSize)
	assert.Equal(t, DefaultChildChunkSize, c.childChunkSize)
	assert.Equal(t, DefaultChildChunkOverlap, c.childChunkOverlap)
	assert.Equal(t, DefaultHeaderLevels, c.headerLevels)

	// 重叠不小于子块大小时同样回退
	c = New(config.ChunkingConfig{ChildChunkSize: 100, ChildChunkOverlap: 100})
	assert.Equal(t, DefaultChildChunkOverlap, c.childChunkOverlap)

	// 只配置了子块大小、重叠为零值时，重叠也要回退默认而不是得到无重叠切分
	c = New(config.ChunkingConfig{ChildChunkSize: 500})
	assert.Equal(t, DefaultChildChunkOverlap, c.childChunkOverlap)
}

func TestChunkDocument_ContentCoverage(t *testing.T) {
	c := New(testConfig())
	// 四个片段分别走封存、累积合并与残余并入路径，每段用独立字符便于计数
	markdown := "# 一\n\n" + repeat("甲", 2500) +
		"\n\n# 二\n\n" + repeat("乙", 300) +
		"\n\n# 三\n\n" + repeat("丙", 2500) +
		"\n\n# 四\n\n" + repeat("丁", 150)

	result := c.ChunkDocument("doc", "doc.pdf", markdown, nil)
	require.NotEmpty(t, result.Parents)

	var sb strings.Builder
	for _, p := range result.Parents {
		sb.WriteString(p.Content)
		sb.WriteString("\n\n")
	}
	all := sb.String()

	// 各趟处理之间不得丢失正文：每种字符的数量与输入完全一致
	assert.Equal(t, 2500, strings.Count(all, "甲"))
	assert.Equal(t, 300, strings.Count(all, "乙"))
	assert.Equal(t, 2500, strings.Count(all, "丙"))
	assert.Equal(t, 150, strings.Count(all, "丁"))

	// 标题行保留在内容里，且各出现一次
	for _, h := range []string{"# 一", "# 二", "# 三", "# 四"} {
		assert.Equal(t, 1, strings.Count(all, h))
	}
}

func TestChunkDocument_EmptyInput(t *testing.T) {
	c := New(testConfig())
	result := c.ChunkDocument("doc", "doc.pdf", "", nil)
	assert.Empty(t, result.Parents)
	assert.Empty(t, result.Children)

	result = c.ChunkDocument("doc", "doc.pdf", "   \n\n  ", nil)
	assert.Empty(t, result.Parents)
}

func TestChunkDocument_Deterministic(t *testing.T) {
	c := New(testConfig())
	markdown := "# 标题\n\n" + repeat("甲", 3000) + "\n\n## 子标题\n\n" + repeat("乙", 2500)

	first := c.ChunkDocument("doc", "doc.pdf", markdown, nil)
	second := c.ChunkDocument("doc", "doc.pdf", markdown, nil)
	assert.Equal(t, first, second)
}

func TestChunkDocument_ParentIDFormat(t *testing.T) {
	c := New(testConfig())
	markdown := "# A\n\n" + repeat("a", 2100) + "\n\n# B\n\n" + repeat("b", 2100)

	result := c.ChunkDocument("manual", "manual.pdf", markdown, nil)
	require.Len(t, result.Parents, 2)
	for i, p := range result.Parents {
		assert.Equal(t, fmt.Sprintf("manual_parent_%d", i), p.ID)
		assert.Equal(t, "manual.pdf", p.Source)
	}
}

func TestChunkDocument_LargeSectionSplit(t *testing.T) {
	// 单个 12000 字符片段：滑动窗口（大小 10000、重叠 100）切成两个父块
	c := New(testConfig())
	markdown := repeat("长", 12000)

	result := c.ChunkDocument("doc", "doc.pdf", markdown, nil)
	require.Len(t, result.Parents, 2)
	assert.Equal(t, 10000, len([]rune(result.Parents[0].Content)))
	assert.Equal(t, 2100, len([]rune(result.Parents[1].Content)))
	// 相邻父块共享重叠区
	r0 := []rune(result.Parents[0].Content)
	r1 := []rune(result.Parents[1].Content)
	assert.Equal(t, string(r0[len(r0)-100:]), string(r1[:100]))
}

func TestChunkDocument_SizeInvariant(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		sb.WriteString(fmt.Sprintf("# 章节%d\n\n", i))
		sb.WriteString(repeat("文", 700+i*400))
		sb.WriteString("\n\n")
	}

	result := c.ChunkDocument("doc", "doc.pdf", sb.String(), nil)
	require.NotEmpty(t, result.Parents)
	for _, p := range result.Parents {
		n := len([]rune(p.Content))
		assert.LessOrEqual(t, n, cfg.MaxParentSize, "父块不能超过最大尺寸")
	}
	// 除最后一个外都应达到最小尺寸
	for _, p := range result.Parents[:len(result.Parents)-1] {
		assert.GreaterOrEqual(t, len([]rune(p.Content)), cfg.MinParentSize)
	}
}

func TestChunkDocument_ChildrenReferenceParents(t *testing.T) {
	cfg := testConfig()
	c := New(cfg)
	markdown := "# A\n\n" + repeat("内", 2600)

	result := c.ChunkDocument("doc", "doc.pdf", markdown, nil)
	require.Len(t, result.Parents, 1)
	require.NotEmpty(t, result.Children)

	parentIDs := map[string]struct{}{}
	for _, p := range result.Parents {
		parentIDs[p.ID] = struct{}{}
	}
	for _, child := range result.Children {
		_, ok := parentIDs[child.ParentID]
		assert.True(t, ok, "子块必须回引一个存在的父块")
		assert.LessOrEqual(t, len([]rune(child.Content)), cfg.ChildChunkSize)
	}
	// 子块拼回应覆盖父块起始内容
	assert.True(t, strings.HasPrefix(result.Parents[0].Content, result.Children[0].Content))
}

func TestMergeSmallParents_TrailingRemainder(t *testing.T) {
	c := New(testConfig())
	sections := []section{
		{content: repeat("a", 2100), headers: model.HeaderMeta{{Key: "H1", Value: "一"}}},
		{content: repeat("b", 300), headers: model.HeaderMeta{{Key: "H1", Value: "二"}}},
	}

	merged := c.mergeSmallParents(sections)
	require.Len(t, merged, 1)
	// 结尾残余并入前一个已封存的父块，冲突 key 的值拼接
	assert.Contains(t, merged[0].content, repeat("b", 300))
	v, ok := merged[0].headers.Get("H1")
	require.True(t, ok)
	assert.Equal(t, "一 -> 二", v)
}

func TestMergeSmallParents_StandaloneWhenNoPredecessor(t *testing.T) {
	c := New(testConfig())
	sections := []section{
		{content: repeat("x", 500), headers: nil},
	}
	merged := c.mergeSmallParents(sections)
	require.Len(t, merged, 1)
	assert.Equal(t, repeat("x", 500), merged[0].content)
}

func TestMergeSmallParents_DoesNotMutateInput(t *testing.T) {
	c := New(testConfig())
	original := model.HeaderMeta{{Key: "H1", Value: "原始"}}
	sections := []section{
		{content: repeat("a", 800), headers: original},
		{content: repeat("b", 1500), headers: model.HeaderMeta{{Key: "H1", Value: "后续"}}},
	}
	_ = c.mergeSmallParents(sections)
	v, _ := original.Get("H1")
	assert.Equal(t, "原始", v, "合并不能修改入参元数据")
}

func TestCleanSmallChunks_MergeIntoPrevious(t *testing.T) {
	c := New(testConfig())
	sections := []section{
		{content: repeat("a", 2500), headers: model.HeaderMeta{{Key: "H1", Value: "前"}}},
		{content: repeat("b", 100), headers: model.HeaderMeta{{Key: "H1", Value: "后"}}},
	}
	cleaned := c.cleanSmallChunks(sections)
	require.Len(t, cleaned, 1)
	v, _ := cleaned[0].headers.Get("H1")
	assert.Equal(t, "前 -> 后", v)
}

func TestCleanSmallChunks_PrependIntoNext(t *testing.T) {
	c := New(testConfig())
	sections := []section{
		{content: repeat("a", 100), headers: model.HeaderMeta{{Key: "H1", Value: "小块"}}},
		{content: repeat("b", 2500), headers: model.HeaderMeta{{Key: "H1", Value: "大块"}}},
	}
	cleaned := c.cleanSmallChunks(sections)
	require.Len(t, cleaned, 1)
	assert.True(t, strings.HasPrefix(cleaned[0].content, repeat("a", 100)))
	// 前插场景下元数据拼接方向相反，小块的值在前
	v, _ := cleaned[0].headers.Get("H1")
	assert.Equal(t, "小块 -> 大块", v)
}

func TestCleanSmallChunks_LastStandaloneKept(t *testing.T) {
	c := New(testConfig())
	sections := []section{
		{content: repeat("x", 300), headers: nil},
	}
	cleaned := c.cleanSmallChunks(sections)
	require.Len(t, cleaned, 1)
	assert.Equal(t, repeat("x", 300), cleaned[0].content)
}
