package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderMeta_GetSet(t *testing.T) {
	m := HeaderMeta{{Key: "H1", Value: "概述"}}

	v, ok := m.Get("H1")
	assert.True(t, ok)
	assert.Equal(t, "概述", v)

	_, ok = m.Get("H2")
	assert.False(t, ok)

	m2 := m.Set("H2", "安装")
	v, ok = m2.Get("H2")
	assert.True(t, ok)
	assert.Equal(t, "安装", v)

	// Set 原位替换已有 key，且不修改原值
	m3 := m2.Set("H1", "简介")
	v, _ = m3.Get("H1")
	assert.Equal(t, "简介", v)
	v, _ = m.Get("H1")
	assert.Equal(t, "概述", v)
	assert.Len(t, m, 1)
}

func TestHeaderMeta_Clone(t *testing.T) {
	assert.Nil(t, HeaderMeta(nil).Clone())

	m := HeaderMeta{{Key: "H1", Value: "a"}}
	c := m.Clone()
	c[0].Value = "b"
	assert.Equal(t, "a", m[0].Value)
}

func TestMergeHeaderMeta(t *testing.T) {
	base := HeaderMeta{{Key: "H1", Value: "前言"}, {Key: "H2", Value: "背景"}}
	incoming := HeaderMeta{{Key: "H2", Value: "目标"}, {Key: "H3", Value: "细节"}}

	merged := MergeHeaderMeta(base, incoming)
	require.Len(t, merged, 3)
	assert.Equal(t, HeaderField{Key: "H1", Value: "前言"}, merged[0])
	assert.Equal(t, HeaderField{Key: "H2", Value: "背景 -> 目标"}, merged[1])
	assert.Equal(t, HeaderField{Key: "H3", Value: "细节"}, merged[2])

	// 纯函数：入参不被修改
	assert.Equal(t, "背景", base[1].Value)
	assert.Equal(t, "目标", incoming[0].Value)
}

func TestMergeHeaderMetaReversed(t *testing.T) {
	base := HeaderMeta{{Key: "H1", Value: "后块"}}
	incoming := HeaderMeta{{Key: "H1", Value: "小块"}}

	merged := MergeHeaderMetaReversed(base, incoming)
	require.Len(t, merged, 1)
	assert.Equal(t, "小块 -> 后块", merged[0].Value)
}
