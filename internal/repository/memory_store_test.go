package repository

import (
	"testing"

	"doc-smart-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeWith(t *testing.T, docStem string, ids ...string) *MemoryParentStore {
	t.Helper()
	store := NewMemoryParentStore()
	var parents []model.ParentChunk
	for _, id := range ids {
		parents = append(parents, model.ParentChunk{ID: id, Content: "内容 " + id, Source: docStem + ".pdf"})
	}
	require.NoError(t, store.PutBatch(docStem, parents))
	return store
}

func TestMemoryParentStore_LoadMissReturnsNil(t *testing.T) {
	store := NewMemoryParentStore()
	parent, err := store.Load("manual_parent_0")
	require.NoError(t, err)
	assert.Nil(t, parent)
}

func TestMemoryParentStore_PutAndLoad(t *testing.T) {
	store := NewMemoryParentStore()
	require.NoError(t, store.Put("manual", model.ParentChunk{ID: "manual_parent_0", Content: "第一章"}))

	parent, err := store.Load("manual_parent_0")
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, "第一章", parent.Content)

	// 同 ID 覆盖写入
	require.NoError(t, store.Put("manual", model.ParentChunk{ID: "manual_parent_0", Content: "修订"}))
	parent, err = store.Load("manual_parent_0")
	require.NoError(t, err)
	assert.Equal(t, "修订", parent.Content)
}

func TestMemoryParentStore_LoadManyPreservesInputOrder(t *testing.T) {
	store := storeWith(t, "manual", "manual_parent_0", "manual_parent_1", "manual_parent_2")

	parents, err := store.LoadMany([]string{"manual_parent_2", "manual_parent_0"})
	require.NoError(t, err)
	require.Len(t, parents, 2)
	assert.Equal(t, "manual_parent_2", parents[0].ID)
	assert.Equal(t, "manual_parent_0", parents[1].ID)
}

func TestMemoryParentStore_LoadManyOmitsMisses(t *testing.T) {
	store := storeWith(t, "manual", "manual_parent_0")

	parents, err := store.LoadMany([]string{"manual_parent_9", "manual_parent_0", "other_parent_0"})
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, "manual_parent_0", parents[0].ID)

	parents, err = store.LoadMany(nil)
	require.NoError(t, err)
	assert.Empty(t, parents)
}

func TestMemoryParentStore_Delete(t *testing.T) {
	store := storeWith(t, "manual", "manual_parent_0", "manual_parent_1")
	require.NoError(t, store.Delete("manual_parent_0"))

	parent, err := store.Load("manual_parent_0")
	require.NoError(t, err)
	assert.Nil(t, parent)

	parent, err = store.Load("manual_parent_1")
	require.NoError(t, err)
	assert.NotNil(t, parent)
}

func TestMemoryParentStore_DeleteByDocStem(t *testing.T) {
	store := storeWith(t, "manual", "manual_parent_0", "manual_parent_1")
	require.NoError(t, store.PutBatch("guide", []model.ParentChunk{{ID: "guide_parent_0"}}))

	require.NoError(t, store.DeleteByDocStem("manual"))

	parents, err := store.LoadMany([]string{"manual_parent_0", "manual_parent_1", "guide_parent_0"})
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, "guide_parent_0", parents[0].ID)
}

func TestMemoryParentStore_Clear(t *testing.T) {
	store := storeWith(t, "manual", "manual_parent_0")
	require.NoError(t, store.Clear())

	parent, err := store.Load("manual_parent_0")
	require.NoError(t, err)
	assert.Nil(t, parent)

	// 清空后仍可继续写入
	require.NoError(t, store.Put("manual", model.ParentChunk{ID: "manual_parent_0"}))
	parent, err = store.Load("manual_parent_0")
	require.NoError(t, err)
	assert.NotNil(t, parent)
}
