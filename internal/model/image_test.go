package model

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPixelSource_LoadBytes_Inline(t *testing.T) {
	raw := []byte("pixel-bytes")
	p := PixelSource{Kind: PixelInline, Base64Data: base64.StdEncoding.EncodeToString(raw)}

	got, err := p.LoadBytes()
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestPixelSource_LoadBytes_DataURL(t *testing.T) {
	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	p := PixelSource{
		Kind:       PixelInline,
		Base64Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw),
	}

	got, err := p.LoadBytes()
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	// 缺少逗号分隔符的 data URL 是错误
	_, err = PixelSource{Base64Data: "data:image/png;base64"}.LoadBytes()
	assert.Error(t, err)
}

func TestPixelSource_LoadBytes_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	require.NoError(t, os.WriteFile(path, []byte("file-bytes"), 0644))

	p := PixelSource{Kind: PixelFile, FilePath: path}
	got, err := p.LoadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("file-bytes"), got)

	_, err = PixelSource{Kind: PixelFile, FilePath: filepath.Join(dir, "missing.png")}.LoadBytes()
	assert.Error(t, err)
}

func TestPixelSource_LoadBytes_Empty(t *testing.T) {
	var p PixelSource
	assert.True(t, p.Empty())
	_, err := p.LoadBytes()
	assert.Error(t, err)
}

func TestImageRecord_UnmarshalJSON_NewFormat(t *testing.T) {
	data := `{
		"image_id": "manual_img_0",
		"page_number": 3,
		"pixels": {"kind": "file", "file_path": "/data/images/manual/manual_img_0.png", "mime_type": "image/png"},
		"caption": "架构图"
	}`

	var r ImageRecord
	require.NoError(t, json.Unmarshal([]byte(data), &r))
	assert.Equal(t, "manual_img_0", r.ImageID)
	require.NotNil(t, r.PageNumber)
	assert.Equal(t, 3, *r.PageNumber)
	assert.Equal(t, PixelFile, r.Pixels.Kind)
	assert.Equal(t, "/data/images/manual/manual_img_0.png", r.Pixels.FilePath)
	assert.Equal(t, "架构图", r.Caption)
}

func TestImageRecord_UnmarshalJSON_LegacyTopLevelBase64(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte("old"))
	data := `{"image_id": "doc_img_1", "base64_data": "` + b64 + `", "mime_type": "image/jpeg"}`

	var r ImageRecord
	require.NoError(t, json.Unmarshal([]byte(data), &r))
	assert.Equal(t, PixelInline, r.Pixels.Kind)
	assert.Equal(t, b64, r.Pixels.Base64Data)
	assert.Equal(t, "image/jpeg", r.Pixels.MimeType)
}

func TestImageRecord_UnmarshalJSON_KindInference(t *testing.T) {
	// pixels 对象缺少 kind 字段时按字段推断
	var r ImageRecord
	require.NoError(t, json.Unmarshal([]byte(`{"image_id": "a", "pixels": {"file_path": "/tmp/a.png"}}`), &r))
	assert.Equal(t, PixelFile, r.Pixels.Kind)

	require.NoError(t, json.Unmarshal([]byte(`{"image_id": "b", "pixels": {"base64_data": "QQ=="}}`), &r))
	assert.Equal(t, PixelInline, r.Pixels.Kind)
}

func TestImageRecord_BestCaption(t *testing.T) {
	r := ImageRecord{Caption: "标题", Description: "描述", VLMCaption: "模型描述"}
	assert.Equal(t, "模型描述", r.BestCaption())

	r.VLMCaption = ""
	assert.Equal(t, "标题", r.BestCaption())

	r.Caption = ""
	assert.Equal(t, "描述", r.BestCaption())

	r.Description = ""
	assert.Equal(t, "", r.BestCaption())
}
