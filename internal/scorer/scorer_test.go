package scorer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"doc-smart-go/internal/config"
	"doc-smart-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEncoder 用预置向量表替代真实编码服务。
type stubEncoder struct {
	textVectors  map[string][]float32
	imageVectors map[string][]float32 // key 为像素字节的字符串形式
	textErr      error
	imageErr     error
	imageCalls   int
}

func (s *stubEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if s.textErr != nil {
		return nil, s.textErr
	}
	if v, ok := s.textVectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEncoder) EncodeImage(ctx context.Context, data []byte, mimeType string) ([]float32, error) {
	s.imageCalls++
	if s.imageErr != nil {
		return nil, s.imageErr
	}
	if v, ok := s.imageVectors[string(data)]; ok {
		return v, nil
	}
	return []float32{0, 1, 0}, nil
}

func inlineImage(id, payload string) model.ImageRecord {
	return model.ImageRecord{
		ImageID: id,
		Pixels: model.PixelSource{
			Kind:       model.PixelInline,
			Base64Data: base64.StdEncoding.EncodeToString([]byte(payload)),
			MimeType:   "image/png",
		},
	}
}

func testScorer(enc *stubEncoder) *ImageScorer {
	return New(enc, config.ClipConfig{Threshold: 0.25, TopK: 3, MaxImagesToScore: 20})
}

func TestScoreImages_EmptyInput(t *testing.T) {
	s := testScorer(&stubEncoder{})
	assert.Nil(t, s.ScoreImages(context.Background(), "", []model.ImageRecord{inlineImage("a", "x")}, nil))
	assert.Nil(t, s.ScoreImages(context.Background(), "问题", nil, nil))
}

func TestScoreImages_FusionWeights(t *testing.T) {
	enc := &stubEncoder{
		textVectors: map[string][]float32{
			"查询":   {1, 0, 0},
			"图表说明": {1, 0, 0}, // 文本路与查询完全一致
		},
		imageVectors: map[string][]float32{
			"pixels": {1, 0, 0}, // 视觉路也完全一致
		},
	}
	s := testScorer(enc)

	img := inlineImage("a", "pixels")
	img.Caption = "图表说明"
	scored := s.ScoreImages(context.Background(), "查询", []model.ImageRecord{img}, nil)
	require.Len(t, scored, 1)
	// 0.7*1.0 + 0.3*1.0 = 1.0
	assert.InDelta(t, 1.0, scored[0].RelevanceScore, 1e-9)
}

func TestScoreImages_VisualOnly(t *testing.T) {
	enc := &stubEncoder{
		textVectors: map[string][]float32{
			"查询": {1, 0, 0},
		},
		imageVectors: map[string][]float32{
			"pixels": {1, 0, 0},
		},
	}
	s := testScorer(enc)

	// 无任何文字描述：只有视觉得分，不乘融合权重
	img := inlineImage("a", "pixels")
	scored := s.ScoreImages(context.Background(), "查询", []model.ImageRecord{img}, nil)
	require.Len(t, scored, 1)
	assert.InDelta(t, 1.0, scored[0].RelevanceScore, 1e-9)
}

func TestScoreImages_CaptionOnlyDegradation(t *testing.T) {
	enc := &stubEncoder{
		textVectors: map[string][]float32{
			"查询": {1, 0, 0},
			"描述": {1, 0, 0},
		},
	}
	s := testScorer(enc)

	// 像素数据损坏：视觉路缺席，只按文本得分
	img := model.ImageRecord{
		ImageID: "broken",
		Pixels:  model.PixelSource{Kind: model.PixelInline, Base64Data: "%%%不是base64%%%"},
		Caption: "描述",
	}
	scored := s.ScoreImages(context.Background(), "查询", []model.ImageRecord{img}, nil)
	require.Len(t, scored, 1)
	assert.InDelta(t, 1.0, scored[0].RelevanceScore, 1e-9)
}

func TestScoreImages_NeitherPathExcluded(t *testing.T) {
	s := testScorer(&stubEncoder{})
	// 无像素也无描述：整体排除而不是按 0 分参与
	img := model.ImageRecord{ImageID: "empty"}
	scored := s.ScoreImages(context.Background(), "查询", []model.ImageRecord{img}, nil)
	assert.Empty(t, scored)
}

func TestScoreImages_EncoderFailureReturnsEmpty(t *testing.T) {
	enc := &stubEncoder{textErr: errors.New("encoder offline")}
	s := testScorer(enc)
	scored := s.ScoreImages(context.Background(), "查询", []model.ImageRecord{inlineImage("a", "x")}, nil)
	assert.Nil(t, scored)
}

func TestScoreImages_ThresholdFiltering(t *testing.T) {
	enc := &stubEncoder{
		textVectors: map[string][]float32{
			"查询": {1, 0, 0},
		},
		imageVectors: map[string][]float32{
			"high": {1, 0, 0},          // cos = 1.0
			"low":  {0.1, 1, 0},        // cos ≈ 0.0995
			"mid":  {0.5, 0.866025, 0}, // cos = 0.5
		},
	}
	s := testScorer(enc)

	images := []model.ImageRecord{
		inlineImage("high", "high"),
		inlineImage("low", "low"),
		inlineImage("mid", "mid"),
	}
	scored := s.ScoreImages(context.Background(), "查询", images, nil)
	require.Len(t, scored, 2)
	assert.Equal(t, "high", scored[0].ImageID)
	assert.Equal(t, "mid", scored[1].ImageID)

	// 显式阈值 0：重跑后低分图片也进入结果
	zero := 0.0
	scored = s.ScoreImages(context.Background(), "查询", images, &Options{Threshold: &zero})
	assert.Len(t, scored, 3)
}

func TestScoreImages_TopKBound(t *testing.T) {
	enc := &stubEncoder{
		textVectors:  map[string][]float32{"查询": {1, 0, 0}},
		imageVectors: map[string][]float32{},
	}
	for i := 0; i < 6; i++ {
		enc.imageVectors[fmt.Sprintf("p%d", i)] = []float32{1, 0, 0}
	}
	s := testScorer(enc)

	var images []model.ImageRecord
	for i := 0; i < 6; i++ {
		images = append(images, inlineImage(fmt.Sprintf("img%d", i), fmt.Sprintf("p%d", i)))
	}
	scored := s.ScoreImages(context.Background(), "查询", images, nil)
	assert.Len(t, scored, 3)

	two := 2
	scored = s.ScoreImages(context.Background(), "查询", images, &Options{TopK: &two})
	assert.Len(t, scored, 2)
}

func TestScoreImages_StableOrderOnTies(t *testing.T) {
	enc := &stubEncoder{
		textVectors:  map[string][]float32{"查询": {1, 0, 0}},
		imageVectors: map[string][]float32{"same": {1, 0, 0}},
	}
	s := testScorer(enc)

	images := []model.ImageRecord{
		inlineImage("first", "same"),
		inlineImage("second", "same"),
		inlineImage("third", "same"),
	}
	scored := s.ScoreImages(context.Background(), "查询", images, nil)
	require.Len(t, scored, 3)
	assert.Equal(t, "first", scored[0].ImageID)
	assert.Equal(t, "second", scored[1].ImageID)
	assert.Equal(t, "third", scored[2].ImageID)
}

func TestScoreImages_BatchTruncation(t *testing.T) {
	enc := &stubEncoder{
		textVectors:  map[string][]float32{"查询": {1, 0, 0}},
		imageVectors: map[string][]float32{},
	}
	s := New(enc, config.ClipConfig{Threshold: 0.25, TopK: 10, MaxImagesToScore: 2})

	var images []model.ImageRecord
	for i := 0; i < 5; i++ {
		images = append(images, inlineImage(fmt.Sprintf("img%d", i), fmt.Sprintf("p%d", i)))
	}
	_ = s.ScoreImages(context.Background(), "查询", images, nil)
	// 超过批上限的候选不会触发视觉编码
	assert.Equal(t, 2, enc.imageCalls)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
}
