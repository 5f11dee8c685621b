package chunker

import "doc-smart-go/internal/model"

// imagesForParent 为第 index 个父块（共 total 个）挑选应归属的图片。
//
// 任一图片带页码时按页码比例分配：pages_per_chunk = max(1, 最大页码/total)，
// 第 i 个父块覆盖页区间 [floor(i*ppc)+1, floor((i+1)*ppc)+1]（闭区间）。
// 相邻父块的页区间在整除截断下可能重叠，同一张图片因此可能归属多个父块；
// 这是该启发式的已知属性，下游按语义相关性再过滤，这里不做去重修正。
//
// 没有任何页码时按位置均分：每块 max(1, n/total) 张，余数归最后一个父块。
func imagesForParent(index, total int, images []model.ImageRecord) []model.ImageRecord {
	if len(images) == 0 || total <= 0 {
		return nil
	}

	maxPage := 0
	for _, img := range images {
		if img.PageNumber != nil && *img.PageNumber > maxPage {
			maxPage = *img.PageNumber
		}
	}

	if maxPage > 0 {
		pagesPerChunk := float64(maxPage) / float64(total)
		if pagesPerChunk < 1 {
			pagesPerChunk = 1
		}
		startPage := int(float64(index)*pagesPerChunk) + 1
		endPage := int(float64(index+1)*pagesPerChunk) + 1

		var out []model.ImageRecord
		for _, img := range images {
			if img.PageNumber == nil {
				continue
			}
			if p := *img.PageNumber; p >= startPage && p <= endPage {
				out = append(out, img)
			}
		}
		return out
	}

	perChunk := len(images) / total
	if perChunk < 1 {
		perChunk = 1
	}
	start := index * perChunk
	if start >= len(images) {
		return nil
	}
	end := start + perChunk
	if index == total-1 || end > len(images) {
		end = len(images)
	}
	return images[start:end]
}
