package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"doc-smart-go/internal/config"

	"github.com/gin-gonic/gin"
)

// ImageHandler 负责静态伺服摄取时落盘的文档图片。
type ImageHandler struct {
	imagesDir string
}

// NewImageHandler 创建一个新的 ImageHandler 实例。
func NewImageHandler(cfg config.ConverterConfig) *ImageHandler {
	return &ImageHandler{imagesDir: cfg.ImagesDir}
}

// Serve 按 /images/:stem/:filename 返回图片文件。
// 路径分量中不允许出现目录穿越字符。
func (h *ImageHandler) Serve(c *gin.Context) {
	stem := c.Param("stem")
	filename := c.Param("filename")
	if stem == "" || filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少图片路径"})
		return
	}
	if strings.Contains(stem, "..") || strings.ContainsAny(stem, `/\`) ||
		strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "非法的图片路径"})
		return
	}

	path := filepath.Join(h.imagesDir, stem, filename)
	c.Header("Cache-Control", "public, max-age=86400")
	c.File(path)
}
