// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"doc-smart-go/internal/service"
	"doc-smart-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 允许上传的文件类型。
var allowedExts = map[string]struct{}{
	".pdf": {},
	".md":  {},
}

// DocumentHandler 负责处理所有与知识库文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// Upload 处理文档上传请求，存入对象存储并异步触发摄取。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if _, ok := allowedExts[ext]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "仅支持 .pdf 与 .md 文件"})
		return
	}

	enableVLM := c.DefaultPostForm("enableVlm", "false") == "true"

	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Upload: 打开上传文件失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "读取上传文件失败"})
		return
	}
	defer file.Close()

	doc, err := h.docService.Upload(c.Request.Context(), fileHeader.Filename, fileHeader.Size, file, enableVLM)
	if err != nil {
		log.Error("Upload: 上传失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "文档上传失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档已接收，正在后台处理",
		"data":    doc,
	})
}

// List 处理获取文档列表的请求。
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.docService.List()
	if err != nil {
		log.Error("List: 获取文档列表失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取文档列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取文档列表成功",
		"data":    docs,
	})
}

// Delete 处理删除文档的请求。
func (h *DocumentHandler) Delete(c *gin.Context) {
	stem := c.Param("stem")
	if stem == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少文档标识"})
		return
	}

	if err := h.docService.Delete(c.Request.Context(), stem); err != nil {
		log.Warnf("Delete: 删除文档失败, stem %s, err: %v", stem, err)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档删除成功",
	})
}

// Clear 处理清空知识库的请求。
func (h *DocumentHandler) Clear(c *gin.Context) {
	if err := h.docService.Clear(c.Request.Context()); err != nil {
		log.Error("Clear: 清空知识库失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "清空知识库失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "知识库已清空",
	})
}

// GenerateDownloadURL 处理生成原始文件下载链接的请求。
func (h *DocumentHandler) GenerateDownloadURL(c *gin.Context) {
	stem := c.Param("stem")
	if stem == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少文档标识"})
		return
	}

	downloadInfo, err := h.docService.GenerateDownloadURL(stem)
	if err != nil {
		log.Warnf("GenerateDownloadURL: failed for stem %s, err: %v", stem, err)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文件下载链接生成成功",
		"data":    downloadInfo,
	})
}
