package uploadapi

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes wires the Upload Coordinator's HTTP surface onto
// router, following the teacher's per-registry RegisterRoutes(api
// *gin.RouterGroup, ...) grouping convention.
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	upload := router.Group("/upload")
	upload.POST("/init", h.InitUpload)
	upload.POST("/chunk", h.UploadChunk)
	upload.GET("/:id/status", h.Status)
	upload.GET("/:id/contents", h.Contents)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
