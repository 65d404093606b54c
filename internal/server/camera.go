package server

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"plantai/internal/camera"
)

const startFailedMessage = "Failed to start camera. Please check if camera is available."

// cameraResponse はカメラ操作の結果
type cameraResponse struct {
	Status  string `json:"status"` // success または error
	Message string `json:"message"`
}

type startCameraRequest struct {
	CameraIndex *int `json:"camera_index"`
}

type cameraEntry struct {
	Index  int    `json:"index"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Name   string `json:"name,omitempty"`
}

type listCamerasResponse struct {
	Cameras []cameraEntry `json:"cameras"`
	System  string        `json:"system"`
}

// StartCamera はカメラを開いて配信可能にする
func (h *PlantHandler) StartCamera(c *gin.Context) {
	// JSON 以外の本文は読まずに自動選択する
	var req startCameraRequest
	if c.ContentType() == binding.MIMEJSON {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, cameraResponse{Status: "error", Message: "Invalid request body"})
			return
		}
	}
	if req.CameraIndex != nil && *req.CameraIndex < 0 {
		c.JSON(http.StatusBadRequest, cameraResponse{Status: "error", Message: "camera_index must not be negative"})
		return
	}

	result, err := h.camera.Start(c.Request.Context(), req.CameraIndex)
	if err != nil {
		h.logger.Error("カメラの起動に失敗しました", zap.Error(err))
		c.JSON(http.StatusInternalServerError, cameraResponse{Status: "error", Message: startFailedMessage})
		return
	}

	c.JSON(http.StatusOK, cameraResponse{Status: "success", Message: result.Message})
}

// StopCamera は配信を止めてカメラを解放する
func (h *PlantHandler) StopCamera(c *gin.Context) {
	if err := h.camera.Stop(c.Request.Context()); err != nil {
		h.logger.Error("カメラの停止に失敗しました", zap.Error(err))
		c.JSON(http.StatusInternalServerError, cameraResponse{Status: "error", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, cameraResponse{Status: "success", Message: "Camera stopped"})
}

// ListCameras は利用可能なカメラを返す
func (h *PlantHandler) ListCameras(c *gin.Context) {
	candidates := h.camera.ListCameras(c.Request.Context())

	response := listCamerasResponse{
		Cameras: make([]cameraEntry, 0, len(candidates)),
		System:  h.camera.System(),
	}
	for _, cand := range candidates {
		response.Cameras = append(response.Cameras, cameraEntry{
			Index:  cand.Index,
			Width:  cand.Width,
			Height: cand.Height,
			Name:   cand.Name,
		})
	}

	c.JSON(http.StatusOK, response)
}

// VideoFeed はMJPEGストリームを配信する
func (h *PlantHandler) VideoFeed(c *gin.Context) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	chunks, err := h.camera.Stream(ctx)
	if err != nil {
		h.logger.Error("ストリームを開始できません", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		cancel()
		for range chunks {
		}
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	// レスポンスヘッダーを設定
	c.Header("Content-Type", camera.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	writer.WriteHeader(http.StatusOK)

	for chunk := range chunks {
		if _, err := writer.Write(chunk); err != nil {
			// 書き込めなくなったら配信ゴルーチンを止めて残りを捨てる
			cancel()
			for range chunks {
			}
			return
		}
		flusher.Flush()
	}
}
