package server

import (
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"plantai/internal/camera"
	"plantai/internal/predict"
	"plantai/internal/storage"
)

const noFrameMessage = "No frame available. Please start camera first."

// pageData は画面テンプレートに渡す値
type pageData struct {
	Result     bool
	ImagePath  string
	Prediction *predict.Prediction
	Error      string
}

func (h *PlantHandler) render(c *gin.Context, status int, data pageData) {
	c.HTML(status, indexTemplate, data)
}

// Index はトップページを表示する
func (h *PlantHandler) Index(c *gin.Context) {
	h.render(c, http.StatusOK, pageData{})
}

// UploadRedirect は GET /upload/ をトップページに戻す
func (h *PlantHandler) UploadRedirect(c *gin.Context) {
	c.Redirect(http.StatusFound, "/")
}

// Upload はアップロードされた画像を保存して推定する
func (h *PlantHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("img")
	if err != nil {
		h.render(c, http.StatusBadRequest, pageData{Error: "No image uploaded."})
		return
	}

	f, err := fh.Open()
	if err != nil {
		h.render(c, http.StatusBadRequest, pageData{Error: "No image uploaded."})
		return
	}
	defer f.Close()

	name, err := h.images.SaveUpload(fh.Filename, f)
	if errors.Is(err, storage.ErrInvalidName) {
		h.render(c, http.StatusBadRequest, pageData{Error: "Invalid file name."})
		return
	}
	if err != nil {
		h.logger.Error("アップロード画像の保存に失敗しました", zap.Error(err))
		h.render(c, http.StatusInternalServerError, pageData{Error: fmt.Sprintf("Upload failed: %v", err)})
		return
	}

	h.predictAndRender(c, name, predict.SourceUpload, "Prediction failed")
}

// CaptureFrame は最新フレームを保存して推定する
func (h *PlantHandler) CaptureFrame(c *gin.Context) {
	jpeg, err := h.camera.Snapshot(c.Request.Context())
	if errors.Is(err, camera.ErrNoFrame) {
		h.render(c, http.StatusOK, pageData{Error: noFrameMessage})
		return
	}
	if err != nil {
		h.render(c, http.StatusOK, pageData{Error: fmt.Sprintf("Capture failed: %v", err)})
		return
	}

	name, err := h.images.SaveCapture(jpeg)
	if err != nil {
		h.logger.Error("キャプチャ画像の保存に失敗しました", zap.Error(err))
		h.render(c, http.StatusOK, pageData{Error: fmt.Sprintf("Capture failed: %v", err)})
		return
	}

	h.predictAndRender(c, name, predict.SourceCapture, "Capture failed")
}

// predictAndRender は保存済みの画像を推定して結果画面を表示する
func (h *PlantHandler) predictAndRender(c *gin.Context, name string, source predict.Source, failure string) {
	file, err := h.images.Path(name)
	if err != nil {
		h.render(c, http.StatusInternalServerError, pageData{Error: fmt.Sprintf("%s: %v", failure, err)})
		return
	}

	p, err := h.predictor.Predict(c.Request.Context(), file, source)
	if err != nil {
		h.logger.Error("推定に失敗しました", zap.String("file", name), zap.Error(err))
		h.render(c, http.StatusInternalServerError, pageData{Error: fmt.Sprintf("%s: %v", failure, err)})
		return
	}

	h.render(c, http.StatusOK, pageData{
		Result:     true,
		ImagePath:  path.Join("/uploadimages", name),
		Prediction: &p,
	})
}

// UploadedImage は保存済みの画像を返す
func (h *PlantHandler) UploadedImage(c *gin.Context) {
	file, err := h.images.Path(c.Param("filename"))
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.File(file)
}
