package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"plantai/internal/camera"
	"plantai/internal/config"
	"plantai/internal/events"
	"plantai/internal/generated"
	"plantai/internal/history"
	"plantai/internal/predict"
	"plantai/internal/storage"
)

var _ generated.ServerInterface = (*PlantHandler)(nil)

// Predictor は画像ファイルから病気を推定する
type Predictor interface {
	Predict(ctx context.Context, imagePath string, source predict.Source) (predict.Prediction, error)
}

// HistoryReader は推定履歴を読み出す
type HistoryReader interface {
	List(ctx context.Context, limit int) ([]predict.Prediction, error)
	Get(ctx context.Context, id string) (predict.Prediction, error)
}

// Deps はサーバーが使うコンポーネント
// History と Bus は nil でもよい
type Deps struct {
	Camera      camera.Manager
	Predictor   Predictor
	Images      *storage.Store
	History     HistoryReader
	Bus         *events.Bus
	ModelLoaded bool
	Logger      *zap.Logger
}

// PlantHandler は生成されたServerInterfaceと画面、カメラのルートを実装する
type PlantHandler struct {
	config      *config.Config
	camera      camera.Manager
	predictor   Predictor
	images      *storage.Store
	history     HistoryReader
	bus         *events.Bus
	modelLoaded bool
	hub         *Hub
	logger      *zap.Logger
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *PlantHandler) HealthCheck(c *gin.Context) {
	response := generated.HealthResponse{
		Status:    generated.Healthy,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *PlantHandler) GetStatus(c *gin.Context) {
	response := generated.StatusResponse{
		Status: generated.Running,
		Server: generated.ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Camera: generated.CameraStatus{
			State:  convertCameraState(h.camera.State()),
			System: h.camera.System(),
		},
		Classifier: h.modelLoaded,
		Timestamp:  time.Now(),
	}
	if h.bus != nil {
		response.EventsUrl = stringPtr(h.bus.ClientURL())
	}

	c.JSON(http.StatusOK, response)
}

// ListPredictions は推定履歴一覧エンドポイントの実装
func (h *PlantHandler) ListPredictions(c *gin.Context, params generated.ListPredictionsParams) {
	response := generated.PredictionList{Predictions: []generated.Prediction{}}
	if h.history == nil {
		c.JSON(http.StatusOK, response)
		return
	}

	limit := 0
	if params.Limit != nil {
		limit = *params.Limit
	}

	list, err := h.history.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("推定履歴の取得に失敗しました", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "history_unavailable", "推定履歴を取得できません")
		return
	}
	for _, p := range list {
		response.Predictions = append(response.Predictions, convertPrediction(p))
	}

	c.JSON(http.StatusOK, response)
}

// GetPrediction は推定結果取得エンドポイントの実装
func (h *PlantHandler) GetPrediction(c *gin.Context, id string) {
	if h.history == nil {
		abortWithError(c, http.StatusNotFound, "prediction_not_found", "指定された推定結果が見つかりません")
		return
	}

	p, err := h.history.Get(c.Request.Context(), id)
	if errors.Is(err, history.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "prediction_not_found", "指定された推定結果が見つかりません")
		return
	}
	if err != nil {
		h.logger.Error("推定結果の取得に失敗しました", zap.String("id", id), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "history_unavailable", "推定履歴を取得できません")
		return
	}

	c.JSON(http.StatusOK, convertPrediction(p))
}

// GetOpenAPI は埋め込んだOpenAPI定義を返す
func (h *PlantHandler) GetOpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", generated.RawSpec())
}

// GetEvents はイベント配信用のWebSocketを開く
func (h *PlantHandler) GetEvents(c *gin.Context) {
	h.hub.HandleWebSocket(c.Writer, c.Request)
}

// ヘルパー関数

// convertCameraState はカメラの状態を変換する
func convertCameraState(s camera.State) generated.CameraStatusState {
	switch s {
	case camera.StateOpenActive:
		return generated.OpenActive
	case camera.StateOpenInactive:
		return generated.OpenInactive
	default:
		return generated.Uninitialized
	}
}

// convertPrediction は推定結果をレスポンスの形に変換する
func convertPrediction(p predict.Prediction) generated.Prediction {
	out := generated.Prediction{
		Id:          p.ID,
		Source:      generated.PredictionSource(p.Source),
		ImagePath:   p.ImagePath,
		Class:       p.Class,
		Label:       p.Label.Name,
		DisplayName: p.Label.DisplayName(),
		Confidence:  p.Confidence,
		CreatedAt:   p.CreatedAt,
	}
	if p.Label.Cause != "" {
		out.Cause = stringPtr(p.Label.Cause)
	}
	if p.Label.Cure != "" {
		out.Cure = stringPtr(p.Label.Cure)
	}
	return out
}

// abortWithError はエラーレスポンスを返して処理を中断する
func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, generated.ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}
