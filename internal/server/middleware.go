package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"plantai/internal/generated"
)

// requestLogger はリクエストごとにアクセスログを出力する
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("リクエスト", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("リクエスト", fields...)
		default:
			logger.Debug("リクエスト", fields...)
		}
	}
}

// requestValidator はOpenAPI定義に照らしてリクエストを検証する
// 生成されたハンドラーのミドルウェアとして使い、不正なら中断する
func requestValidator(doc *openapi3.T) (generated.MiddlewareFunc, error) {
	// サーバーURLに関係なくパスだけで照合する
	doc.Servers = nil

	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		route, pathParams, err := router.FindRoute(c.Request)
		if err != nil {
			return
		}

		input := &openapi3filter.RequestValidationInput{
			Request:    c.Request,
			PathParams: pathParams,
			Route:      route,
			Options: &openapi3filter.Options{
				AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
			},
		}
		if err := openapi3filter.ValidateRequest(c.Request.Context(), input); err != nil {
			// 最初の行だけ返す
			msg := strings.SplitN(err.Error(), "\n", 2)[0]
			abortWithError(c, http.StatusBadRequest, "invalid_request", msg)
		}
	}, nil
}
