package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apitypes "github.com/weisyn/ledgernode/internal/api/types"
)

// Recovery 捕获处理器 panic，返回 Problem Details
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			problem := apitypes.NewProblemDetails(
				apitypes.CodeCommonInternalError,
				apitypes.LayerLedgerService,
				"服务器内部错误，请稍后重试或联系管理员。",
				fmt.Sprintf("Panic recovered: %v", rec),
				http.StatusInternalServerError,
				map[string]interface{}{"path": c.Request.URL.Path},
			)
			logger.Error("HTTP handler panic recovered",
				zap.String("traceId", problem.TraceID),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", rec))
			if !c.Writer.Written() {
				problem.WriteJSON(c.Writer)
			}
			c.Abort()
		}()
		c.Next()
	}
}
