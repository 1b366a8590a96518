package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vnkhanh/quizcraft-backend/services"
)

type GenerateQuizRequest struct {
	SourceURL     string          `json:"source_url" binding:"required"`
	Title         string          `json:"title"`
	ManualPayload json.RawMessage `json:"manual_payload"`
}

// GenerateQuiz xử lý POST /api/quizzes/generate: chạy pipeline
// scrape → sinh đáp án sai → lưu DB và trả về QuizSummary.
// Mọi lỗi trả về dạng {error: {code, message, details}}; riêng
// SCRAPER_FAILED thì details.apiUrl là URL để người dùng tự fetch
// và gửi lại qua manual_payload.
func GenerateQuiz(orc *services.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		db := c.MustGet("db").(*gorm.DB)
		userIDStr := c.GetString("user_id")

		userUUID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id không hợp lệ"})
			return
		}

		var body GenerateQuizRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Dữ liệu gửi lên không hợp lệ",
			}})
			return
		}

		title := strings.TrimSpace(body.Title)
		// Đếm theo ký tự, không theo byte: tiêu đề tiếng Việt nhiều byte hơn
		if utf8.RuneCountInString(title) > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Tiêu đề tối đa 200 ký tự",
			}})
			return
		}

		correlationID := uuid.NewString()
		c.Header("X-Correlation-ID", correlationID)

		summary, err := orc.Generate(c.Request.Context(), db, services.GenerateRequest{
			SourceURL:     body.SourceURL,
			Title:         title,
			ManualPayload: body.ManualPayload,
			CorrelationID: correlationID,
		}, userUUID)
		if err != nil {
			pe := services.AsPipelineError(err)
			c.JSON(pe.HTTPStatus(), gin.H{"error": gin.H{
				"code":    pe.Code,
				"message": pe.Message,
				"details": pe.Details,
			}})
			return
		}

		c.JSON(http.StatusCreated, summary)
	}
}
