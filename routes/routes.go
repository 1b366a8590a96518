package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/vnkhanh/quizcraft-backend/controllers"
	"github.com/vnkhanh/quizcraft-backend/middleware"
	"github.com/vnkhanh/quizcraft-backend/services"
	"github.com/vnkhanh/quizcraft-backend/ws"
	"gorm.io/gorm"
)

func SetupRouter(r *gin.Engine, db *gorm.DB, orc *services.Orchestrator) *gin.Engine {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/health", controllers.HealthCheck)

	api := r.Group("/api")

	quizzes := api.Group("/quizzes")
	{
		quizzes.Use(middleware.AuthMiddleware(), middleware.DBMiddleware(db))
		quizzes.POST("/generate", controllers.GenerateQuiz(orc))
	}

	// Theo dõi tiến trình sinh quiz theo correlation id
	r.GET("/ws/generation/:id", ws.HandleGenerationWebSocket)

	return r
}
