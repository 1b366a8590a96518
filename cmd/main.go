package main

import (
	"log"
	"os"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/vnkhanh/quizcraft-backend/config"
	"github.com/vnkhanh/quizcraft-backend/routes"
	"github.com/vnkhanh/quizcraft-backend/services"
	"github.com/vnkhanh/quizcraft-backend/utils"
	"github.com/vnkhanh/quizcraft-backend/ws"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("Không tìm thấy file .env")
	}

	config.InitDB()

	// Lắp pipeline sinh quiz
	opts := []services.OrchestratorOption{
		services.WithProgressNotifier(&ws.H),
	}
	if archiver := utils.NewSupabaseCaptureArchiver(); archiver != nil {
		opts = append(opts, services.WithCaptureArchiver(archiver))
	}
	if os.Getenv("GENERATION_MODE") == "per-question" {
		opts = append(opts, services.WithPerQuestionMode())
	}
	orc := services.NewOrchestrator(services.NewQuizletScraper(), services.NewGeminiGenerator(), opts...)

	r := gin.Default()

	//Bật CORS
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Correlation-ID"},
		AllowCredentials: true,
	}))
	// Gọi SetupRouter để đăng ký route
	r = routes.SetupRouter(r, config.DB, orc)

	// Lấy PORT từ env
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080" // mặc định nếu không có PORT
	}

	log.Println("Server running at Port:" + port)
	r.Run(":" + port)
}
