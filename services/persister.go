package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vnkhanh/quizcraft-backend/models"
)

// QuizSummary trả về cho client ngay sau khi tạo, kèm số câu hỏi
// để không phải đọc lại DB.
type QuizSummary struct {
	ID            uuid.UUID         `json:"id"`
	Title         string            `json:"title"`
	Status        models.QuizStatus `json:"status"`
	SourceURL     string            `json:"source_url"`
	QuizletSetID  string            `json:"quizlet_set_id"`
	QuestionCount int               `json:"question_count"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// PersistQuiz ghi quiz + câu hỏi + đáp án theo thứ tự: quiz trước, rồi từng
// câu hỏi với 4 đáp án của nó trong một lần create. Data layer không dùng
// transaction nhiều bảng, nên nếu ghi dở chừng thất bại thì phải tự xoá bù:
// answers → questions → quiz, theo đúng thứ tự đó, không dựa vào cascade
// của DB. Người dùng không bao giờ thấy quiz thiếu câu hỏi hay đáp án.
func PersistQuiz(ctx context.Context, db *gorm.DB, title, sourceURL, setID string, owner uuid.UUID, questions []GeneratedQuestion) (*QuizSummary, error) {
	db = db.WithContext(ctx)

	quiz := models.Quiz{
		UserID:       owner,
		Title:        title,
		Status:       models.QuizStatusDraft,
		SourceURL:    sourceURL,
		QuizletSetID: setID,
	}
	if err := db.Create(&quiz).Error; err != nil {
		// Quiz chưa ghi được thì không có gì để xoá bù
		return nil, NewPipelineError(CodeDatabaseError, "Không thể tạo quiz").WithCause(err)
	}

	for _, gq := range questions {
		// Mỗi câu lưu provenance của riêng nó: prompt của chế độ từng câu
		// khác nhau theo từng thẻ
		metaJSON, err := json.Marshal(gq.Metadata)
		if err != nil {
			rollbackQuiz(db, quiz.ID)
			return nil, NewPipelineError(CodeInternalError, "Không thể serialize metadata").WithCause(err)
		}

		question := models.QuizQuestion{
			QuizID:       quiz.ID,
			QuestionText: gq.Question,
			Metadata:     string(metaJSON),
		}
		if err := db.Create(&question).Error; err != nil {
			rollbackQuiz(db, quiz.ID)
			return nil, NewPipelineError(CodeDatabaseError, "Không thể tạo câu hỏi").WithCause(err)
		}

		// 1 đáp án đúng nguyên văn từ Quizlet + 3 đáp án sai do AI sinh,
		// ghi trong một lần create
		answers := make([]models.QuizAnswer, 0, 4)
		answers = append(answers, models.QuizAnswer{
			QuestionID: question.ID,
			AnswerText: gq.CorrectAnswer,
			IsCorrect:  true,
			Source:     models.AnswerSourcePlatform,
		})
		for _, wrong := range gq.IncorrectAnswers {
			answers = append(answers, models.QuizAnswer{
				QuestionID: question.ID,
				AnswerText: wrong,
				IsCorrect:  false,
				Source:     models.AnswerSourceAI,
			})
		}
		if err := db.Create(&answers).Error; err != nil {
			rollbackQuiz(db, quiz.ID)
			return nil, NewPipelineError(CodeDatabaseError, "Không thể tạo đáp án").WithCause(err)
		}
	}

	// Xác nhận đủ hàng trước khi báo thành công
	if err := verifyQuizComplete(db, quiz.ID, len(questions)); err != nil {
		rollbackQuiz(db, quiz.ID)
		return nil, err
	}

	return &QuizSummary{
		ID:            quiz.ID,
		Title:         quiz.Title,
		Status:        quiz.Status,
		SourceURL:     quiz.SourceURL,
		QuizletSetID:  quiz.QuizletSetID,
		QuestionCount: len(questions),
		CreatedAt:     quiz.CreatedAt,
		UpdatedAt:     quiz.UpdatedAt,
	}, nil
}

func verifyQuizComplete(db *gorm.DB, quizID uuid.UUID, wantQuestions int) error {
	var questionCount int64
	if err := db.Model(&models.QuizQuestion{}).Where("quiz_id = ?", quizID).Count(&questionCount).Error; err != nil {
		return NewPipelineError(CodeDatabaseError, "Không thể kiểm tra số câu hỏi").WithCause(err)
	}
	var answerCount int64
	if err := db.Model(&models.QuizAnswer{}).
		Joins("JOIN quiz_questions ON quiz_questions.id = quiz_answers.question_id").
		Where("quiz_questions.quiz_id = ?", quizID).
		Count(&answerCount).Error; err != nil {
		return NewPipelineError(CodeDatabaseError, "Không thể kiểm tra số đáp án").WithCause(err)
	}
	if int(questionCount) != wantQuestions || int(answerCount) != wantQuestions*4 {
		return NewPipelineError(CodeDatabaseError, "Quiz ghi thiếu hàng").
			WithDetail("questions", questionCount).
			WithDetail("answers", answerCount)
	}
	return nil
}

// rollbackQuiz xoá bù một quiz ghi dở: answers → questions → quiz.
// Lỗi khi xoá bù chỉ được log, lỗi gốc của pipeline vẫn được trả về.
func rollbackQuiz(db *gorm.DB, quizID uuid.UUID) {
	var questionIDs []uuid.UUID
	if err := db.Model(&models.QuizQuestion{}).Where("quiz_id = ?", quizID).Pluck("id", &questionIDs).Error; err != nil {
		log.Printf("Rollback quiz %s: không lấy được danh sách câu hỏi: %v", quizID, err)
	}
	if len(questionIDs) > 0 {
		if err := db.Where("question_id IN ?", questionIDs).Delete(&models.QuizAnswer{}).Error; err != nil {
			log.Printf("Rollback quiz %s: không xoá được đáp án: %v", quizID, err)
		}
	}
	if err := db.Where("quiz_id = ?", quizID).Delete(&models.QuizQuestion{}).Error; err != nil {
		log.Printf("Rollback quiz %s: không xoá được câu hỏi: %v", quizID, err)
	}
	if err := db.Delete(&models.Quiz{}, "id = ?", quizID).Error; err != nil {
		log.Printf("Rollback quiz %s: không xoá được quiz: %v", quizID, err)
	}
}
