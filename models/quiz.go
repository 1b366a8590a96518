package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type QuizStatus string

const (
	QuizStatusDraft     QuizStatus = "draft"
	QuizStatusPublished QuizStatus = "published"
)

// Nguồn gốc của một đáp án: lấy nguyên văn từ Quizlet, do AI sinh,
// hoặc do người dùng sửa lại đáp án AI.
type AnswerSource string

const (
	AnswerSourcePlatform AnswerSource = "platform"
	AnswerSourceAI       AnswerSource = "ai"
	AnswerSourceAIEdited AnswerSource = "ai-edited"
)

type Quiz struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	User   User      `gorm:"constraint:OnDelete:CASCADE;" json:"-"`

	Title        string     `gorm:"size:200;not null" json:"title"`
	Status       QuizStatus `gorm:"type:varchar(20);not null;default:'draft'" json:"status"`
	SourceURL    string     `gorm:"type:text;not null" json:"source_url"`
	QuizletSetID string     `gorm:"size:32;not null;index" json:"quizlet_set_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Questions []QuizQuestion `gorm:"foreignKey:QuizID" json:"questions,omitempty"`
}

type QuizQuestion struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	QuizID uuid.UUID `gorm:"type:uuid;not null;index" json:"quiz_id"`
	Quiz   Quiz      `gorm:"foreignKey:QuizID;references:ID;constraint:OnDelete:CASCADE;" json:"-"`

	QuestionText string `gorm:"type:text;not null" json:"question_text"`
	// JSON ghi lại model, temperature, seed và prompt đã dùng để sinh câu hỏi
	// (cần cho việc tái sinh đáp án sau này).
	Metadata string `gorm:"type:text" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Answers []QuizAnswer `gorm:"foreignKey:QuestionID" json:"answers,omitempty"`
}

type QuizAnswer struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	QuestionID uuid.UUID    `gorm:"type:uuid;not null;index" json:"question_id"`
	Question   QuizQuestion `gorm:"foreignKey:QuestionID;references:ID;constraint:OnDelete:CASCADE;" json:"-"`

	AnswerText string       `gorm:"type:text;not null" json:"answer_text"`
	IsCorrect  bool         `gorm:"default:false" json:"is_correct"`
	Source     AnswerSource `gorm:"type:varchar(16);not null;default:'ai'" json:"source"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// uuid sinh phía ứng dụng để không phụ thuộc hàm sinh uuid của từng DB

func (q *Quiz) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

func (q *QuizQuestion) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

func (a *QuizAnswer) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
