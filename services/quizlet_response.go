package services

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Flashcard là một cặp thuật ngữ / định nghĩa lấy từ Quizlet.
// Term thành câu hỏi, Definition thành đáp án đúng.
type Flashcard struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

type FlashcardSet struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Flashcards []Flashcard `json:"flashcards"`
}

// Cấu trúc response của endpoint studiable-item-documents:
// mỗi studiableItem có 2 cardSides, mỗi side có media[0].plainText.
type studiableDocumentResponse struct {
	Responses []struct {
		Models struct {
			StudiableItem []studiableItem `json:"studiableItem"`
		} `json:"models"`
	} `json:"responses"`
}

type studiableItem struct {
	ID        json.Number `json:"id"`
	CardSides []cardSide  `json:"cardSides"`
}

type cardSide struct {
	Label string      `json:"label"`
	Media []cardMedia `json:"media"`
}

type cardMedia struct {
	Type      int    `json:"type"`
	PlainText string `json:"plainText"`
}

// FieldViolation ghi lại một vi phạm schema: đường dẫn trường + thông báo.
type FieldViolation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

const maxRawDetailLen = 2048

// ValidateQuizletResponse kiểm tra payload thô của Quizlet theo schema đã biết
// và chuyển thành FlashcardSet chuẩn hoá. Dùng chung cho cả đường scrape tự động
// và đường dán tay, bảo đảm hai đường cho ra kết quả giống hệt nhau.
//
// Payload sai cấu trúc → DATA_VALIDATION_ERROR kèm danh sách vi phạm;
// payload hợp lệ nhưng không có thẻ nào → QUIZLET_EMPTY.
func ValidateQuizletResponse(raw []byte, titleGuess, setID string) (*FlashcardSet, error) {
	var doc studiableDocumentResponse
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, NewPipelineError(CodeDataValidation, "Payload không phải JSON theo cấu trúc Quizlet").
			WithCause(err).
			WithDetail("raw", truncateRaw(raw))
	}

	if len(doc.Responses) == 0 {
		return nil, NewPipelineError(CodeDataValidation, "Payload thiếu trường responses").
			WithDetail("violations", []FieldViolation{{Path: "responses", Message: "phải có ít nhất 1 phần tử"}}).
			WithDetail("raw", truncateRaw(raw))
	}

	items := doc.Responses[0].Models.StudiableItem
	if len(items) == 0 {
		return nil, NewPipelineError(CodeSetEmpty, "Set Quizlet không có thẻ nào").
			WithDetail("set_id", setID)
	}

	violations := []FieldViolation{}
	cards := make([]Flashcard, 0, len(items))

	for i, item := range items {
		base := fmt.Sprintf("responses[0].models.studiableItem[%d]", i)

		if len(item.CardSides) < 2 {
			violations = append(violations, FieldViolation{
				Path:    base + ".cardSides",
				Message: fmt.Sprintf("cần 2 card sides, nhận được %d", len(item.CardSides)),
			})
			continue
		}

		term, ok := sideText(item.CardSides[0])
		if !ok {
			violations = append(violations, FieldViolation{
				Path:    base + ".cardSides[0].media[0].plainText",
				Message: "thiếu hoặc rỗng",
			})
		}
		definition, ok := sideText(item.CardSides[1])
		if !ok {
			violations = append(violations, FieldViolation{
				Path:    base + ".cardSides[1].media[0].plainText",
				Message: "thiếu hoặc rỗng",
			})
		}

		cards = append(cards, Flashcard{Term: term, Definition: definition})
	}

	if len(violations) > 0 {
		return nil, NewPipelineError(CodeDataValidation, "Payload Quizlet không đúng schema").
			WithDetail("violations", violations).
			WithDetail("raw", truncateRaw(raw))
	}

	// Giữ nguyên thứ tự thẻ của Quizlet, không sắp xếp lại, không khử trùng lặp
	return &FlashcardSet{
		ID:         setID,
		Title:      titleGuess,
		Flashcards: cards,
	}, nil
}

// ParseManualImport xử lý payload do người dùng dán tay sau khi scraper thất bại.
// Đi qua đúng validator của đường tự động.
func ParseManualImport(raw json.RawMessage, titleGuess, setID string) (*FlashcardSet, error) {
	if len(raw) == 0 {
		return nil, NewPipelineError(CodeDataValidation, "manual_payload rỗng")
	}
	return ValidateQuizletResponse(raw, titleGuess, setID)
}

func sideText(side cardSide) (string, bool) {
	if len(side.Media) == 0 {
		return "", false
	}
	text := strings.TrimSpace(side.Media[0].PlainText)
	return text, text != ""
}

func truncateRaw(raw []byte) string {
	if len(raw) > maxRawDetailLen {
		return string(raw[:maxRawDetailLen]) + "..."
	}
	return string(raw)
}
