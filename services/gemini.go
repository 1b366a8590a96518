package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultGeminiModel = "gemini-2.0-flash"
	geminiTimeout      = 30 * time.Second
	geminiRetries      = 3
)

// QuestionMetadata ghi lại cách một câu hỏi được sinh ra, lưu kèm câu hỏi
// để có thể tái sinh đáp án sau này với cùng tham số.
type QuestionMetadata struct {
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	Seed        *int32  `json:"seed,omitempty"`
	Prompt      string  `json:"prompt"`
	GeneratedAt string  `json:"generated_at"`
}

// GeneratedQuestion là một câu hỏi hoàn chỉnh do Gemini sinh:
// đáp án đúng giữ nguyên văn từ flashcard, kèm đúng 3 đáp án sai.
// Metadata là provenance của riêng câu này: chế độ batch thì các câu
// dùng chung một prompt, chế độ từng câu thì mỗi câu một prompt riêng.
type GeneratedQuestion struct {
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correctAnswer"`
	IncorrectAnswers []string `json:"incorrectAnswers"`

	Metadata QuestionMetadata `json:"-"`
}

// GeneratedQuiz là kết quả chế độ batch: một lần gọi cho cả set.
type GeneratedQuiz struct {
	Title     string              `json:"title"`
	Questions []GeneratedQuestion `json:"questions"`
}

// DistractorResult là kết quả chế độ từng câu (dùng cho tái sinh đáp án).
type DistractorResult struct {
	IncorrectAnswers []string         `json:"incorrectAnswers"`
	Metadata         QuestionMetadata `json:"-"`
}

// GeminiGenerator sinh đáp án sai bằng Gemini. Chế độ batch gọi một lần cho
// cả set để tránh rate limit; chế độ từng câu dành cho tái sinh đáp án lẻ.
type GeminiGenerator struct {
	apiKey  string
	model   string
	timeout time.Duration
}

func NewGeminiGenerator() *GeminiGenerator {
	model := os.Getenv("GEMINI_MODEL")
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiGenerator{
		apiKey:  os.Getenv("GEMINI_API_KEY"),
		model:   model,
		timeout: geminiTimeout,
	}
}

// GenerateBatch sinh toàn bộ câu hỏi cho một set flashcard trong một lần gọi.
// Response phải là JSON đúng cấu trúc {title, questions[]} với đúng 3 đáp án
// sai không rỗng cho mỗi câu; sai cấu trúc → INVALID_RESPONSE_DATA.
func (g *GeminiGenerator) GenerateBatch(ctx context.Context, cards []Flashcard, topic string, temperature float32, seed *int32) (*GeneratedQuiz, error) {
	prompt := buildBatchPrompt(cards, topic)

	raw, err := g.callGemini(ctx, prompt, temperature)
	if err != nil {
		return nil, err
	}

	quiz, err := parseBatchResponse(raw)
	if err != nil {
		return nil, err
	}

	meta := QuestionMetadata{
		Model:       g.model,
		Temperature: temperature,
		Seed:        seed,
		Prompt:      prompt,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for i := range quiz.Questions {
		quiz.Questions[i].Metadata = meta
	}
	return quiz, nil
}

// GenerateDistractors sinh đúng 3 đáp án sai cho một câu hỏi đơn lẻ.
func (g *GeminiGenerator) GenerateDistractors(ctx context.Context, term, correctAnswer string, temperature float32, seed *int32) (*DistractorResult, error) {
	prompt := buildSinglePrompt(term, correctAnswer)

	raw, err := g.callGemini(ctx, prompt, temperature)
	if err != nil {
		return nil, err
	}

	answers, err := parseDistractorResponse(raw)
	if err != nil {
		return nil, err
	}

	return &DistractorResult{
		IncorrectAnswers: answers,
		Metadata: QuestionMetadata{
			Model:       g.model,
			Temperature: temperature,
			Seed:        seed,
			Prompt:      prompt,
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

// callGemini gọi model dưới deadline cứng, retry lỗi vận chuyển với backoff
// tuyến tính. Lỗi bị chặn nội dung và timeout không retry.
func (g *GeminiGenerator) callGemini(parent context.Context, prompt string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(parent, g.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", NewPipelineError(CodeAPIGenerationFailed, "Không thể tạo Gemini client").WithCause(err)
	}
	defer client.Close()

	// SDK hiện chưa expose tham số seed; seed chỉ được ghi vào metadata
	model := client.GenerativeModel(g.model)
	model.SetTemperature(temperature)

	var lastErr error
	for attempt := 0; attempt < geminiRetries; attempt++ {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", NewPipelineError(CodeAPIGenerationFailed, "Gemini vượt quá thời gian chờ").WithCause(ctx.Err())
			}
			if parent.Err() != nil {
				return "", NewPipelineError(CodeAPIGenerationFailed, "Yêu cầu đã bị huỷ").WithCause(parent.Err())
			}
			lastErr = err
			log.Printf("Gemini lỗi (lần %d/%d): %v", attempt+1, geminiRetries, err)
			if err := sleepWithContext(ctx, time.Duration(attempt+1)*time.Second); err != nil {
				return "", NewPipelineError(CodeAPIGenerationFailed, "Yêu cầu đã bị huỷ").WithCause(err)
			}
			continue
		}

		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return "", NewPipelineError(CodeContentBlocked, "Gemini chặn nội dung prompt").
				WithDetail("block_reason", resp.PromptFeedback.BlockReason.String())
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
				return "", NewPipelineError(CodeContentBlocked, "Gemini chặn nội dung trả về")
			}
			return "", NewPipelineError(CodeAPIGenerationFailed, "Gemini không trả kết quả nào")
		}

		var sb strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		return sb.String(), nil
	}

	return "", NewPipelineError(CodeAPIGenerationFailed, "Gemini lỗi sau nhiều lần thử").WithCause(lastErr)
}

// sleepWithContext chờ backoff giữa các lần retry, cắt ngay khi context bị huỷ
// để client đã ngắt kết nối không phải chờ hết backoff.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildBatchPrompt(cards []Flashcard, topic string) string {
	var sb strings.Builder
	sb.WriteString(`Bạn là AI tạo câu hỏi trắc nghiệm từ flashcard.
Với mỗi flashcard dưới đây, hãy tạo đúng 3 đáp án sai (distractor).

Yêu cầu:
- Giữ nguyên văn "term" làm câu hỏi và "definition" làm đáp án đúng, không sửa chữ nào.
- Đáp án sai phải cùng chủ đề, cùng độ dài và văn phong với đáp án đúng.
- Đáp án sai phải rõ ràng là sai với người nắm vững kiến thức, không gây nhập nhằng.
- Nếu đáp án đúng là một mệnh đề meta (ví dụ "hai trong số này đúng"), các đáp án sai phải được dựng sao cho mệnh đề đó vẫn đúng.
- Đặt tiêu đề ngắn gọn cho cả bộ câu hỏi dựa trên chủ đề.

Trả về JSON hợp lệ đúng cấu trúc, không thêm bất kỳ văn bản nào khác:
{
  "title": "Tiêu đề bộ câu hỏi",
  "questions": [
    {
      "question": "term của flashcard",
      "correctAnswer": "definition của flashcard",
      "incorrectAnswers": ["đáp án sai 1", "đáp án sai 2", "đáp án sai 3"]
    }
  ]
}

`)
	sb.WriteString(fmt.Sprintf("Chủ đề: %s\n\nDanh sách flashcard (%d thẻ):\n", topic, len(cards)))
	for i, card := range cards {
		sb.WriteString(fmt.Sprintf("%d. term: %q — definition: %q\n", i+1, card.Term, card.Definition))
	}
	return sb.String()
}

func buildSinglePrompt(term, correctAnswer string) string {
	return fmt.Sprintf(`Bạn là AI tạo đáp án sai cho câu hỏi trắc nghiệm.
Hãy tạo đúng 3 đáp án sai cho câu hỏi sau.

Câu hỏi: %s
Đáp án đúng: %s

Yêu cầu:
- Đáp án sai phải cùng chủ đề, cùng độ dài và văn phong với đáp án đúng.
- Đáp án sai phải rõ ràng là sai với người nắm vững kiến thức.
- Nếu đáp án đúng là một mệnh đề meta, các đáp án sai phải giữ cho mệnh đề đó vẫn đúng.

Trả về JSON hợp lệ đúng cấu trúc, không thêm bất kỳ văn bản nào khác:
{"incorrectAnswers": ["đáp án sai 1", "đáp án sai 2", "đáp án sai 3"]}`, term, correctAnswer)
}

// parseBatchResponse kiểm tra response batch: JSON hợp lệ, tiêu đề không rỗng,
// mỗi câu đủ trường và đúng 3 đáp án sai. Không cắt bớt, không đệm thêm.
func parseBatchResponse(raw string) (*GeneratedQuiz, error) {
	clean := cleanGeminiJSON(raw)
	if clean == "" {
		return nil, NewPipelineError(CodeAPIGenerationFailed, "Gemini trả về nội dung rỗng")
	}

	var quiz GeneratedQuiz
	if err := json.Unmarshal([]byte(clean), &quiz); err != nil {
		return nil, NewPipelineError(CodeInvalidResponseData, "Response Gemini không phải JSON hợp lệ").
			WithCause(err).
			WithDetail("raw", truncateRaw([]byte(raw)))
	}

	if strings.TrimSpace(quiz.Title) == "" {
		return nil, NewPipelineError(CodeInvalidResponseData, "Response Gemini thiếu tiêu đề")
	}
	if len(quiz.Questions) == 0 {
		return nil, NewPipelineError(CodeInvalidResponseData, "Response Gemini không có câu hỏi nào")
	}
	for i, q := range quiz.Questions {
		if strings.TrimSpace(q.Question) == "" || strings.TrimSpace(q.CorrectAnswer) == "" {
			return nil, NewPipelineError(CodeInvalidResponseData, "Câu hỏi trong response thiếu trường bắt buộc").
				WithDetail("index", i)
		}
		if err := checkIncorrectAnswers(q.IncorrectAnswers); err != nil {
			return nil, err.WithDetail("index", i)
		}
	}
	return &quiz, nil
}

// parseDistractorResponse kiểm tra response chế độ từng câu.
func parseDistractorResponse(raw string) ([]string, error) {
	clean := cleanGeminiJSON(raw)
	if clean == "" {
		return nil, NewPipelineError(CodeAPIGenerationFailed, "Gemini trả về nội dung rỗng")
	}

	var result struct {
		IncorrectAnswers []string `json:"incorrectAnswers"`
	}
	if err := json.Unmarshal([]byte(clean), &result); err != nil {
		return nil, NewPipelineError(CodeInvalidResponseData, "Response Gemini không phải JSON hợp lệ").
			WithCause(err).
			WithDetail("raw", truncateRaw([]byte(raw)))
	}
	if err := checkIncorrectAnswers(result.IncorrectAnswers); err != nil {
		return nil, err
	}
	return result.IncorrectAnswers, nil
}

func checkIncorrectAnswers(answers []string) *PipelineError {
	if len(answers) != 3 {
		return NewPipelineError(CodeInvalidResponseData, "Phải có đúng 3 đáp án sai").
			WithDetail("count", len(answers))
	}
	for _, a := range answers {
		if strings.TrimSpace(a) == "" {
			return NewPipelineError(CodeInvalidResponseData, "Đáp án sai không được rỗng")
		}
	}
	return nil
}

// cleanGeminiJSON bỏ code fence markdown mà Gemini hay bọc quanh JSON.
func cleanGeminiJSON(raw string) string {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "`")
	clean = strings.TrimPrefix(clean, "json")
	return strings.TrimSpace(clean)
}
