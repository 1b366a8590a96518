package services

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/vnkhanh/quizcraft-backend/models"
)

type stubScraper struct {
	set   *FlashcardSet
	err   error
	calls int
}

func (s *stubScraper) Scrape(ctx context.Context, loc *SetLocation) (*FlashcardSet, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.set, nil
}

type stubGenerator struct {
	err error

	mu          sync.Mutex
	batchCalls  int
	singleCalls int
	failOnTerm  string
}

func (g *stubGenerator) GenerateBatch(ctx context.Context, cards []Flashcard, topic string, temperature float32, seed *int32) (*GeneratedQuiz, error) {
	g.mu.Lock()
	g.batchCalls++
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}

	questions := make([]GeneratedQuestion, 0, len(cards))
	for _, card := range cards {
		questions = append(questions, GeneratedQuestion{
			Question:         card.Term,
			CorrectAnswer:    card.Definition,
			IncorrectAnswers: []string{"sai 1", "sai 2", "sai 3"},
			Metadata:         QuestionMetadata{Model: "stub", Temperature: temperature, Seed: seed, Prompt: "prompt batch"},
		})
	}
	return &GeneratedQuiz{Title: topic, Questions: questions}, nil
}

func (g *stubGenerator) GenerateDistractors(ctx context.Context, term, correctAnswer string, temperature float32, seed *int32) (*DistractorResult, error) {
	g.mu.Lock()
	g.singleCalls++
	g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	if g.failOnTerm != "" && term == g.failOnTerm {
		return nil, NewPipelineError(CodeContentBlocked, "Gemini chặn nội dung prompt")
	}
	return &DistractorResult{
		IncorrectAnswers: []string{term + " sai 1", term + " sai 2", term + " sai 3"},
		Metadata:         QuestionMetadata{Model: "stub", Temperature: temperature, Prompt: "prompt cho " + term},
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	states []string
}

func (n *recordingNotifier) NotifyProgress(correlationID, state, errorCode string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if errorCode != "" {
		state = state + ":" + errorCode
	}
	n.states = append(n.states, state)
}

func sampleSet(n int) *FlashcardSet {
	cards := make([]Flashcard, 0, n)
	for i := 0; i < n; i++ {
		cards = append(cards, Flashcard{
			Term:       fmt.Sprintf("Thuật ngữ %d", i+1),
			Definition: fmt.Sprintf("Định nghĩa %d", i+1),
		})
	}
	return &FlashcardSet{ID: "123456789", Title: "Sinh học", Flashcards: cards}
}

func TestGenerateHappyPath(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db)

	scraper := &stubScraper{set: sampleSet(3)}
	generator := &stubGenerator{}
	notifier := &recordingNotifier{}
	orc := NewOrchestrator(scraper, generator, WithProgressNotifier(notifier))

	summary, err := orc.Generate(context.Background(), db, GenerateRequest{
		SourceURL: "https://quizlet.com/123456789/biology-flash-cards/",
	}, owner)
	if err != nil {
		t.Fatalf("Generate lỗi: %v", err)
	}

	if summary.QuestionCount != 3 {
		t.Errorf("QuestionCount = %d, muốn 3", summary.QuestionCount)
	}
	if summary.Title != "Biology" {
		t.Errorf("Title = %q, muốn tiêu đề suy từ URL", summary.Title)
	}
	if summary.SourceURL != "https://quizlet.com/123456789/biology/" {
		t.Errorf("SourceURL = %q, muốn URL chuẩn hoá", summary.SourceURL)
	}
	if generator.batchCalls != 1 {
		t.Errorf("batchCalls = %d, muốn 1", generator.batchCalls)
	}

	if n := countRows(t, db, &models.QuizQuestion{}); n != 3 {
		t.Errorf("số câu hỏi trong DB = %d, muốn 3", n)
	}
	if n := countRows(t, db, &models.QuizAnswer{}); n != 12 {
		t.Errorf("số đáp án trong DB = %d, muốn 12", n)
	}

	want := []string{"locating_set", "fetching_flashcards", "generating_distractors", "persisting", "done"}
	if !reflect.DeepEqual(notifier.states, want) {
		t.Errorf("chuỗi trạng thái = %v, muốn %v", notifier.states, want)
	}
}

func TestGenerateTitleOverride(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db)
	orc := NewOrchestrator(&stubScraper{set: sampleSet(1)}, &stubGenerator{})

	summary, err := orc.Generate(context.Background(), db, GenerateRequest{
		SourceURL: "https://quizlet.com/123456789/biology-flash-cards/",
		Title:     "Đề ôn tập giữa kỳ",
	}, owner)
	if err != nil {
		t.Fatalf("Generate lỗi: %v", err)
	}
	if summary.Title != "Đề ôn tập giữa kỳ" {
		t.Errorf("Title = %q, tiêu đề người dùng phải được ưu tiên", summary.Title)
	}
}

func TestGenerateInvalidURL(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db)

	scraper := &stubScraper{set: sampleSet(1)}
	notifier := &recordingNotifier{}
	orc := NewOrchestrator(scraper, &stubGenerator{}, WithProgressNotifier(notifier))

	_, err := orc.Generate(context.Background(), db, GenerateRequest{
		SourceURL: "https://example.com/123/",
	}, owner)
	pe := AsPipelineError(err)
	if pe.Code != CodeInvalidSourceURL {
		t.Fatalf("Code = %s, muốn %s", pe.Code, CodeInvalidSourceURL)
	}
	if scraper.calls != 0 {
		t.Errorf("scraper bị gọi %d lần dù URL sai", scraper.calls)
	}

	last := notifier.states[len(notifier.states)-1]
	if last != "aborted:INVALID_SOURCE_URL" {
		t.Errorf("trạng thái cuối = %q, muốn aborted kèm mã lỗi", last)
	}
}

// Lỗi của stage nào phải được trả nguyên mã và chi tiết của stage đó,
// orchestrator chỉ gắn thêm correlation_id.
func TestGeneratePreservesStageError(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db)

	apiURL := StudiableItemsURL("123456789")
	scraper := &stubScraper{err: scraperFailed(apiURL, "Không lấy được dữ liệu set", nil)}
	orc := NewOrchestrator(scraper, &stubGenerator{})

	_, err := orc.Generate(context.Background(), db, GenerateRequest{
		SourceURL:     "https://quizlet.com/123456789/biology-flash-cards/",
		CorrelationID: "cid-1",
	}, owner)
	pe := AsPipelineError(err)
	if pe.Code != CodeScraperFailed {
		t.Fatalf("Code = %s, muốn %s", pe.Code, CodeScraperFailed)
	}
	if pe.Details["apiUrl"] != apiURL {
		t.Errorf("details.apiUrl = %v, muốn %q", pe.Details["apiUrl"], apiURL)
	}
	if pe.Details["correlation_id"] != "cid-1" {
		t.Errorf("details.correlation_id = %v, muốn cid-1", pe.Details["correlation_id"])
	}
}

func TestGenerateManualPayloadSkipsScraper(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db)

	scraper := &stubScraper{err: scraperFailed("x", "không dùng đến", nil)}
	orc := NewOrchestrator(scraper, &stubGenerator{})

	summary, err := orc.Generate(context.Background(), db, GenerateRequest{
		SourceURL:     "https://quizlet.com/123456789/biology-flash-cards/",
		ManualPayload: json.RawMessage(validStudiablePayload),
	}, owner)
	if err != nil {
		t.Fatalf("Generate với manual_payload lỗi: %v", err)
	}
	if scraper.calls != 0 {
		t.Errorf("scraper bị gọi %d lần dù có manual_payload", scraper.calls)
	}
	if summary.QuestionCount != 2 {
		t.Errorf("QuestionCount = %d, muốn 2", summary.QuestionCount)
	}
}

func TestGenerateGeneratorFailureLeavesNoRows(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db)

	generator := &stubGenerator{err: NewPipelineError(CodeAPIGenerationFailed, "Gemini lỗi sau nhiều lần thử")}
	orc := NewOrchestrator(&stubScraper{set: sampleSet(3)}, generator)

	_, err := orc.Generate(context.Background(), db, GenerateRequest{
		SourceURL: "https://quizlet.com/123456789/biology-flash-cards/",
	}, owner)
	pe := AsPipelineError(err)
	if pe.Code != CodeAPIGenerationFailed {
		t.Fatalf("Code = %s, muốn %s", pe.Code, CodeAPIGenerationFailed)
	}
	if n := countRows(t, db, &models.Quiz{}); n != 0 {
		t.Errorf("còn %d quiz dù sinh đáp án thất bại", n)
	}
}

// Một flashcard phải cho ra đúng một câu hỏi; generator trả thiếu
// là lỗi nội bộ, không được ghi DB.
func TestGenerateQuestionCountMismatch(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db)

	orc := NewOrchestrator(&stubScraper{set: sampleSet(3)}, &dropOneGenerator{})

	_, err := orc.Generate(context.Background(), db, GenerateRequest{
		SourceURL: "https://quizlet.com/123456789/biology-flash-cards/",
	}, owner)
	pe := AsPipelineError(err)
	if pe.Code != CodeInternalError {
		t.Fatalf("Code = %s, muốn %s", pe.Code, CodeInternalError)
	}
	if n := countRows(t, db, &models.Quiz{}); n != 0 {
		t.Errorf("còn %d quiz dù số câu hỏi không khớp", n)
	}
}

// dropOneGenerator trả về thiếu một câu hỏi so với số thẻ.
type dropOneGenerator struct {
	stubGenerator
}

func (g *dropOneGenerator) GenerateBatch(ctx context.Context, cards []Flashcard, topic string, temperature float32, seed *int32) (*GeneratedQuiz, error) {
	quiz, err := g.stubGenerator.GenerateBatch(ctx, cards, topic, temperature, seed)
	if err != nil {
		return nil, err
	}
	quiz.Questions = quiz.Questions[:len(quiz.Questions)-1]
	return quiz, nil
}

func TestFanOutPerQuestionKeepsOrder(t *testing.T) {
	generator := &stubGenerator{}
	orc := NewOrchestrator(&stubScraper{}, generator, WithPerQuestionMode())

	set := sampleSet(10)
	questions, err := orc.fanOutPerQuestion(context.Background(), set, 0.7, nil)
	if err != nil {
		t.Fatalf("fanOutPerQuestion lỗi: %v", err)
	}
	if len(questions) != 10 {
		t.Fatalf("số câu hỏi = %d, muốn 10", len(questions))
	}
	for i, q := range questions {
		card := set.Flashcards[i]
		if q.Question != card.Term || q.CorrectAnswer != card.Definition {
			t.Errorf("câu %d không khớp thẻ: %+v", i, q)
		}
		if len(q.IncorrectAnswers) != 3 {
			t.Errorf("câu %d có %d đáp án sai", i, len(q.IncorrectAnswers))
		}
		if want := "prompt cho " + card.Term; q.Metadata.Prompt != want {
			t.Errorf("câu %d có Metadata.Prompt = %q, muốn %q", i, q.Metadata.Prompt, want)
		}
	}
	if generator.singleCalls != 10 {
		t.Errorf("singleCalls = %d, muốn 10", generator.singleCalls)
	}
}

func TestFanOutPerQuestionFirstErrorWins(t *testing.T) {
	generator := &stubGenerator{failOnTerm: "Thuật ngữ 3"}
	orc := NewOrchestrator(&stubScraper{}, generator, WithPerQuestionMode())

	_, err := orc.fanOutPerQuestion(context.Background(), sampleSet(10), 0.7, nil)
	pe := AsPipelineError(err)
	if pe.Code != CodeContentBlocked {
		t.Fatalf("Code = %s, muốn %s", pe.Code, CodeContentBlocked)
	}
}

func TestGeneratePerQuestionMode(t *testing.T) {
	db := newTestDB(t)
	owner := createTestUser(t, db)

	generator := &stubGenerator{}
	orc := NewOrchestrator(&stubScraper{set: sampleSet(4)}, generator, WithPerQuestionMode())

	summary, err := orc.Generate(context.Background(), db, GenerateRequest{
		SourceURL: "https://quizlet.com/123456789/biology-flash-cards/",
	}, owner)
	if err != nil {
		t.Fatalf("Generate lỗi: %v", err)
	}
	if summary.QuestionCount != 4 {
		t.Errorf("QuestionCount = %d, muốn 4", summary.QuestionCount)
	}
	if generator.batchCalls != 0 {
		t.Errorf("batchCalls = %d, chế độ từng câu không được gọi batch", generator.batchCalls)
	}
	if generator.singleCalls != 4 {
		t.Errorf("singleCalls = %d, muốn 4", generator.singleCalls)
	}

	// Mỗi hàng câu hỏi lưu prompt của riêng nó, không dùng chung prompt
	// của câu hoàn thành trước
	var rows []models.QuizQuestion
	if err := db.Find(&rows).Error; err != nil {
		t.Fatalf("đọc câu hỏi lỗi: %v", err)
	}
	for _, row := range rows {
		var meta QuestionMetadata
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			t.Fatalf("metadata câu %s không phải JSON: %v", row.ID, err)
		}
		if want := "prompt cho " + row.QuestionText; meta.Prompt != want {
			t.Errorf("metadata.Prompt = %q, muốn %q", meta.Prompt, want)
		}
	}
}
