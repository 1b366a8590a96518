package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Trạng thái của pipeline sinh quiz. Mỗi request đi tuần tự qua các trạng thái,
// thất bại ở bất kỳ đâu chuyển thẳng sang Aborted kèm mã lỗi của stage đó.
type PipelineState string

const (
	StateIdle                  PipelineState = "idle"
	StateLocatingSet           PipelineState = "locating_set"
	StateFetchingFlashcards    PipelineState = "fetching_flashcards"
	StateGeneratingDistractors PipelineState = "generating_distractors"
	StatePersisting            PipelineState = "persisting"
	StateDone                  PipelineState = "done"
	StateAborted               PipelineState = "aborted"
)

const (
	defaultTemperature = 0.7
	// Giới hạn fan-out chế độ từng câu để không vượt rate limit của Gemini
	perQuestionFanOut = 4
)

// FlashcardFetcher là stage lấy flashcard (scraper tự động).
type FlashcardFetcher interface {
	Scrape(ctx context.Context, loc *SetLocation) (*FlashcardSet, error)
}

// DistractorGenerator là stage sinh đáp án sai.
type DistractorGenerator interface {
	GenerateBatch(ctx context.Context, cards []Flashcard, topic string, temperature float32, seed *int32) (*GeneratedQuiz, error)
	GenerateDistractors(ctx context.Context, term, correctAnswer string, temperature float32, seed *int32) (*DistractorResult, error)
}

// ProgressNotifier nhận thông báo chuyển trạng thái của một lần sinh quiz
// (hub WebSocket implement interface này).
type ProgressNotifier interface {
	NotifyProgress(correlationID string, state string, errorCode string)
}

// CaptureArchiver lưu payload thô phục vụ chẩn đoán offline khi payload
// không qua được validator.
type CaptureArchiver interface {
	ArchiveCapture(correlationID string, data []byte) (string, error)
}

// GenerateRequest là input của một lần chạy pipeline.
type GenerateRequest struct {
	SourceURL     string
	Title         string // tuỳ chọn, đè lên tiêu đề suy từ URL
	ManualPayload json.RawMessage
	CorrelationID string
	Temperature   float32
	Seed          *int32
}

// Orchestrator nối các stage của pipeline. Bản thân orchestrator không retry
// stage nào; retry (nếu có) nằm bên trong từng stage.
type Orchestrator struct {
	scraper   FlashcardFetcher
	generator DistractorGenerator
	notifier  ProgressNotifier
	archiver  CaptureArchiver

	// false → fan-out từng câu với giới hạn song song thay vì một lần gọi batch
	batchMode bool
}

type OrchestratorOption func(*Orchestrator)

func WithProgressNotifier(n ProgressNotifier) OrchestratorOption {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithCaptureArchiver(a CaptureArchiver) OrchestratorOption {
	return func(o *Orchestrator) { o.archiver = a }
}

func WithPerQuestionMode() OrchestratorOption {
	return func(o *Orchestrator) { o.batchMode = false }
}

func NewOrchestrator(scraper FlashcardFetcher, generator DistractorGenerator, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		scraper:   scraper,
		generator: generator,
		batchMode: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Generate chạy toàn bộ pipeline cho một request. Khi ManualPayload có mặt,
// pipeline vào thẳng FetchingFlashcards với parser dán tay thay vì scraper;
// các stage sau không đổi. Lỗi của stage nào được trả nguyên mã của stage đó,
// chỉ gắn thêm correlation id.
func (o *Orchestrator) Generate(ctx context.Context, db *gorm.DB, req GenerateRequest, owner uuid.UUID) (*QuizSummary, error) {
	cid := req.CorrelationID
	if cid == "" {
		cid = uuid.NewString()
	}

	summary, err := o.run(ctx, db, req, owner, cid)
	if err != nil {
		pe := AsPipelineError(err)
		pe.WithDetail("correlation_id", cid)
		o.notify(cid, StateAborted, string(pe.Code))
		o.archiveFailedPayload(cid, pe)
		log.Printf("[%s] pipeline aborted: %v", cid, pe)
		return nil, pe
	}

	o.notify(cid, StateDone, "")
	log.Printf("[%s] pipeline done: quiz=%s questions=%d", cid, summary.ID, summary.QuestionCount)
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, db *gorm.DB, req GenerateRequest, owner uuid.UUID, cid string) (*QuizSummary, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	// LocatingSet
	o.notify(cid, StateLocatingSet, "")
	log.Printf("[%s] locating set: %s", cid, req.SourceURL)
	loc, err := LocateSet(req.SourceURL)
	if err != nil {
		return nil, err
	}

	// FetchingFlashcards: scraper tự động, hoặc parser dán tay khi client
	// gửi lại manual_payload sau một lần SCRAPER_FAILED
	o.notify(cid, StateFetchingFlashcards, "")
	var set *FlashcardSet
	if len(req.ManualPayload) > 0 {
		log.Printf("[%s] dùng manual_payload (%d bytes)", cid, len(req.ManualPayload))
		set, err = ParseManualImport(req.ManualPayload, loc.TitleGuess, loc.SetID)
	} else {
		set, err = o.scraper.Scrape(ctx, loc)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewPipelineError(CodeInternalError, "Yêu cầu đã bị huỷ").WithCause(err)
	}

	// GeneratingDistractors
	o.notify(cid, StateGeneratingDistractors, "")
	log.Printf("[%s] sinh đáp án sai cho %d thẻ (batch=%v)", cid, len(set.Flashcards), o.batchMode)
	questions, err := o.generateQuestions(ctx, set, temperature, req.Seed)
	if err != nil {
		return nil, err
	}
	// Bất biến: đúng một câu hỏi cho mỗi flashcard trước khi ghi DB
	if len(questions) != len(set.Flashcards) {
		return nil, NewPipelineError(CodeInternalError, "Số câu hỏi không khớp số flashcard").
			WithDetail("flashcards", len(set.Flashcards)).
			WithDetail("questions", len(questions))
	}

	// Persisting
	o.notify(cid, StatePersisting, "")
	title := req.Title
	if title == "" {
		title = loc.TitleGuess
	}
	return PersistQuiz(ctx, db, title, loc.CanonicalURL, loc.SetID, owner, questions)
}

func (o *Orchestrator) generateQuestions(ctx context.Context, set *FlashcardSet, temperature float32, seed *int32) ([]GeneratedQuestion, error) {
	if o.batchMode {
		quiz, err := o.generator.GenerateBatch(ctx, set.Flashcards, set.Title, temperature, seed)
		if err != nil {
			return nil, err
		}
		return quiz.Questions, nil
	}
	return o.fanOutPerQuestion(ctx, set, temperature, seed)
}

// fanOutPerQuestion gọi Gemini cho từng thẻ với mức song song giới hạn.
// Kết quả giữ nguyên thứ tự thẻ; lỗi đầu tiên huỷ các lời gọi còn lại.
func (o *Orchestrator) fanOutPerQuestion(ctx context.Context, set *FlashcardSet, temperature float32, seed *int32) ([]GeneratedQuestion, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	questions := make([]GeneratedQuestion, len(set.Flashcards))

	sem := make(chan struct{}, perQuestionFanOut)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for i, card := range set.Flashcards {
		wg.Add(1)
		go func(i int, card Flashcard) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				setErr(ctx.Err())
				return
			}

			result, err := o.generator.GenerateDistractors(ctx, card.Term, card.Definition, temperature, seed)
			if err != nil {
				setErr(err)
				return
			}
			questions[i] = GeneratedQuestion{
				Question:         card.Term,
				CorrectAnswer:    card.Definition,
				IncorrectAnswers: result.IncorrectAnswers,
				Metadata:         result.Metadata,
			}
		}(i, card)
	}

	wg.Wait()
	if firstErr != nil {
		var pe *PipelineError
		if errors.As(firstErr, &pe) {
			return nil, pe
		}
		return nil, NewPipelineError(CodeAPIGenerationFailed, "Sinh đáp án bị huỷ").WithCause(firstErr)
	}

	return questions, nil
}

func (o *Orchestrator) notify(cid string, state PipelineState, errCode string) {
	if o.notifier != nil {
		o.notifier.NotifyProgress(cid, string(state), errCode)
	}
}

// archiveFailedPayload đẩy payload không qua được validator lên kho lưu trữ
// để chẩn đoán offline. Chỉ chạy khi archiver được cấu hình.
func (o *Orchestrator) archiveFailedPayload(cid string, pe *PipelineError) {
	if o.archiver == nil || pe.Code != CodeDataValidation {
		return
	}
	raw, ok := pe.Details["raw"].(string)
	if !ok || raw == "" {
		return
	}
	url, err := o.archiver.ArchiveCapture(cid, []byte(raw))
	if err != nil {
		log.Printf("[%s] không lưu được capture: %v", cid, err)
		return
	}
	log.Printf("[%s] capture lưu tại %s", cid, url)
}
