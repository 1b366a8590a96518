package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const (
	scrapeTimeout = 10 * time.Second
	// Thời gian chờ bắt được request nền trước khi chuyển sang điều hướng thẳng
	interceptWait = 6 * time.Second

	scraperUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// StudiableItemsURL là endpoint dữ liệu thô của một set. URL này được đính kèm
// lỗi SCRAPER_FAILED để người dùng tự fetch và dán lại qua manual_payload.
func StudiableItemsURL(setID string) string {
	return fmt.Sprintf(
		"https://quizlet.com/webapi/3.9/studiable-item-documents?filters[studiableContainerId]=%s&filters[studiableContainerType]=1&perPage=500&page=1",
		setID,
	)
}

// QuizletScraper lấy flashcard bằng Chrome headless: mở trang set, bắt request
// nền studiable-item-documents; nếu không bắt được thì điều hướng thẳng tới
// endpoint dữ liệu trong cùng browser context (mang theo cookie phiên qlts để
// giảm bị chặn bot).
type QuizletScraper struct {
	sessionCookie string
	timeout       time.Duration
}

func NewQuizletScraper() *QuizletScraper {
	return &QuizletScraper{
		sessionCookie: os.Getenv("QUIZLET_SESSION_COOKIE"),
		timeout:       scrapeTimeout,
	}
}

// Scrape tải set theo deadline cứng. Phân loại lỗi:
// 404 → QUIZLET_NOT_FOUND, 403 → QUIZLET_PRIVATE; mọi lỗi automation khác
// → SCRAPER_FAILED kèm apiUrl. Browser luôn được giải phóng qua defer.
func (s *QuizletScraper) Scrape(ctx context.Context, loc *SetLocation) (*FlashcardSet, error) {
	apiURL := StudiableItemsURL(loc.SetID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(scraperUserAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx, network.Enable(), s.setSessionCookie()); err != nil {
		// Không khởi động được browser cũng là lỗi automation, không phải lỗi set
		return nil, scraperFailed(apiURL, "Không khởi động được browser", err)
	}

	status, body, err := s.fetchViaInterception(browserCtx, loc)
	if err != nil {
		status, body, err = s.fetchDirect(browserCtx, apiURL)
	}
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, scraperFailed(apiURL, "Scrape vượt quá thời gian chờ", ctx.Err())
		}
		return nil, scraperFailed(apiURL, "Không lấy được dữ liệu set", err)
	}

	switch {
	case status == 404:
		return nil, NewPipelineError(CodeSetNotFound, "Không tìm thấy set Quizlet").
			WithDetail("set_id", loc.SetID)
	case status == 403:
		return nil, NewPipelineError(CodeSetPrivate, "Set Quizlet ở chế độ riêng tư").
			WithDetail("set_id", loc.SetID)
	case status < 200 || status >= 300:
		return nil, scraperFailed(apiURL, fmt.Sprintf("Quizlet trả về status %d", status), nil)
	}

	return ValidateQuizletResponse(body, loc.TitleGuess, loc.SetID)
}

// fetchViaInterception mở trang set và bắt response của request nền
// studiable-item-documents do chính trang phát ra.
func (s *QuizletScraper) fetchViaInterception(ctx context.Context, loc *SetLocation) (int, []byte, error) {
	type hit struct {
		requestID network.RequestID
		status    int
	}
	hitCh := make(chan hit, 1)

	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		if strings.Contains(e.Response.URL, "studiable-item-documents") {
			select {
			case hitCh <- hit{requestID: e.RequestID, status: int(e.Response.Status)}:
			default:
			}
		}
	})

	if err := chromedp.Run(ctx, chromedp.Navigate(loc.CanonicalURL)); err != nil {
		return 0, nil, err
	}

	select {
	case h := <-hitCh:
		var body []byte
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			b, err := network.GetResponseBody(h.requestID).Do(ctx)
			body = b
			return err
		}))
		if err != nil {
			return 0, nil, err
		}
		return h.status, body, nil
	case <-time.After(interceptWait):
		return 0, nil, fmt.Errorf("không bắt được request studiable-item-documents sau %s", interceptWait)
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// fetchDirect điều hướng thẳng tới endpoint dữ liệu trong cùng browser context.
// Cookie phiên đã set sẵn nên request này trông như request của người dùng thật.
func (s *QuizletScraper) fetchDirect(ctx context.Context, apiURL string) (int, []byte, error) {
	// Status đi qua channel có đệm vì callback của ListenTarget chạy trên
	// goroutine riêng
	statusCh := make(chan int, 1)

	listenCtx, stopListen := context.WithCancel(ctx)
	defer stopListen()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		if e.Type == network.ResourceTypeDocument && strings.Contains(e.Response.URL, "studiable-item-documents") {
			select {
			case statusCh <- int(e.Response.Status):
			default:
			}
		}
	})

	var body string
	err := chromedp.Run(ctx,
		chromedp.Navigate(apiURL),
		chromedp.Evaluate("document.body.innerText", &body),
	)
	if err != nil {
		return 0, nil, err
	}

	status := 200
	select {
	case status = <-statusCh:
	default:
	}
	return status, []byte(body), nil
}

func (s *QuizletScraper) setSessionCookie() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.sessionCookie == "" {
			return nil
		}
		return network.SetCookie("qlts", s.sessionCookie).
			WithDomain(".quizlet.com").
			WithPath("/").
			WithSecure(true).
			WithHTTPOnly(true).
			Do(ctx)
	})
}

func scraperFailed(apiURL, message string, cause error) *PipelineError {
	pe := NewPipelineError(CodeScraperFailed, message).WithDetail("apiUrl", apiURL)
	if cause != nil {
		pe = pe.WithCause(cause)
	}
	return pe
}
