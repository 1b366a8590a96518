package services

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/gosimple/slug"
)

// Đường dẫn set Quizlet: có thể có segment ngôn ngữ 2 ký tự trước id số,
// ví dụ /vi/123456789/sinh-hoc-flash-cards/. Id phải là nguyên một segment:
// sau chuỗi số chỉ được là "/" hoặc hết path, "123abc" không phải id hợp lệ.
var setPathRe = regexp.MustCompile(`^/(?:[a-z]{2}/)?(\d+)(?:/([^/]*))?/?$`)

const defaultTitleGuess = "Bộ câu hỏi từ Quizlet"

// SetLocation là kết quả phân giải URL của một set Quizlet.
type SetLocation struct {
	SetID        string
	TitleGuess   string
	CanonicalURL string
}

// LocateSet kiểm tra URL thuộc Quizlet và trích id số của set.
// Không gọi mạng; URL sai host hoặc thiếu id số trả về INVALID_SOURCE_URL.
func LocateSet(rawURL string) (*SetLocation, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, NewPipelineError(CodeInvalidSourceURL, "URL không hợp lệ").WithCause(err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, NewPipelineError(CodeInvalidSourceURL, "URL phải dùng http hoặc https").
			WithDetail("source_url", rawURL)
	}

	host := strings.ToLower(u.Hostname())
	if host != "quizlet.com" && host != "www.quizlet.com" {
		return nil, NewPipelineError(CodeInvalidSourceURL, "URL không thuộc quizlet.com").
			WithDetail("source_url", rawURL)
	}

	m := setPathRe.FindStringSubmatch(u.Path)
	if m == nil {
		return nil, NewPipelineError(CodeInvalidSourceURL, "Không tìm thấy id số của set trong URL").
			WithDetail("source_url", rawURL)
	}

	setID := m[1]
	titleGuess := titleFromSlugSegment(m[2])

	// URL chuẩn hoá để lưu vào source_url, dựng lại từ id + slug của tiêu đề
	canonical := fmt.Sprintf("https://quizlet.com/%s/", setID)
	if titleGuess != defaultTitleGuess {
		canonical = fmt.Sprintf("https://quizlet.com/%s/%s/", setID, slug.Make(titleGuess))
	}

	return &SetLocation{
		SetID:        setID,
		TitleGuess:   titleGuess,
		CanonicalURL: canonical,
	}, nil
}

// titleFromSlugSegment suy tiêu đề từ segment cuối của path:
// bỏ hậu tố "-flash-cards", thay dấu gạch bằng khoảng trắng, viết hoa đầu từ.
func titleFromSlugSegment(segment string) string {
	segment = strings.TrimSpace(segment)
	if segment == "" {
		return defaultTitleGuess
	}

	segment = strings.TrimSuffix(segment, "-flash-cards")
	segment = strings.ReplaceAll(segment, "-", " ")
	segment = strings.ReplaceAll(segment, "_", " ")

	words := strings.Fields(segment)
	if len(words) == 0 {
		return defaultTitleGuess
	}
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
