package services

import (
	"errors"
	"testing"
)

func TestLocateSet(t *testing.T) {
	tests := []struct {
		name          string
		rawURL        string
		wantSetID     string
		wantTitle     string
		wantCanonical string
	}{
		{
			name:          "URL đầy đủ với slug flash-cards",
			rawURL:        "https://quizlet.com/123456789/biology-cell-structure-flash-cards/",
			wantSetID:     "123456789",
			wantTitle:     "Biology Cell Structure",
			wantCanonical: "https://quizlet.com/123456789/biology-cell-structure/",
		},
		{
			name:          "URL có segment ngôn ngữ",
			rawURL:        "https://quizlet.com/vi/123456789/chapter-5-terms-flash-cards/",
			wantSetID:     "123456789",
			wantTitle:     "Chapter 5 Terms",
			wantCanonical: "https://quizlet.com/123456789/chapter-5-terms/",
		},
		{
			name:          "host www và scheme http",
			rawURL:        "http://www.quizlet.com/42/world-history/",
			wantSetID:     "42",
			wantTitle:     "World History",
			wantCanonical: "https://quizlet.com/42/world-history/",
		},
		{
			name:          "chỉ có id, không có slug",
			rawURL:        "https://quizlet.com/987654321",
			wantSetID:     "987654321",
			wantTitle:     defaultTitleGuess,
			wantCanonical: "https://quizlet.com/987654321/",
		},
		{
			name:          "URL có khoảng trắng thừa",
			rawURL:        "  https://quizlet.com/555/anatomy-flash-cards/  ",
			wantSetID:     "555",
			wantTitle:     "Anatomy",
			wantCanonical: "https://quizlet.com/555/anatomy/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := LocateSet(tt.rawURL)
			if err != nil {
				t.Fatalf("LocateSet(%q) lỗi: %v", tt.rawURL, err)
			}
			if loc.SetID != tt.wantSetID {
				t.Errorf("SetID = %q, muốn %q", loc.SetID, tt.wantSetID)
			}
			if loc.TitleGuess != tt.wantTitle {
				t.Errorf("TitleGuess = %q, muốn %q", loc.TitleGuess, tt.wantTitle)
			}
			if loc.CanonicalURL != tt.wantCanonical {
				t.Errorf("CanonicalURL = %q, muốn %q", loc.CanonicalURL, tt.wantCanonical)
			}
		})
	}
}

func TestLocateSetInvalid(t *testing.T) {
	tests := []struct {
		name   string
		rawURL string
	}{
		{"chuỗi rỗng", ""},
		{"scheme không hợp lệ", "ftp://quizlet.com/123/abc/"},
		{"host khác quizlet", "https://example.com/123/abc/"},
		{"subdomain lạ", "https://evil.quizlet.com.attacker.io/123/"},
		{"path không có id số", "https://quizlet.com/latest"},
		{"id không phải số", "https://quizlet.com/abc123/def/"},
		{"id có đuôi chữ", "https://quizlet.com/123abc/biology-flash-cards/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LocateSet(tt.rawURL)
			if err == nil {
				t.Fatalf("LocateSet(%q) phải lỗi", tt.rawURL)
			}
			var pe *PipelineError
			if !errors.As(err, &pe) {
				t.Fatalf("lỗi không phải PipelineError: %v", err)
			}
			if pe.Code != CodeInvalidSourceURL {
				t.Errorf("Code = %s, muốn %s", pe.Code, CodeInvalidSourceURL)
			}
		})
	}
}

func TestTitleFromSlugSegment(t *testing.T) {
	tests := []struct {
		segment string
		want    string
	}{
		{"biology-flash-cards", "Biology"},
		{"chapter-5-terms", "Chapter 5 Terms"},
		{"under_score_words", "Under Score Words"},
		{"", defaultTitleGuess},
		{"---", defaultTitleGuess},
	}

	for _, tt := range tests {
		if got := titleFromSlugSegment(tt.segment); got != tt.want {
			t.Errorf("titleFromSlugSegment(%q) = %q, muốn %q", tt.segment, got, tt.want)
		}
	}
}
