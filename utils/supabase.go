package utils

import (
	"bytes"
	"fmt"
	"os"

	storage "github.com/supabase-community/storage-go"
)

// SupabaseCaptureArchiver đẩy payload thô (scrape hỏng schema) lên Supabase
// Storage để chẩn đoán offline và dùng lại cho đường import dán tay.
// Path: captures/scraper/<correlationID>.json
type SupabaseCaptureArchiver struct {
	supabaseURL string
	supabaseKey string
}

// NewSupabaseCaptureArchiver trả về nil khi env chưa cấu hình —
// tính năng lưu capture là tuỳ chọn.
func NewSupabaseCaptureArchiver() *SupabaseCaptureArchiver {
	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_KEY")
	if supabaseURL == "" || supabaseKey == "" {
		return nil
	}
	return &SupabaseCaptureArchiver{supabaseURL: supabaseURL, supabaseKey: supabaseKey}
}

func (a *SupabaseCaptureArchiver) ArchiveCapture(correlationID string, data []byte) (string, error) {
	storageClient := storage.NewClient(a.supabaseURL+"/storage/v1", a.supabaseKey, nil)

	objectPath := fmt.Sprintf("scraper/%s.json", correlationID)
	contentType := "application/json"
	options := storage.FileOptions{
		ContentType: &contentType,
	}

	_, err := storageClient.UploadFile("captures", objectPath, bytes.NewBuffer(data), options)
	if err != nil {
		return "", err
	}

	publicURL := fmt.Sprintf("%s/storage/v1/object/public/captures/%s", a.supabaseURL, objectPath)
	return publicURL, nil
}
