package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Mã lỗi của pipeline sinh quiz. Mỗi stage trả về đúng một mã,
// orchestrator không được hạ cấp hay nuốt mã nào.
type ErrorCode string

const (
	CodeInvalidSourceURL    ErrorCode = "INVALID_SOURCE_URL"
	CodeSetNotFound         ErrorCode = "QUIZLET_NOT_FOUND"
	CodeSetPrivate          ErrorCode = "QUIZLET_PRIVATE"
	CodeSetEmpty            ErrorCode = "QUIZLET_EMPTY"
	CodeDataValidation      ErrorCode = "DATA_VALIDATION_ERROR"
	CodeScraperFailed       ErrorCode = "SCRAPER_FAILED"
	CodeContentBlocked      ErrorCode = "CONTENT_BLOCKED"
	CodeInvalidResponseData ErrorCode = "INVALID_RESPONSE_DATA"
	CodeAPIGenerationFailed ErrorCode = "API_GENERATION_FAILED"
	CodeDatabaseError       ErrorCode = "DATABASE_ERROR"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

// PipelineError là lỗi có phân loại của pipeline, mang theo chi tiết
// phục vụ chẩn đoán (ví dụ apiUrl cho đường fallback dán tay).
type PipelineError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

func NewPipelineError(code ErrorCode, message string) *PipelineError {
	return &PipelineError{Code: code, Message: message}
}

func (e *PipelineError) WithDetail(key string, value interface{}) *PipelineError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func (e *PipelineError) WithCause(err error) *PipelineError {
	e.Err = err
	return e
}

// AsPipelineError bóc PipelineError từ chuỗi lỗi; lỗi chưa phân loại
// được gói thành INTERNAL_ERROR để boundary luôn có mã trả về.
func AsPipelineError(err error) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return &PipelineError{Code: CodeInternalError, Message: "Lỗi không xác định", Err: err}
}

// HTTPStatus ánh xạ mã lỗi sang HTTP status tại boundary.
// SCRAPER_FAILED trả 422: không phải lỗi cứng, client được kỳ vọng
// gọi lại kèm manual_payload.
func (e *PipelineError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidSourceURL:
		return http.StatusBadRequest
	case CodeSetNotFound:
		return http.StatusNotFound
	case CodeSetPrivate:
		return http.StatusForbidden
	case CodeSetEmpty, CodeDataValidation, CodeScraperFailed:
		return http.StatusUnprocessableEntity
	case CodeContentBlocked, CodeInvalidResponseData:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
