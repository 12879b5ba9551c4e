package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType span 上 error.type 属性的取值
type ErrorType string

const (
	ErrorTypeHTTP       ErrorType = "http"
	ErrorTypeDB         ErrorType = "db"
	ErrorTypeRedis      ErrorType = "redis"
	ErrorTypeVectorDB   ErrorType = "vector_db"
	ErrorTypeBlob       ErrorType = "blob"
	ErrorTypeLLM        ErrorType = "llm"
	ErrorTypeExtraction ErrorType = "extraction"
	ErrorTypeValidation ErrorType = "validation"
)

// RecordError 在 span 上记录错误并置为 Error 状态，span 或 err 为 nil 时不做任何事
func RecordError(span trace.Span, err error, errorType ErrorType, extra ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	msg := TruncateString(err.Error(), DefaultMaxLength)
	span.RecordError(err)
	span.SetAttributes(append([]attribute.KeyValue{
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", msg),
	}, extra...)...)
	span.SetStatus(codes.Error, msg)
}

// RecordHTTPError 额外记录状态码和 4xx/5xx 分类
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	category := "unknown"
	switch {
	case statusCode >= 500:
		category = "server_error"
	case statusCode >= 400:
		category = "client_error"
	}
	RecordError(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", category),
	)
}
