package pdf

import (
	"errors"
	"fmt"

	"github.com/yourusername/paperworks/internal/chunk"
	"github.com/yourusername/paperworks/internal/naming"
)

// エラーコード
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeLimitExceeded    = "LIMIT_EXCEEDED"
	CodeUnsupportedPDF   = "UNSUPPORTED_PDF"
	CodeNamingExhausted  = "NAMING_EXHAUSTED"
	CodeInternal         = "INTERNAL_ERROR"
	defaultErrorResponse = "サーバー内部でエラーが発生しました。"
)

// Error はクライアントへ返すエラーコードとメッセージを保持します。
type Error struct {
	Code    string
	Message string
	Err     error
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode は jobs.CodedError を満たします。
func (e *Error) ErrorCode() string {
	return e.Code
}

// PublicMessage は利用者に表示してよいメッセージを返します。
func (e *Error) PublicMessage() string {
	if e.Message == "" {
		return defaultErrorResponse
	}
	return e.Message
}

// asError はパッケージ外のエラーを分類済みの *Error に変換します。分類できなければ nil です。
func asError(err error) *Error {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, chunk.ErrInvalidParameter):
		return newError(CodeInvalidInput, "分割パラメータが不正です。", err)
	case errors.Is(err, naming.ErrNamingExhausted):
		return newError(CodeNamingExhausted, "出力ファイル名を決定できませんでした。", err)
	}
	return nil
}
