package jobs

import "errors"

var (
	// ErrNotFound はジョブIDが存在しない（または期限切れで削除された）場合に返されます。
	ErrNotFound = errors.New("job not found")
	// ErrQueueFull は同時実行上限に達して新しいジョブを受け付けられない場合に返されます。
	ErrQueueFull = errors.New("job queue is full")
	// ErrJobFinished は終端状態のジョブをキャンセルしようとした場合に返されます。
	ErrJobFinished = errors.New("job already finished")
	// ErrCancelled は変換処理がキャンセルを検知して中断したことを表します。
	ErrCancelled = errors.New("operation cancelled")
	// ErrInvalidTransition は許されない状態遷移です。
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrUnknownTask は実行対象のタスクがこのプロセスに存在しない場合に返されます。
	ErrUnknownTask = errors.New("no task registered for job")
	// ErrAlreadyExists は同じIDのレコードが既に存在する場合に返されます。
	ErrAlreadyExists = errors.New("job already exists")
)

// CodedError はエラーコードを持つエラーです。ジョブ失敗時の ErrorInfo.Code に使われます。
type CodedError interface {
	error
	ErrorCode() string
	PublicMessage() string
}

func errorInfoFrom(err error) *ErrorInfo {
	var coded CodedError
	if errors.As(err, &coded) {
		return &ErrorInfo{Code: coded.ErrorCode(), Message: coded.PublicMessage()}
	}
	return &ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()}
}
