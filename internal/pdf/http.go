package pdf

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/paperworks/internal/jobs"
)

// JobService は入力を検証してジョブのタスクを組み立てます。*Service が実装します。
type JobService interface {
	Prepare(ctx context.Context, kind jobs.Kind, uploads []Upload, opts Options) (*JobManifest, error)
	Task(m *JobManifest) jobs.Task
}

// InspectService は入力PDFの情報を返します。
type InspectService interface {
	Inspect(ctx context.Context, up Upload, opts Options) (*InspectResult, error)
}

// JobSubmitter はタスクをジョブとして登録します。*jobs.Runner が実装します。
type JobSubmitter interface {
	Submit(ctx context.Context, task jobs.Task) (*jobs.Record, error)
}

// JobHandler は POST /api/pdf/<kind> のハンドラーを返します。
// 入力を同期的に検証し、受け付けたら 202 と jobId を返します。変換はワーカーで実行されます。
func JobHandler(kind jobs.Kind, svc JobService, submitter JobSubmitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		var files []*multipart.FileHeader
		if kind == jobs.KindCombine {
			files = extractFiles(form)
			if len(files) == 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    CodeInvalidInput,
					"message": "アップロードされたPDFファイルが見つかりません。",
				})
				return
			}
		} else {
			file, err := extractSingleFile(form)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    CodeInvalidInput,
					"message": err.Error(),
				})
				return
			}
			files = []*multipart.FileHeader{file}
		}

		opts, err := parseOptions(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": err.Error(),
			})
			return
		}

		uploads := make([]Upload, len(files))
		for i, fh := range files {
			uploads[i] = FromMultipart(fh)
		}

		manifest, err := svc.Prepare(c.Request.Context(), kind, uploads, opts)
		if err != nil {
			RespondWithError(c, err)
			return
		}

		record, err := submitter.Submit(c.Request.Context(), svc.Task(manifest))
		if err != nil {
			RespondWithError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"jobId":  record.JobID,
			"status": record.Status,
		})
	}
}

// InspectHandler は POST /api/pdf/inspect のハンドラーを返します。
// max_pages / max_size_mb が指定されていれば分割計画も返します。
func InspectHandler(svc InspectService) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": err.Error(),
			})
			return
		}

		opts, err := parseOptions(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": err.Error(),
			})
			return
		}

		result, err := svc.Inspect(c.Request.Context(), FromMultipart(file), opts)
		if err != nil {
			RespondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func parseOptions(c *gin.Context) (Options, error) {
	opts := Options{
		OutputName: formValue(c, "output_name", "outputName"),
		Quality:    Quality(formValue(c, "quality")),
		Preset:     OptimizePreset(formValue(c, "preset")),
		Pages:      formValue(c, "pages"),
	}

	if raw := formValue(c, "flatten"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.New("flatten は true または false で指定してください。")
		}
		opts.Flatten = v
	}
	if raw := formValue(c, "max_pages", "maxPages"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return opts, errors.New("max_pages は正の整数で指定してください。")
		}
		opts.MaxPages = v
	}
	if raw := formValue(c, "max_size_mb", "maxSizeMb"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return opts, errors.New("max_size_mb は正の数で指定してください。")
		}
		opts.MaxSizeMB = v
	}
	return opts, nil
}

func formValue(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(c.PostForm(key)); v != "" {
			return v
		}
	}
	return ""
}

// RespondWithError はエラーを {code, message} のJSONとして返します。
func RespondWithError(c *gin.Context, err error) {
	if apiErr := asError(err); apiErr != nil {
		status := http.StatusBadRequest
		switch apiErr.Code {
		case CodeLimitExceeded:
			status = http.StatusRequestEntityTooLarge
		case CodeUnsupportedPDF:
			status = http.StatusUnprocessableEntity
		case CodeInternal, CodeNamingExhausted:
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.PublicMessage(),
		})
		return
	}

	switch {
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
	case errors.Is(err, jobs.ErrJobFinished):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "JOB_FINISHED",
			"message": "ジョブは既に終了しています。",
		})
	case errors.Is(err, jobs.ErrQueueFull):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "QUEUE_FULL",
			"message": "現在混み合っています。しばらくしてから再度お試しください。",
		})
	case errors.Is(err, jobs.ErrDispatcherClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "SERVICE_UNAVAILABLE",
			"message": "サーバーが停止処理中です。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    CodeInternal,
			"message": defaultErrorResponse,
		})
	}
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	files := extractFiles(form)
	switch len(files) {
	case 0:
		return nil, errors.New("PDFファイルを選択してください。")
	case 1:
		return files[0], nil
	default:
		return nil, errors.New("PDFファイルは1つだけ選択してください。")
	}
}

func extractFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	for _, key := range []string{"file", "file[]", "files", "files[]"} {
		if files := form.File[key]; len(files) > 0 {
			return files
		}
	}
	return nil
}

// ContentType は成果物の種別に対応する Content-Type を返します。
func ContentType(kind string) string {
	switch ResultKind(kind) {
	case ResultKindPDF:
		return "application/pdf"
	case ResultKindZIP:
		return "application/zip"
	}
	return "application/octet-stream"
}

// ContentDisposition は日本語ファイル名にも対応した attachment ヘッダー値を返します。
func ContentDisposition(filename string) string {
	ascii := strings.Map(func(r rune) rune {
		if r > 0x7e || r < 0x20 || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, filename)
	return fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", ascii, url.PathEscape(filename))
}
