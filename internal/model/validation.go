package model

import (
	"errors"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// FieldError は1フィールドの入力検証エラー。
type FieldError struct {
	Field   string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *FieldError) Error() string {
	return e.Message
}

// AppendFieldError は検証エラーを集約する。resultがnilの場合は新しく生成する。
func AppendFieldError(result *multierror.Error, field, message string) *multierror.Error {
	result = multierror.Append(result, &FieldError{Field: field, Message: message})
	result.ErrorFormat = joinMessages
	return result
}

func joinMessages(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// FieldErrors は集約された検証エラーをフィールド名からメッセージへのマップに変換する。
// errが検証エラーでない場合はnilを返す。
func FieldErrors(err error) map[string]string {
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		return nil
	}
	out := make(map[string]string, len(merr.Errors))
	for _, e := range merr.Errors {
		var fe *FieldError
		if errors.As(e, &fe) {
			out[fe.Field] = fe.Message
		}
	}
	return out
}
