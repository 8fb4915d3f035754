package record

import (
	"fmt"
	"net/mail"
	"slices"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/hitoshi/fleetadmin/internal/model"
)

// Validate はすべてのフィールドを検証し、違反をまとめて返す。
// 違反が無い場合はnilを返す。
func (d *Draft) Validate() error {
	var result *multierror.Error
	for _, f := range d.schema.Fields {
		if f.Computed {
			continue
		}
		if msg := validateField(f, d.values[f.Name]); msg != "" {
			result = model.AppendFieldError(result, f.Name, msg)
		}
	}
	return result.ErrorOrNil()
}

func validateField(f Field, raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		if f.Required {
			return fmt.Sprintf("%s is required", f.Label)
		}
		return ""
	}

	switch f.Kind {
	case KindInteger:
		n, ok := parseInteger(v)
		if !ok {
			return fmt.Sprintf("%s must be a whole number", f.Label)
		}
		return checkRange(f, float64(n))
	case KindDecimal:
		n, ok := parseDecimal(v)
		if !ok {
			return fmt.Sprintf("%s must be a number", f.Label)
		}
		return checkRange(f, n)
	case KindDateTime:
		if _, _, ok := parseDateTime(v); !ok {
			return fmt.Sprintf("%s must be a date and time", f.Label)
		}
	case KindEnum:
		if !slices.Contains(f.Options, v) {
			return fmt.Sprintf("%s must be one of %s", f.Label, strings.Join(f.Options, ", "))
		}
	case KindEmail:
		if addr, err := mail.ParseAddress(v); err != nil || addr.Address != v {
			return fmt.Sprintf("%s must be a valid email address", f.Label)
		}
	}
	return ""
}

func checkRange(f Field, n float64) string {
	if f.Min != nil {
		if f.ExclusiveMin && n <= *f.Min {
			return fmt.Sprintf("%s must be greater than %s", f.Label, formatBound(*f.Min))
		}
		if !f.ExclusiveMin && n < *f.Min {
			return fmt.Sprintf("%s must be at least %s", f.Label, formatBound(*f.Min))
		}
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Sprintf("%s must be at most %s", f.Label, formatBound(*f.Max))
	}
	return ""
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FieldErrors は検証エラーをフィールド名からメッセージへのマップに変換する。
// errが検証エラーでない場合はnilを返す。
func FieldErrors(err error) map[string]string {
	return model.FieldErrors(err)
}

// Payload は入力値を検証したうえでサーバーに送るJSON用の値に変換する。
// 数値は数値型、入力欄由来の日時は秒まで補ったISO形式、空の任意フィールドはnullになる。
func (d *Draft) Payload() (map[string]any, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(d.schema.Fields))
	for _, f := range d.schema.Fields {
		out[f.Name] = coerce(f, strings.TrimSpace(d.values[f.Name]))
	}
	return out, nil
}

// coerce は検証済みの文字列をフィールド種別に応じた値に変換する。
func coerce(f Field, v string) any {
	if v == "" {
		return nil
	}
	switch f.Kind {
	case KindInteger:
		n, _ := parseInteger(v)
		return n
	case KindDecimal:
		n, ok := parseDecimal(v)
		if !ok {
			return nil
		}
		return n
	case KindDateTime:
		// サーバー由来の形式は受け取ったまま返し、小数部とオフセットを保つ
		t, layout, _ := parseDateTime(v)
		if layout == inputDateTimeLayout || layout == dateOnlyLayout {
			return t.Format(serverDateTimeLayout)
		}
		return v
	case KindReference:
		if n, ok := parseInteger(v); ok {
			return n
		}
		return v
	default:
		return v
	}
}
