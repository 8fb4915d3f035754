package record

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/fleetadmin/internal/backend"
)

// サーバーが受け付ける日時形式（タイムゾーンなしのISOローカル日時）
const serverDateTimeLayout = "2006-01-02T15:04:05"

// inputDateTimeLayout はdatetime-local入力の初期値に使う形式。
const inputDateTimeLayout = "2006-01-02T15:04"

// dateOnlyLayout は日付のみの入力形式。
const dateOnlyLayout = "2006-01-02"

// 入力として受け付ける日時形式。秒の後ろの小数部はどの形式でも読み取れる。
var dateTimeLayouts = []string{
	serverDateTimeLayout,
	time.RFC3339,
	inputDateTimeLayout,
	dateOnlyLayout,
}

// Draft はフォームに入力中の値を保持する。値はすべて文字列で、
// 型変換は送信時（Payload）に行う。
type Draft struct {
	schema *Schema
	// ID は編集中のレコードのid。新規作成時は空。
	ID     string
	values map[string]string
}

// NewDraft は新規作成用のDraftを生成する。
// 日時フィールドは現在時刻、列挙フィールドは先頭の選択肢で初期化し、
// 参照フィールドなどの識別用フィールドは空のままにする。
func NewDraft(s *Schema, now time.Time) *Draft {
	d := &Draft{schema: s, values: make(map[string]string, len(s.Fields))}
	for _, f := range s.Fields {
		switch {
		case f.Kind == KindDateTime:
			d.values[f.Name] = now.Format(inputDateTimeLayout)
		case f.Kind == KindEnum && len(f.Options) > 0:
			d.values[f.Name] = f.Options[0]
		default:
			d.values[f.Name] = ""
		}
	}
	return d
}

// FromRecord は取得したレコードから編集用のDraftを生成する。
// サーバーのフィールドはフォームのフィールドに1対1で対応し、nullは空文字列になる。
func FromRecord(s *Schema, rec backend.Record) *Draft {
	d := &Draft{
		schema: s,
		ID:     recordID(rec),
		values: make(map[string]string, len(s.Fields)),
	}
	for _, f := range s.Fields {
		d.values[f.Name] = formatValue(rec[f.Name])
	}
	return d
}

// Schema はDraftのスキーマを返す。
func (d *Draft) Schema() *Schema {
	return d.schema
}

// Get はフィールドの現在値を返す。
func (d *Draft) Get(name string) string {
	return d.values[name]
}

// Values は全フィールドの値のコピーを返す。
func (d *Draft) Values() map[string]string {
	out := make(map[string]string, len(d.values))
	for k, v := range d.values {
		out[k] = v
	}
	return out
}

// Set はフィールドに値を設定し、そのフィールドに依存する計算フィールドを即座に再計算する。
// スキーマに無いフィールドと計算フィールドへの設定は無視してfalseを返す。
func (d *Draft) Set(name, value string) bool {
	f, ok := d.schema.Field(name)
	if !ok || f.Computed {
		return false
	}
	d.values[name] = value
	for _, p := range d.schema.Products {
		if p.Left == name || p.Right == name {
			d.values[p.Target] = d.product(p)
		}
	}
	return true
}

// Recompute はすべての計算フィールドを再計算する。何度呼んでも結果は変わらない。
func (d *Draft) Recompute() {
	for _, p := range d.schema.Products {
		d.values[p.Target] = d.product(p)
	}
}

// product は2つのフィールドの積を小数点以下2桁の文字列で返す。
// どちらかが数値でない場合は空文字列を返す。
func (d *Draft) product(p Product) string {
	left, ok := parseRat(d.values[p.Left])
	if !ok {
		return ""
	}
	right, ok := parseRat(d.values[p.Right])
	if !ok {
		return ""
	}
	return new(big.Rat).Mul(left, right).FloatString(2)
}

// parseRat は10進数の文字列を有理数に変換する。分数表記や指数表記は受け付けない。
func parseRat(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	if _, ok := parseDecimal(s); !ok {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	return r, ok
}

// parseDecimal は10進数表記の数値のみを受け付ける。指数表記と16進表記は拒否する。
func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "eExXpP") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func parseInteger(s string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return v, err == nil
}

// parseDateTime は日時文字列を解析し、一致した形式とともに返す。
func parseDateTime(s string) (time.Time, string, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, layout, true
		}
	}
	return time.Time{}, "", false
}

// FitsDateTimeInput はdatetime-local入力がそのまま表示できる値かどうかを返す。
// タイムゾーン付きの値と、ミリ秒より細かい小数部を持つ値は表示できない。
func FitsDateTimeInput(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	_, layout, ok := parseDateTime(s)
	if !ok || layout == time.RFC3339 {
		return false
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > 3 {
		return false
	}
	return true
}
