// Package record はスキーマ駆動のレコードフォームエンジンを提供する。
//
// 7種類のエンティティ（車両・ドライバー・給油記録・整備記録・整備作業・
// 交換部品・追加経費）はすべて同じエンジンで扱い、違いはSchemaの定義のみとする。
// フォームの状態はDraft（フィールド名から文字列へのマップ）として保持し、
// 検証・型変換・計算フィールドの再計算はDraftに対して行う。
package record

import (
	"strconv"

	"github.com/hitoshi/fleetadmin/internal/backend"
)

// Kind はフィールドの入力種別。
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindDecimal
	KindDateTime
	KindEnum
	KindReference
	KindEmail
)

// InputType はHTMLのinput要素のtype属性を返す。
func (k Kind) InputType() string {
	switch k {
	case KindInteger, KindDecimal:
		return "number"
	case KindDateTime:
		return "datetime-local"
	case KindEmail:
		return "email"
	default:
		return "text"
	}
}

// Field はフォームの1フィールドの定義。NameはサーバーのJSONフィールド名と一致させる。
type Field struct {
	Name     string
	Label    string
	Kind     Kind
	Required bool
	// Min/Max は数値フィールドの範囲。nilの場合は制限なし。
	Min *float64
	Max *float64
	// ExclusiveMin がtrueの場合、値はMinより大きくなければならない。
	ExclusiveMin bool
	// Options はKindEnumの選択肢。先頭が新規作成時の初期値になる。
	Options []string
	// Lookup はKindReferenceの参照先。
	Lookup *Lookup
	// Computed がtrueのフィールドは入力不可で、再計算によってのみ値が決まる。
	Computed bool
}

// Lookup は参照フィールドの選択肢を取得するコレクション。
type Lookup struct {
	Resource backend.Resource
	// Label は選択肢の表示名を組み立てる。
	Label func(rec backend.Record) string
}

// Product は2つのフィールドの積を計算フィールドに設定する規則。
// 例: totalCost = pricePerUnit × quantity
type Product struct {
	Target string
	Left   string
	Right  string
}

// Schema は1エンティティのフォーム定義。
type Schema struct {
	// Slug はコンソールのURLパスに使う識別子。例: "cars"
	Slug     string
	Title    string
	Resource backend.Resource
	Fields   []Field
	Products []Product
	// Columns は一覧画面に表示するフィールド名。
	Columns []string
}

// IDField はレコードの識別子フィールド名。
const IDField = "id"

// Path はコンソール上の一覧画面のパスを返す。
func (s *Schema) Path() string {
	return "/" + s.Slug
}

// Field は名前からフィールド定義を返す。
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// LookupFields は参照先を持つフィールドを返す。
func (s *Schema) LookupFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Kind == KindReference && f.Lookup != nil {
			out = append(out, f)
		}
	}
	return out
}

func bound(v float64) *float64 { return &v }

// recordID はレコードのidを文字列に変換する。
func recordID(rec backend.Record) string {
	return formatValue(rec[IDField])
}

// formatValue はサーバーのJSON値をフォーム用の文字列に変換する。nullは空文字列になる。
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
