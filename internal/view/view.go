// Package view はコンソール画面のHTMLテンプレート描画を提供する。
//
// テンプレートはバイナリに埋め込み、起動時に1回だけ解析する。
// すべてのページは共通レイアウト（ナビゲーション・ログイン中のユーザー表示・
// エラー表示・遅延リダイレクト）の中に描画される。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/hitoshi/fleetadmin/internal/gateway"
	"github.com/hitoshi/fleetadmin/internal/model"
	"github.com/hitoshi/fleetadmin/internal/record"
)

//go:embed templates/*.html
var templateFS embed.FS

// ページ名
const (
	PageLogin  = "login.html"
	PageSignUp = "signup.html"
	PageList   = "list.html"
	PageForm   = "form.html"
	PageError  = "error.html"
)

var pageNames = []string{PageLogin, PageSignUp, PageList, PageForm, PageError}

// NavItem はナビゲーションの1項目。
type NavItem struct {
	Path   string
	Title  string
	Active bool
}

// Page はレイアウトに渡す共通データ。
type Page struct {
	Title     string
	Identity  *model.Identity
	CSRFToken string
	Nav       []NavItem
	// Notice は操作結果などの通知メッセージ。
	Notice string
	// Error はページ上部に表示するエラー。
	Error *model.APIError
	// Redirect が設定されている場合、遅延後にブラウザを遷移させる。
	Redirect *gateway.Navigation
	Data     any
}

// RefreshSeconds はRefreshヘッダーに設定する秒数を返す。
// Refreshは整数秒のみ解釈されるため切り上げる。
func (p *Page) RefreshSeconds() int {
	if p.Redirect == nil {
		return 0
	}
	return int(math.Ceil(p.Redirect.Delay.Seconds()))
}

// Navigation は全フォームのナビゲーション項目を返す。activeに一致する項目を強調する。
func Navigation(active string) []NavItem {
	items := make([]NavItem, 0, len(record.All))
	for _, s := range record.All {
		items = append(items, NavItem{Path: s.Path(), Title: s.Title, Active: s.Slug == active})
	}
	return items
}

// Renderer は解析済みテンプレートを保持する。並行利用可能。
type Renderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// New は埋め込みテンプレートを解析してRendererを生成する。
func New(logger *slog.Logger) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	funcs := template.FuncMap{
		"fieldError": func(errs map[string]string, name string) string { return errs[name] },
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages, logger: logger}, nil
}

// Render はページを描画する。描画に失敗した場合は500を返す。
// Redirectが設定されている場合はRefreshヘッダーも付与する。
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, p *Page) {
	t, ok := r.pages[name]
	if !ok {
		r.logger.Error("未登録のテンプレートです", slog.String("template", name))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		r.logger.Error("テンプレートの描画に失敗しました",
			slog.String("template", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if p.Redirect != nil {
		w.Header().Set("Refresh", strconv.Itoa(p.RefreshSeconds())+"; url="+p.Redirect.Path)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// LoginView はログイン画面のデータ。
type LoginView struct {
	Username string
	Next     string
	Errors   map[string]string
}

// SignUpView はサインアップ画面のデータ。
type SignUpView struct {
	Username string
	Email    string
	Errors   map[string]string
}

// ListView は一覧画面のデータ。
type ListView struct {
	Slug    string
	Headers []string
	Rows    []record.Row
}

// NewListView はスキーマの一覧列の見出しを組み立てる。
func NewListView(schema *record.Schema, rows []record.Row) ListView {
	headers := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		headers[i] = col
		if f, ok := schema.Field(col); ok {
			headers[i] = f.Label
		}
	}
	return ListView{Slug: schema.Slug, Headers: headers, Rows: rows}
}

// FieldView はフォームの1フィールドの描画情報。
type FieldView struct {
	Name      string
	Label     string
	InputType string
	Value     string
	Required  bool
	Computed  bool
	Select    bool
	Options   []record.Option
	Error     string
	Min       string
	Max       string
	Step      string
}

// FormView はフォーム画面のデータ。
type FormView struct {
	Action  string
	Cancel  string
	Edit    bool
	Fields  []FieldView
	Notices []string
}

// NewFormView はフォームの状態から描画情報を組み立てる。
func NewFormView(form *record.Form) FormView {
	schema := form.Schema
	action := schema.Path() + "/new"
	if form.IsEdit() {
		action = schema.Path() + "/" + form.Draft.ID + "/edit"
	}

	fields := make([]FieldView, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fv := FieldView{
			Name:      f.Name,
			Label:     f.Label,
			InputType: f.Kind.InputType(),
			Value:     form.Draft.Get(f.Name),
			Required:  f.Required,
			Computed:  f.Computed,
			Error:     form.Errors[f.Name],
		}
		switch f.Kind {
		case record.KindEnum:
			fv.Select = true
			for _, o := range f.Options {
				fv.Options = append(fv.Options, record.Option{Value: o, Label: o})
			}
		case record.KindReference:
			fv.Select = true
			fv.Options = form.Lookups[f.Name]
		case record.KindInteger:
			fv.Step = "1"
		case record.KindDecimal:
			fv.Step = "any"
		}
		if f.Min != nil {
			fv.Min = strconv.FormatFloat(*f.Min, 'f', -1, 64)
		}
		if f.Max != nil {
			fv.Max = strconv.FormatFloat(*f.Max, 'f', -1, 64)
		}
		if f.Kind == record.KindDateTime && !record.FitsDateTimeInput(fv.Value) {
			fv.InputType = "text"
		}
		if f.Computed {
			fv.InputType = "text"
			fv.Step = ""
		}
		fields = append(fields, fv)
	}

	return FormView{
		Action:  action,
		Cancel:  schema.Path(),
		Edit:    form.IsEdit(),
		Fields:  fields,
		Notices: form.Notices,
	}
}

// SessionExpiredPage はセッション切れを通知し、遅延後にログイン画面へ遷移するページを返す。
func SessionExpiredPage(apiErr *model.APIError, nav gateway.Navigation) *Page {
	if nav.Delay < 0 {
		nav.Delay = 0
	}
	return &Page{
		Title:    "Signed out",
		Error:    apiErr,
		Redirect: &nav,
	}
}
