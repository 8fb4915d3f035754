package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/fleetadmin/internal/gateway"
	"github.com/hitoshi/fleetadmin/internal/model"
	"github.com/hitoshi/fleetadmin/internal/record"
	"github.com/hitoshi/fleetadmin/internal/view"
)

// RecordService はレコード画面が必要とするサービスインターフェース。
// record.Serviceが満たす。
type RecordService interface {
	Load(ctx context.Context, src gateway.TokenSource, schema *record.Schema, id string) (*record.Form, error)
	Refresh(ctx context.Context, src gateway.TokenSource, form *record.Form) error
	Submit(ctx context.Context, src gateway.TokenSource, form *record.Form) (string, error)
	List(ctx context.Context, src gateway.TokenSource, schema *record.Schema) ([]record.Row, error)
}

// actionRecalculate は計算フィールドの再計算のみを行い、送信しないフォーム操作。
const actionRecalculate = "recalculate"

// RecordHandler は7種類のエンティティに共通の一覧・作成・編集画面のハンドラー。
// 対象のエンティティはURLパスの{slug}で決まる。
type RecordHandler struct {
	service RecordService
	pages   *pages
}

// NewRecordHandler はRecordHandlerを生成する。
func NewRecordHandler(service RecordService, renderer *view.Renderer, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{
		service: service,
		pages:   &pages{renderer: renderer, logger: logger},
	}
}

// schema はURLパスのslugに対応するスキーマを返す。存在しない場合は404画面を表示する。
func (h *RecordHandler) schema(w http.ResponseWriter, r *http.Request) (*record.Schema, bool) {
	slug := chi.URLParam(r, "slug")
	s, ok := record.BySlug(slug)
	if !ok {
		pg := h.pages.page(r, "Not found", "", nil)
		pg.Error = model.NewNotFoundError("open " + slug)
		h.pages.renderer.Render(w, http.StatusNotFound, view.PageError, pg)
		return nil, false
	}
	return s, true
}

// List は一覧画面を表示する。
// GET /{slug}
func (h *RecordHandler) List(w http.ResponseWriter, r *http.Request) {
	schema, ok := h.schema(w, r)
	if !ok {
		return
	}
	store, err := storeFrom(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}

	rows, err := h.service.List(r.Context(), store, schema)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}
	h.pages.renderer.Render(w, http.StatusOK, view.PageList,
		h.pages.page(r, schema.Title, schema.Slug, view.NewListView(schema, rows)))
}

// New は新規作成フォームを表示する。
// GET /{slug}/new
func (h *RecordHandler) New(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, "")
}

// Edit は編集フォームを表示する。
// GET /{slug}/{id}/edit
func (h *RecordHandler) Edit(w http.ResponseWriter, r *http.Request) {
	h.show(w, r, chi.URLParam(r, "id"))
}

func (h *RecordHandler) show(w http.ResponseWriter, r *http.Request, id string) {
	schema, ok := h.schema(w, r)
	if !ok {
		return
	}
	store, err := storeFrom(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}

	form, err := h.service.Load(r.Context(), store, schema, id)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}
	h.render(w, r, form, http.StatusOK, nil)
}

// Create は新規作成フォームを送信する。
// POST /{slug}/new
func (h *RecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, "")
}

// Update は編集フォームを送信する。
// POST /{slug}/{id}/edit
func (h *RecordHandler) Update(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, chi.URLParam(r, "id"))
}

// save は送信値からフォームを組み立てて保存する。
// 成功時は一覧画面へリダイレクトし、失敗時は入力値を保持したままフォームを再表示する。
func (h *RecordHandler) save(w http.ResponseWriter, r *http.Request, id string) {
	schema, ok := h.schema(w, r)
	if !ok {
		return
	}
	store, err := storeFrom(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		pg := h.pages.page(r, "Error", schema.Slug, nil)
		pg.Error = model.NewValidationFailedError("The submitted form could not be read.")
		h.pages.renderer.Render(w, http.StatusBadRequest, view.PageError, pg)
		return
	}

	form := record.Submission(schema, id, r.PostForm.Get)
	if r.PostForm.Get("action") == actionRecalculate {
		h.refresh(w, r, form, http.StatusOK, nil)
		return
	}

	target, err := h.service.Submit(r.Context(), store, form)
	if err == nil {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}

	var gwErr *gateway.Error
	switch {
	case errors.As(err, &gwErr):
		if gwErr.Redirect != nil {
			h.pages.fail(w, r, err)
			return
		}
		h.refresh(w, r, form, statusFor(gwErr.Kind), gwErr.APIError())
	case len(form.Errors) > 0:
		h.refresh(w, r, form, http.StatusUnprocessableEntity, model.NewValidationFailedError(""))
	default:
		h.pages.fail(w, r, err)
	}
}

// refresh は参照データを用意してから送信済みのフォームを再表示する。取得済みの選択肢は再利用する。
func (h *RecordHandler) refresh(w http.ResponseWriter, r *http.Request, form *record.Form, status int, apiErr *model.APIError) {
	store, err := storeFrom(r)
	if err != nil {
		h.pages.fail(w, r, err)
		return
	}
	if err := h.service.Refresh(r.Context(), store, form); err != nil {
		h.pages.fail(w, r, err)
		return
	}
	h.render(w, r, form, status, apiErr)
}

func (h *RecordHandler) render(w http.ResponseWriter, r *http.Request, form *record.Form, status int, apiErr *model.APIError) {
	title := "New " + form.Schema.Resource.Singular
	if form.IsEdit() {
		title = "Edit " + form.Schema.Resource.Singular
	}
	pg := h.pages.page(r, title, form.Schema.Slug, view.NewFormView(form))
	pg.Error = apiErr
	h.pages.renderer.Render(w, status, view.PageForm, pg)
}
