package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/fleetadmin/internal/backend"
	"github.com/hitoshi/fleetadmin/internal/gateway"
	"github.com/hitoshi/fleetadmin/internal/model"
)

// Backend はフォームが使用するバックエンドAPIのインターフェース。
// backend.Clientが満たす。テスト時にモックに差し替え可能。
type Backend interface {
	List(ctx context.Context, src gateway.TokenSource, res backend.Resource) ([]backend.Record, error)
	Get(ctx context.Context, src gateway.TokenSource, res backend.Resource, id string) (backend.Record, error)
	Create(ctx context.Context, src gateway.TokenSource, res backend.Resource, payload map[string]any) (backend.Record, error)
	Update(ctx context.Context, src gateway.TokenSource, res backend.Resource, id string, payload map[string]any) (backend.Record, error)
}

// Option は選択肢の1項目。
type Option struct {
	Value string
	Label string
}

// Form は画面に表示するフォームの状態。
type Form struct {
	Schema *Schema
	Draft  *Draft
	// Lookups は参照フィールド名から選択肢へのマップ。
	Lookups map[string][]Option
	// Notices は参照データの取得失敗など、フォームの利用を妨げない通知。
	Notices []string
	// Errors はフィールド名から検証メッセージへのマップ。
	Errors map[string]string
}

// IsEdit は既存レコードの編集かどうかを返す。
func (f *Form) IsEdit() bool {
	return f.Draft.ID != ""
}

// Row は一覧画面の1行。
type Row struct {
	ID    string
	Cells []string
}

const (
	optionCacheSize = 256
	optionCacheTTL  = 5 * time.Minute
)

// Service はレコードフォームの読み込み・送信・一覧取得を行う。
type Service struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
	// options は取得済みの選択肢。キーはユーザー名と参照先のパス。
	options *expirable.LRU[string, []Option]
}

// NewService はServiceを生成する。
func NewService(b Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend: b,
		logger:  logger,
		now:     time.Now,
		options: expirable.NewLRU[string, []Option](optionCacheSize, nil, optionCacheTTL),
	}
}

// Load はフォームを読み込む。idが空の場合は新規作成フォームを返す。
// 編集時のレコード取得と参照データの取得は並行して行い、
// 参照データの取得失敗は空の選択肢と通知に置き換えてフォームの表示を妨げない。
// ただしセッション終了を伴う失敗はそのまま返す。
func (s *Service) Load(ctx context.Context, src gateway.TokenSource, schema *Schema, id string) (*Form, error) {
	lookupFields := schema.LookupFields()
	var rec backend.Record
	g, gctx := errgroup.WithContext(ctx)

	if id != "" {
		g.Go(func() error {
			r, err := s.backend.Get(gctx, src, schema.Resource, id)
			if err != nil {
				return err
			}
			rec = r
			return nil
		})
	}

	options, notices := s.loadLookups(gctx, g, src, schema, false)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	form := &Form{Schema: schema}
	if id != "" {
		form.Draft = FromRecord(schema, rec)
		if form.Draft.ID == "" {
			form.Draft.ID = id
		}
	} else {
		form.Draft = NewDraft(schema, s.now())
	}
	form.setLookups(lookupFields, options, notices)
	return form, nil
}

// loadLookups は参照フィールドごとの選択肢の取得をgに登録する。
// 結果はg.Waitの後に返り値のスライスへ格納される。
// reuseがtrueの場合は取得済みの選択肢があればネットワーク呼び出しを行わない。
func (s *Service) loadLookups(gctx context.Context, g *errgroup.Group, src gateway.TokenSource, schema *Schema, reuse bool) ([][]Option, []string) {
	lookupFields := schema.LookupFields()
	options := make([][]Option, len(lookupFields))
	notices := make([]string, len(lookupFields))

	for i, f := range lookupFields {
		g.Go(func() error {
			opts, err := s.lookup(gctx, src, f.Lookup, reuse)
			if err != nil {
				var gwErr *gateway.Error
				if errors.As(err, &gwErr) && gwErr.TerminatesSession() {
					return err
				}
				if gctx.Err() != nil {
					return nil
				}
				s.logger.Warn("参照データの取得に失敗しました",
					slog.String("form", schema.Slug),
					slog.String("field", f.Name),
					slog.String("error", err.Error()),
				)
				notices[i] = fmt.Sprintf("%s options could not be loaded; the list is empty.", f.Label)
				options[i] = []Option{}
				return nil
			}
			options[i] = opts
			return nil
		})
	}
	return options, notices
}

func (f *Form) setLookups(fields []Field, options [][]Option, notices []string) {
	f.Lookups = make(map[string][]Option, len(fields))
	f.Notices = nil
	for i, field := range fields {
		f.Lookups[field.Name] = options[i]
		if notices[i] != "" {
			f.Notices = append(f.Notices, notices[i])
		}
	}
}

// identified はトークンを検証せずにログイン中のユーザーを返す。session.Storeが満たす。
type identified interface {
	Identity() (model.Identity, bool)
}

// lookup は参照先コレクションを取得して選択肢に変換する。
// 取得した選択肢はユーザーごとに保持し、reuseがtrueの場合はそれを返す。
func (s *Service) lookup(ctx context.Context, src gateway.TokenSource, l *Lookup, reuse bool) ([]Option, error) {
	var key string
	if u, ok := src.(identified); ok {
		if id, ok := u.Identity(); ok {
			key = id.Username + " " + l.Resource.Path
		}
	}
	if reuse && key != "" {
		if opts, ok := s.options.Get(key); ok {
			return opts, nil
		}
	}

	recs, err := s.backend.List(ctx, src, l.Resource)
	if err != nil {
		return nil, err
	}
	opts := make([]Option, 0, len(recs))
	for _, rec := range recs {
		id := recordID(rec)
		if id == "" {
			continue
		}
		label := l.Label(rec)
		if label == "" {
			label = "#" + id
		}
		opts = append(opts, Option{Value: id, Label: label})
	}
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].Label < opts[j].Label })
	if key != "" {
		s.options.Add(key, opts)
	}
	return opts, nil
}

// Submission は送信値からフォームを組み立てる。idが空でない場合は既存レコードの編集として扱う。
// 計算フィールドは送信値を使わず再計算する。
func Submission(schema *Schema, id string, values func(name string) string) *Form {
	d := &Draft{schema: schema, ID: id, values: make(map[string]string, len(schema.Fields))}
	form := &Form{Schema: schema, Draft: d}
	form.Bind(values)
	d.Recompute()
	return form
}

// Refresh は送信されたフォームを再表示するために参照データを用意する。Draftは変更しない。
// 同じセッションで取得済みの選択肢はそのまま使い、無いものだけを取得する。
func (s *Service) Refresh(ctx context.Context, src gateway.TokenSource, form *Form) error {
	g, gctx := errgroup.WithContext(ctx)
	options, notices := s.loadLookups(gctx, g, src, form.Schema, true)
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	form.setLookups(form.Schema.LookupFields(), options, notices)
	return nil
}

// Bind はフォームの送信値をDraftに反映する。計算フィールドへの入力は無視する。
func (f *Form) Bind(values func(name string) string) {
	for _, field := range f.Schema.Fields {
		if field.Computed {
			continue
		}
		f.Draft.Set(field.Name, values(field.Name))
	}
}

// Submit はフォームを送信する。
// 検証に失敗した場合はネットワーク呼び出しを行わず、form.Errorsを設定して検証エラーを返す。
// 新規作成はPOST、編集はPUTで送信し、成功時は一覧画面のパスを返す。
// 失敗時もDraftは変更しない。
func (s *Service) Submit(ctx context.Context, src gateway.TokenSource, form *Form) (string, error) {
	payload, err := form.Draft.Payload()
	if err != nil {
		form.Errors = FieldErrors(err)
		return "", err
	}

	if form.IsEdit() {
		_, err = s.backend.Update(ctx, src, form.Schema.Resource, form.Draft.ID, payload)
	} else {
		_, err = s.backend.Create(ctx, src, form.Schema.Resource, payload)
	}
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && len(gwErr.FieldErrors) > 0 {
			form.Errors = gwErr.FieldErrors
		}
		return "", err
	}

	s.logger.Info("レコードを保存しました",
		slog.String("form", form.Schema.Slug),
		slog.Bool("edit", form.IsEdit()),
	)
	return form.Schema.Path(), nil
}

// List はコレクションを取得して一覧画面の行に変換する。
func (s *Service) List(ctx context.Context, src gateway.TokenSource, schema *Schema) ([]Row, error) {
	recs, err := s.backend.List(ctx, src, schema.Resource)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(recs))
	for _, rec := range recs {
		row := Row{ID: recordID(rec), Cells: make([]string, len(schema.Columns))}
		for i, col := range schema.Columns {
			row.Cells[i] = formatValue(rec[col])
		}
		rows = append(rows, row)
	}
	return rows, nil
}
