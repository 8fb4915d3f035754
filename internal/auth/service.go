// Package auth はユーザー名・パスワードによるサインイン、サインアップ、サインアウトを提供する。
//
// 認証そのものはバックエンドが行い、このパッケージは結果のトークンを
// ブラウザセッションのセッションストアに保存する。
// バックエンドでの認証に失敗した場合、セッションストアは一切変更しない。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/hitoshi/fleetadmin/internal/backend"
	"github.com/hitoshi/fleetadmin/internal/gateway"
	"github.com/hitoshi/fleetadmin/internal/model"
)

// ErrInvalidCredentials はバックエンドが資格情報を拒否した場合のエラー。
var ErrInvalidCredentials = errors.New("invalid username or password")

// サインイン結果のメトリクスラベル
const (
	ResultSuccess      = "success"
	ResultRejected     = "rejected"
	ResultInvalidToken = "invalid_token"
	ResultError        = "error"
)

// Authenticator はバックエンドの認証APIのインターフェース。backend.Clientが満たす。
type Authenticator interface {
	SignIn(ctx context.Context, username, password string) (string, error)
	SignUp(ctx context.Context, req backend.SignUpRequest) (string, error)
}

// SessionStore はサインイン結果を保存するセッションストアのインターフェース。
// session.Storeが満たす。
type SessionStore interface {
	Login(ctx context.Context, raw, username string) error
	Logout(ctx context.Context) error
}

// Recorder はサインイン結果のメトリクス記録先。
type Recorder interface {
	RecordSignIn(result string)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	api      Authenticator
	recorder Recorder
	logger   *slog.Logger
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(api Authenticator, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, recorder: recorder, logger: logger}
}

// SignIn はバックエンドでサインインし、成功したトークンをセッションストアに保存する。
// 入力が不足している場合は検証エラー、資格情報が拒否された場合はErrInvalidCredentialsを返す。
// バックエンドに到達できない場合などはゲートウェイのエラーをそのまま返す。
func (s *Service) SignIn(ctx context.Context, store SessionStore, username, password string) error {
	username = strings.TrimSpace(username)

	var violations *multierror.Error
	if username == "" {
		violations = model.AppendFieldError(violations, "username", "Username is required")
	}
	if password == "" {
		violations = model.AppendFieldError(violations, "password", "Password is required")
	}
	if err := violations.ErrorOrNil(); err != nil {
		return err
	}

	tok, err := s.api.SignIn(ctx, username, password)
	if err != nil {
		if isRejection(err) {
			s.record(ResultRejected)
			s.logger.Info("サインインが拒否されました", slog.String("username", username))
			return fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
		}
		s.record(ResultError)
		return fmt.Errorf("failed to sign in: %w", err)
	}

	if err := store.Login(ctx, tok, username); err != nil {
		s.record(ResultInvalidToken)
		s.logger.Error("バックエンドが発行したトークンを保存できませんでした",
			slog.String("username", username),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to store session: %w", err)
	}

	s.record(ResultSuccess)
	s.logger.Info("ユーザーがサインインしました", slog.String("username", username))
	return nil
}

// SignUpInput はサインアップフォームの入力値。
type SignUpInput struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
}

// SignUp は新規アカウントを登録する。
// 必須項目をまとめて検証し、違反があればバックエンドを呼び出さずに検証エラーを返す。
// バックエンドがトークンを返した場合はそのままサインイン状態にしてtrueを返す。
func (s *Service) SignUp(ctx context.Context, store SessionStore, in SignUpInput) (bool, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	var violations *multierror.Error
	if in.Username == "" {
		violations = model.AppendFieldError(violations, "username", "Username is required")
	}
	if in.Email == "" {
		violations = model.AppendFieldError(violations, "email", "Email is required")
	} else if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		violations = model.AppendFieldError(violations, "email", "Email must be a valid email address")
	}
	if in.Password == "" {
		violations = model.AppendFieldError(violations, "password", "Password is required")
	} else if in.Password != in.PasswordConfirm {
		violations = model.AppendFieldError(violations, "passwordConfirm", "Passwords do not match")
	}
	if err := violations.ErrorOrNil(); err != nil {
		return false, err
	}

	tok, err := s.api.SignUp(ctx, backend.SignUpRequest{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		return false, fmt.Errorf("failed to sign up: %w", err)
	}
	s.logger.Info("アカウントを登録しました", slog.String("username", in.Username))

	if tok == "" {
		return false, nil
	}
	if err := store.Login(ctx, tok, in.Username); err != nil {
		return false, fmt.Errorf("failed to store session: %w", err)
	}
	return true, nil
}

// SignOut はセッションストアのトークンとユーザー名を削除する。
func (s *Service) SignOut(ctx context.Context, store SessionStore) error {
	if err := store.Logout(ctx); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	return nil
}

// isRejection はバックエンドが資格情報を拒否したかどうかを判定する。
func isRejection(err error) bool {
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		return false
	}
	switch gwErr.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func (s *Service) record(result string) {
	if s.recorder != nil {
		s.recorder.RecordSignIn(result)
	}
}
