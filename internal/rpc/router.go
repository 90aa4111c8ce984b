// Package rpc は名前付きプロシージャのレジストリとディスパッチを提供する。
// 各プロシージャはquery（読み取り）またはmutation（書き込み）で、
// public（認証不要）またはprotected（セッション必須）のいずれか。
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/importdash/internal/middleware"
	"github.com/hitoshi/importdash/internal/model"
)

// Kind はプロシージャの種別。
type Kind string

const (
	// KindQuery は読み取り専用プロシージャ。GETまたはPOSTで呼び出せる。
	KindQuery Kind = "query"
	// KindMutation は状態変更プロシージャ。POSTのみ許可。
	KindMutation Kind = "mutation"
)

// Visibility はプロシージャの公開範囲。
type Visibility string

const (
	// VisibilityPublic は認証不要で呼び出せる。
	VisibilityPublic Visibility = "public"
	// VisibilityProtected は有効なセッションを必須とする。
	VisibilityProtected Visibility = "protected"
)

// Call はハンドラーに渡される呼び出しコンテキスト。
type Call struct {
	// Input はDecodeが返した検証済み入力。Decodeがnilの場合はnil。
	Input any
	// User は解決済みユーザー。protectedプロシージャでは常に非nil。
	User *model.User
}

// Procedure は登録される1つのプロシージャの定義。
type Procedure struct {
	Name       string
	Kind       Kind
	Visibility Visibility
	// Decode は生のJSON入力をデコード・検証する。
	// 制約違反はBAD_INPUTエラー（違反した制約をメッセージに含める）を返す。
	// 入力を取らないプロシージャではnil。
	Decode func(raw json.RawMessage) (any, error)
	// Handle はプロシージャ本体。検証とセッション解決を通過した後にのみ呼ばれる。
	Handle func(ctx context.Context, call Call) (any, error)
}

// SessionResolver はセッショントークンからユーザーを解決する。
// auth.Serviceが実装する。
type SessionResolver interface {
	ResolveSession(ctx context.Context, sessionID string) (*model.User, error)
}

// MetricsRecorder はRPC呼び出しのメトリクス記録インターフェース。
// nilの場合は記録しない。
type MetricsRecorder interface {
	RecordRPCRequest(procedure, code string)
}

// Router はプロシージャ名をディスパッチするHTTPハンドラー。
// /rpc/{procedure} にマウントされる前提で、chiのURLパラメータから
// プロシージャ名を読み取る。
type Router struct {
	procedures map[string]Procedure
	sessions   SessionResolver
	metrics    MetricsRecorder
}

// NewRouter はRouterを生成する。
func NewRouter(sessions SessionResolver, metrics MetricsRecorder) *Router {
	return &Router{
		procedures: make(map[string]Procedure),
		sessions:   sessions,
		metrics:    metrics,
	}
}

// Register はプロシージャを登録する。
// 名前の重複と不正な定義は起動時のプログラミングエラーとしてpanicする。
func (rt *Router) Register(p Procedure) {
	if p.Name == "" || p.Handle == nil {
		panic(fmt.Sprintf("rpc: invalid procedure definition %q", p.Name))
	}
	if _, exists := rt.procedures[p.Name]; exists {
		panic(fmt.Sprintf("rpc: procedure %q registered twice", p.Name))
	}
	rt.procedures[p.Name] = p
}

// compile-time interface check
var _ http.Handler = (*Router)(nil)

// ServeHTTP は1回のプロシージャ呼び出しを処理する。
// パイプライン: 名前解決 → メソッド検査 → 入力検証 → セッション解決（protectedのみ）
// → ハンドラー実行。各段階で失敗した場合、後続の段階は一切実行されない。
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "procedure")

	proc, ok := rt.procedures[name]
	if !ok {
		rt.writeError(w, name, model.NewNotFoundError(name))
		return
	}

	if !methodAllowed(proc.Kind, r.Method) {
		w.Header().Set("Allow", allowedMethods(proc.Kind))
		rt.writeErrorWithStatus(w, name, http.StatusMethodNotAllowed,
			model.NewBadInputError(fmt.Sprintf("%s procedures do not accept %s", proc.Kind, r.Method)))
		return
	}

	call := Call{}

	if proc.Decode != nil {
		raw, err := readInput(r)
		if err != nil {
			rt.writeError(w, name, model.NewBadInputError("request body must be valid JSON"))
			return
		}
		input, err := proc.Decode(raw)
		if err != nil {
			rt.handleError(w, name, err)
			return
		}
		call.Input = input
	}

	if proc.Visibility == VisibilityProtected {
		user, err := rt.resolveCaller(r)
		if err != nil {
			slog.Error("failed to resolve session for rpc call",
				slog.String("procedure", name),
				slog.String("error", err.Error()),
			)
			rt.writeInternalError(w, name)
			return
		}
		if user == nil {
			rt.writeError(w, name, model.NewUnauthorizedError())
			return
		}
		call.User = user
	}

	result, err := proc.Handle(r.Context(), call)
	if err != nil {
		rt.handleError(w, name, err)
		return
	}

	rt.record(name, "ok")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"data": result,
	})
}

// resolveCaller はCookieのセッショントークンから呼び出しユーザーを解決する。
// 先行するHTTPミドルウェアが既に解決済みの場合はそれを使う。
func (rt *Router) resolveCaller(r *http.Request) (*model.User, error) {
	if user, ok := middleware.UserFromContext(r.Context()); ok {
		return user, nil
	}

	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return rt.sessions.ResolveSession(r.Context(), cookie.Value)
}

// handleError はハンドラー・デコーダーのエラーをHTTPレスポンスに変換する。
// APIError以外は詳細をログのみに残し、一般的な500を返す。
func (rt *Router) handleError(w http.ResponseWriter, procedure string, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		rt.writeError(w, procedure, apiErr)
		return
	}

	slog.Error("rpc procedure failed",
		slog.String("procedure", procedure),
		slog.String("error", err.Error()),
	)
	rt.writeInternalError(w, procedure)
}

func (rt *Router) writeError(w http.ResponseWriter, procedure string, apiErr *model.APIError) {
	rt.writeErrorWithStatus(w, procedure, middleware.StatusForError(apiErr), apiErr)
}

func (rt *Router) writeErrorWithStatus(w http.ResponseWriter, procedure string, status int, apiErr *model.APIError) {
	rt.record(procedure, apiErr.Code)
	middleware.WriteErrorResponse(w, status, apiErr)
}

func (rt *Router) writeInternalError(w http.ResponseWriter, procedure string) {
	rt.record(procedure, "INTERNAL_ERROR")
	middleware.WriteInternalServerError(w)
}

func (rt *Router) record(procedure, code string) {
	if rt.metrics != nil {
		rt.metrics.RecordRPCRequest(procedure, code)
	}
}

// readInput はリクエストから生のJSON入力を取り出す。
// GETはクエリパラメータ input、POSTはリクエストボディから読む。
// どちらも空の場合はnullとして扱う。
func readInput(r *http.Request) (json.RawMessage, error) {
	if r.Method == http.MethodGet {
		raw := r.URL.Query().Get("input")
		if raw == "" {
			return json.RawMessage("null"), nil
		}
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("invalid JSON in input parameter")
		}
		return json.RawMessage(raw), nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON in request body")
	}
	return json.RawMessage(body), nil
}

func methodAllowed(kind Kind, method string) bool {
	switch kind {
	case KindQuery:
		return method == http.MethodGet || method == http.MethodPost
	case KindMutation:
		return method == http.MethodPost
	default:
		return false
	}
}

func allowedMethods(kind Kind) string {
	if kind == KindQuery {
		return "GET, POST"
	}
	return "POST"
}
