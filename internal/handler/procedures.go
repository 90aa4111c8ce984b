package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hitoshi/importdash/internal/auth"
	"github.com/hitoshi/importdash/internal/model"
	"github.com/hitoshi/importdash/internal/project"
	"github.com/hitoshi/importdash/internal/rpc"
)

// UserService はRPCプロシージャが依存するユーザーサービスのインターフェース。
type UserService interface {
	List(ctx context.Context) ([]*model.User, error)
	Withdraw(ctx context.Context, userID string) error
}

// ProjectService はRPCプロシージャが依存するプロジェクトサービスのインターフェース。
type ProjectService interface {
	Import(ctx context.Context, owner *model.User, input project.ImportInput) (*model.Project, error)
	List(ctx context.Context, owner *model.User) ([]*model.Project, error)
}

type projectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FileName  string    `json:"fileName"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

func toProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:        p.ID,
		Name:      p.Name,
		FileName:  p.FileName,
		SizeBytes: p.SizeBytes,
		CreatedAt: p.CreatedAt,
	}
}

// RegisterProcedures は全RPCプロシージャをルーターに登録する。
func RegisterProcedures(rt *rpc.Router, authSvc AuthService, userSvc UserService, projectSvc ProjectService) {
	rt.Register(rpc.Procedure{
		Name:       "listUsers",
		Kind:       rpc.KindQuery,
		Visibility: rpc.VisibilityPublic,
		Handle: func(ctx context.Context, call rpc.Call) (any, error) {
			users, err := userSvc.List(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]userResponse, 0, len(users))
			for _, u := range users {
				out = append(out, toUserResponse(u))
			}
			return out, nil
		},
	})

	rt.Register(rpc.Procedure{
		Name:       "createUser",
		Kind:       rpc.KindMutation,
		Visibility: rpc.VisibilityPublic,
		Decode: func(raw json.RawMessage) (any, error) {
			var in signUpRequest
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, model.NewBadInputError("input must be an object")
			}
			if err := validateSignUp(in); err != nil {
				return nil, err
			}
			return in, nil
		},
		Handle: func(ctx context.Context, call rpc.Call) (any, error) {
			in := call.Input.(signUpRequest)
			created, err := authSvc.SignUp(ctx, auth.SignUpInput{
				FirstName: in.FirstName,
				LastName:  in.LastName,
				Email:     in.Email,
				Password:  in.Password,
			})
			if err != nil {
				return nil, err
			}
			return toUserResponse(created), nil
		},
	})

	rt.Register(rpc.Procedure{
		Name:       "me",
		Kind:       rpc.KindQuery,
		Visibility: rpc.VisibilityProtected,
		Handle: func(ctx context.Context, call rpc.Call) (any, error) {
			return toUserResponse(call.User), nil
		},
	})

	rt.Register(rpc.Procedure{
		Name:       "getSecretData",
		Kind:       rpc.KindQuery,
		Visibility: rpc.VisibilityProtected,
		Handle: func(ctx context.Context, call rpc.Call) (any, error) {
			return map[string]string{
				"message": "認証済みユーザーだけが閲覧できるデータです。",
			}, nil
		},
	})

	rt.Register(rpc.Procedure{
		Name:       "withdraw",
		Kind:       rpc.KindMutation,
		Visibility: rpc.VisibilityProtected,
		Handle: func(ctx context.Context, call rpc.Call) (any, error) {
			if err := userSvc.Withdraw(ctx, call.User.ID); err != nil {
				return nil, err
			}
			return map[string]bool{"withdrawn": true}, nil
		},
	})

	rt.Register(rpc.Procedure{
		Name:       "listProjects",
		Kind:       rpc.KindQuery,
		Visibility: rpc.VisibilityProtected,
		Handle: func(ctx context.Context, call rpc.Call) (any, error) {
			projects, err := projectSvc.List(ctx, call.User)
			if err != nil {
				return nil, err
			}
			out := make([]projectResponse, 0, len(projects))
			for _, p := range projects {
				out = append(out, toProjectResponse(p))
			}
			return out, nil
		},
	})

	rt.Register(rpc.Procedure{
		Name:       "importProject",
		Kind:       rpc.KindMutation,
		Visibility: rpc.VisibilityProtected,
		Decode: func(raw json.RawMessage) (any, error) {
			var in struct {
				Name      string `json:"name"`
				FileName  string `json:"fileName"`
				SizeBytes int64  `json:"sizeBytes"`
			}
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, model.NewBadInputError("input must be an object")
			}
			if in.Name == "" {
				return nil, model.NewBadInputError("name must not be empty")
			}
			if in.FileName == "" {
				return nil, model.NewBadInputError("fileName must not be empty")
			}
			if in.SizeBytes < 0 {
				return nil, model.NewBadInputError("sizeBytes must not be negative")
			}
			return project.ImportInput{
				Name:      in.Name,
				FileName:  in.FileName,
				SizeBytes: in.SizeBytes,
			}, nil
		},
		Handle: func(ctx context.Context, call rpc.Call) (any, error) {
			imported, err := projectSvc.Import(ctx, call.User, call.Input.(project.ImportInput))
			if err != nil {
				return nil, err
			}
			return toProjectResponse(imported), nil
		},
	})
}
