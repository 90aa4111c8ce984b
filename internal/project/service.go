// Package project はインポート済みプロジェクトメタデータの管理を提供する。
// ファイル内容の解析は行わず、メタデータのみを保存する。
package project

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/importdash/internal/model"
	"github.com/hitoshi/importdash/internal/repository"
	"github.com/microcosm-cc/bluemonday"
)

// ImportInput はプロジェクトインポートの入力。
type ImportInput struct {
	Name      string
	FileName  string
	SizeBytes int64
}

// Service はプロジェクトに関するビジネスロジックを提供する。
type Service struct {
	projectRepo repository.ProjectRepository
	sanitizer   *bluemonday.Policy
}

// NewService はServiceを生成する。
// プロジェクト名はStrictPolicyでサニタイズされ、HTMLタグは一切残らない。
func NewService(projectRepo repository.ProjectRepository) *Service {
	return &Service{
		projectRepo: projectRepo,
		sanitizer:   bluemonday.StrictPolicy(),
	}
}

// Import はインポートされたプロジェクトのメタデータを記録する。
// 名前はサニタイズ後に空になった場合もBAD_INPUTとする。
func (s *Service) Import(ctx context.Context, owner *model.User, input ImportInput) (*model.Project, error) {
	name := strings.TrimSpace(s.sanitizer.Sanitize(input.Name))
	if name == "" {
		return nil, model.NewBadInputError("name must not be empty")
	}

	project := &model.Project{
		ID:        uuid.New().String(),
		UserID:    owner.ID,
		Name:      name,
		FileName:  input.FileName,
		SizeBytes: input.SizeBytes,
		CreatedAt: time.Now(),
	}

	if err := s.projectRepo.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	slog.Info("project imported",
		slog.String("project_id", project.ID),
		slog.String("user_id", owner.ID),
		slog.Int64("size_bytes", input.SizeBytes),
	)
	return project, nil
}

// List は指定ユーザーのプロジェクト一覧を作成日時降順で返す。
func (s *Service) List(ctx context.Context, owner *model.User) ([]*model.Project, error) {
	projects, err := s.projectRepo.ListByUserID(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}
