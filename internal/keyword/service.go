package keyword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
)

// DefaultMaxUserKeywords はユーザーあたりの有効キーワード数の上限。
const DefaultMaxUserKeywords = 20

// Service はユーザーキーワードの登録・一覧・更新・削除を行う。
type Service struct {
	repo        repository.UserKeywordRepository
	maxKeywords int
	now         func() time.Time
}

// NewService はServiceを生成する。maxKeywordsが0以下の場合はデフォルト値を使う。
func NewService(repo repository.UserKeywordRepository, maxKeywords int) *Service {
	if maxKeywords <= 0 {
		maxKeywords = DefaultMaxUserKeywords
	}
	return &Service{repo: repo, maxKeywords: maxKeywords, now: time.Now}
}

// Add はキーワードを1件登録する。
func (s *Service) Add(ctx context.Context, userID string, in model.KeywordInput) (*model.UserKeyword, error) {
	created, err := s.AddBatch(ctx, userID, []model.KeywordInput{in})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// AddBatch は複数のキーワードをまとめて登録する。
// いずれかが不正・重複・上限超過の場合は1件も登録しない。
func (s *Service) AddBatch(ctx context.Context, userID string, inputs []model.KeywordInput) ([]*model.UserKeyword, error) {
	if len(inputs) == 0 {
		return nil, model.NewInvalidRequestError("キーワードが指定されていません。")
	}

	normalized := make([]string, len(inputs))
	for i, in := range inputs {
		normalized[i] = Normalize(in.Keyword)
		if normalized[i] == "" {
			return nil, model.NewKeywordEmptyError()
		}
	}

	active, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(active)+len(inputs) > s.maxKeywords {
		return nil, model.NewKeywordLimitError(s.maxKeywords)
	}

	existing := make(map[string]struct{}, len(active))
	for _, kw := range active {
		existing[kw.Keyword] = struct{}{}
	}

	now := s.now()
	keywords := make([]*model.UserKeyword, 0, len(inputs))
	for i, in := range inputs {
		if _, dup := existing[normalized[i]]; dup {
			return nil, model.NewDuplicateKeywordError(in.Keyword)
		}
		existing[normalized[i]] = struct{}{}

		// 同一バッチ内の並び順を作成日時で保持する
		keywords = append(keywords, &model.UserKeyword{
			ID:          uuid.New().String(),
			UserID:      userID,
			Keyword:     normalized[i],
			IsInclusion: in.IsInclusion,
			IsActive:    true,
			CreatedAt:   now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt:   now,
		})
	}

	// 事前確認の後に別リクエストが登録した分はリポジトリ側で弾かれる
	if err := s.repo.CreateBatch(ctx, keywords, s.maxKeywords); err != nil {
		switch {
		case errors.Is(err, model.ErrConflict):
			return nil, model.NewDuplicateKeywordError(inputs[0].Keyword)
		case errors.Is(err, model.ErrKeywordLimit):
			return nil, model.NewKeywordLimitError(s.maxKeywords)
		}
		return nil, fmt.Errorf("キーワードの登録に失敗しました: %w", err)
	}

	slog.Info("キーワードを登録しました",
		slog.String("user_id", userID),
		slog.Int("count", len(keywords)),
	)
	return keywords, nil
}

// List はユーザーの有効なキーワードを包含・除外の件数とともに返す。
func (s *Service) List(ctx context.Context, userID string) (*model.KeywordSummary, error) {
	keywords, err := s.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &model.KeywordSummary{
		Keywords:    keywords,
		Total:       len(keywords),
		MaxKeywords: s.maxKeywords,
	}
	for _, kw := range keywords {
		if kw.IsInclusion {
			summary.InclusionCount++
		} else {
			summary.ExclusionCount++
		}
	}
	return summary, nil
}

// SetActive はユーザーが所有するキーワードの有効状態を切り替える。
// 再有効化する場合は上限と重複の制約を満たす必要がある。
func (s *Service) SetActive(ctx context.Context, userID, keywordID string, active bool) (*model.UserKeyword, error) {
	kw, err := s.owned(ctx, userID, keywordID)
	if err != nil {
		return nil, err
	}
	if kw.IsActive == active {
		return kw, nil
	}

	if active {
		count, err := s.repo.CountActiveByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if count >= s.maxKeywords {
			return nil, model.NewKeywordLimitError(s.maxKeywords)
		}
	}

	if err := s.repo.SetActive(ctx, keywordID, active, s.maxKeywords); err != nil {
		switch {
		case errors.Is(err, model.ErrConflict):
			return nil, model.NewDuplicateKeywordError(kw.Keyword)
		case errors.Is(err, model.ErrKeywordLimit):
			return nil, model.NewKeywordLimitError(s.maxKeywords)
		case errors.Is(err, model.ErrNotFound):
			return nil, model.NewKeywordNotFoundError(keywordID)
		}
		return nil, fmt.Errorf("キーワードの更新に失敗しました: %w", err)
	}

	kw.IsActive = active
	kw.UpdatedAt = s.now()
	return kw, nil
}

// Delete はユーザーが所有するキーワードを削除する。
func (s *Service) Delete(ctx context.Context, userID, keywordID string) error {
	if _, err := s.owned(ctx, userID, keywordID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, keywordID); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewKeywordNotFoundError(keywordID)
		}
		return fmt.Errorf("キーワードの削除に失敗しました: %w", err)
	}
	return nil
}

// owned はキーワードを取得し、所有者でなければ見つからないものとして扱う。
func (s *Service) owned(ctx context.Context, userID, keywordID string) (*model.UserKeyword, error) {
	kw, err := s.repo.FindByID(ctx, keywordID)
	if err != nil {
		return nil, err
	}
	if kw == nil || kw.UserID != userID {
		return nil, model.NewKeywordNotFoundError(keywordID)
	}
	return kw, nil
}
