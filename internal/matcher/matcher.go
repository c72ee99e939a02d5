// Package matcher はユーザーの包含・除外キーワードとディールキーワードを照合する。
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/dealmoa/internal/keyword"
	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
)

const (
	// DefaultWindowDays はフィード対象とする公開日の遡り日数。
	DefaultWindowDays = 7
	// MaxPageSize はフィードの1ページあたりの最大件数。
	MaxPageSize = 100
)

// Match はディールに一致したユーザーと、一致した包含キーワード。
type Match struct {
	User            *model.User
	MatchedKeywords []string
}

// Evaluate はユーザーの有効キーワードをディールキーワード集合と照合する。
// 包含キーワードが1つ以上含まれ、除外キーワードが1つも含まれない場合に一致とし、
// 一致した包含キーワードをユーザーの登録順で返す。
// 包含キーワードを持たないユーザーは一致しない。
func Evaluate(dealKeywords map[string]struct{}, userKeywords []*model.UserKeyword) ([]string, bool) {
	var matched []string
	for _, kw := range userKeywords {
		if !kw.IsActive {
			continue
		}
		_, present := dealKeywords[keyword.Normalize(kw.Keyword)]
		if !present {
			continue
		}
		if !kw.IsInclusion {
			return nil, false
		}
		matched = append(matched, kw.Keyword)
	}
	return matched, len(matched) > 0
}

// KeywordSet はキーワード一覧を正規化済みの集合に変換する。
func KeywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if n := keyword.Normalize(kw); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// Matcher はディールとユーザーの双方向の照合を行う。
type Matcher struct {
	users        repository.UserRepository
	userKeywords repository.UserKeywordRepository
	dealKeywords repository.DealKeywordRepository
	deals        repository.DealRepository
	windowDays   int
	logger       *slog.Logger
	now          func() time.Time
}

// NewMatcher はMatcherを生成する。windowDaysが0以下の場合はデフォルト値を使う。
func NewMatcher(
	users repository.UserRepository,
	userKeywords repository.UserKeywordRepository,
	dealKeywords repository.DealKeywordRepository,
	deals repository.DealRepository,
	windowDays int,
	logger *slog.Logger,
) *Matcher {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Matcher{
		users:        users,
		userKeywords: userKeywords,
		dealKeywords: dealKeywords,
		deals:        deals,
		windowDays:   windowDays,
		logger:       logger,
		now:          time.Now,
	}
}

// MatchDealToUsers はディールの通知対象となるユーザーを返す。
// dealKeywordsがnilの場合は保存済みのディールキーワードを読み込む。
// ブロック済み・削除済み・非公開のディールは誰にも一致しない。
func (m *Matcher) MatchDealToUsers(ctx context.Context, d *model.Deal, dealKeywords []string) ([]Match, error) {
	if d.IsBlocked || d.DeletedAt != nil || !d.IsActive {
		return nil, nil
	}

	if dealKeywords == nil {
		stored, err := m.dealKeywords.ListByDeal(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("ディールキーワードの取得に失敗しました: %w", err)
		}
		dealKeywords = stored
	}
	set := KeywordSet(dealKeywords)
	if len(set) == 0 {
		return nil, nil
	}

	lookup := make([]string, 0, len(set))
	for kw := range set {
		lookup = append(lookup, kw)
	}
	candidates, err := m.users.ListMatchCandidates(ctx, lookup)
	if err != nil {
		return nil, fmt.Errorf("一致候補の取得に失敗しました: %w", err)
	}

	var matches []Match
	for _, c := range candidates {
		if !c.User.IsActive || !c.User.PushEnabled {
			continue
		}
		matched, ok := Evaluate(set, c.Keywords)
		if !ok {
			continue
		}
		matches = append(matches, Match{User: c.User, MatchedKeywords: matched})
	}

	m.logger.Debug("ディールとユーザーを照合しました",
		slog.String("deal_id", d.ID),
		slog.Int("candidates", len(candidates)),
		slog.Int("matched", len(matches)),
	)
	return matches, nil
}

// MatchUserToDeals はユーザーのキーワードに一致する直近のディールを
// hot_score降順、ID昇順でページングして返す。
func (m *Matcher) MatchUserToDeals(ctx context.Context, userID string, page, pageSize int) (*model.DealPage, error) {
	if page < 1 {
		return nil, model.NewInvalidPageError("pageは1以上を指定してください。")
	}
	if pageSize < 1 || pageSize > MaxPageSize {
		return nil, model.NewInvalidPageError(fmt.Sprintf("page_sizeは1から%dの範囲で指定してください。", MaxPageSize))
	}

	result := &model.DealPage{Deals: []*model.Deal{}, Page: page, PageSize: pageSize}

	keywords, err := m.userKeywords.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var inclusion, exclusion []string
	for _, kw := range keywords {
		n := keyword.Normalize(kw.Keyword)
		if kw.IsInclusion {
			inclusion = append(inclusion, n)
		} else {
			exclusion = append(exclusion, n)
		}
	}
	if len(inclusion) == 0 {
		return result, nil
	}

	now := m.now()
	deals, total, err := m.deals.ListMatching(ctx, repository.DealMatchQuery{
		Inclusion: inclusion,
		Exclusion: exclusion,
		Since:     now.AddDate(0, 0, -m.windowDays),
		Now:       now,
		Limit:     pageSize,
		Offset:    (page - 1) * pageSize,
	})
	if err != nil {
		return nil, err
	}

	result.Deals = deals
	result.Total = total
	result.TotalPages = (total + pageSize - 1) / pageSize
	return result, nil
}
