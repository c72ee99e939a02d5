package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/dealmoa/internal/model"
	"github.com/hitoshi/dealmoa/internal/repository"
)

type compiledRule struct {
	entry *model.BlacklistEntry
	re    *regexp.Regexp // Type=regexの場合のみ
}

// Blacklist は有効なブラックリストをキャッシュしてディールの遮断判定を行う。
// キャッシュはttl経過後の最初の判定で再読み込みする。
type Blacklist struct {
	repo   repository.BlacklistRepository
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	rules    []compiledRule
	loadedAt time.Time
}

// NewBlacklist はBlacklistを生成する。
func NewBlacklist(repo repository.BlacklistRepository, ttl time.Duration, logger *slog.Logger) *Blacklist {
	return &Blacklist{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// Check はディールがブラックリストに該当するかを判定し、該当した場合は理由を返す。
func (b *Blacklist) Check(ctx context.Context, d *model.Deal) (bool, string, error) {
	rules, err := b.load(ctx)
	if err != nil {
		return false, "", err
	}

	for _, r := range rules {
		for _, text := range targetTexts(d, r.entry.TargetField) {
			if r.matches(text) {
				reason := r.entry.Reason
				if reason == "" {
					reason = fmt.Sprintf("blacklist: %s", r.entry.Pattern)
				}
				return true, reason, nil
			}
		}
	}
	return false, "", nil
}

func (b *Blacklist) load(ctx context.Context) ([]compiledRule, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if b.rules != nil && now.Sub(b.loadedAt) < b.ttl {
		return b.rules, nil
	}

	entries, err := b.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("ブラックリストの読み込みに失敗しました: %w", err)
	}

	rules := make([]compiledRule, 0, len(entries))
	for _, e := range entries {
		rule := compiledRule{entry: e}
		if e.Type == model.BlacklistTypeRegex {
			re, err := regexp.Compile("(?i)" + e.Pattern)
			if err != nil {
				b.logger.Warn("ブラックリストの正規表現が不正です",
					slog.String("blacklist_id", e.ID),
					slog.String("pattern", e.Pattern),
					slog.String("error", err.Error()),
				)
				continue
			}
			rule.re = re
		}
		rules = append(rules, rule)
	}

	b.rules = rules
	b.loadedAt = now
	return rules, nil
}

func (r compiledRule) matches(text string) bool {
	if text == "" {
		return false
	}
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(r.entry.Pattern))
}

func targetTexts(d *model.Deal, field string) []string {
	switch field {
	case "title":
		return []string{d.Title}
	case "content":
		return []string{d.Content}
	case "author":
		return []string{d.Author}
	default:
		return []string{d.Title, d.Content, d.Author}
	}
}
