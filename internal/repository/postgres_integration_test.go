package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/hitoshi/dealmoa/internal/model"
)

func intPtr(v int) *int { return &v }

func seedSource(t *testing.T, repo *PostgresSourceRepo) *model.Source {
	t.Helper()
	src, err := repo.Ensure(context.Background(), "ppomppu", "뽐뿌", "https://www.ppomppu.co.kr")
	if err != nil {
		t.Fatalf("ソースの登録に失敗: %v", err)
	}
	return src
}

func newDeal(sourceID, externalID string, publishedAt time.Time) *model.Deal {
	now := time.Now()
	return &model.Deal{
		ID:          uuid.New().String(),
		SourceID:    sourceID,
		ExternalID:  externalID,
		URL:         "https://example.com/" + externalID,
		Title:       "맥북 에어 특가 " + externalID,
		PriceSignal: model.PriceSignalNone,
		PublishedAt: publishedAt,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func seedUser(t *testing.T, repo *PostgresUserRepo, email string) *model.User {
	t.Helper()
	now := time.Now()
	u := &model.User{
		ID:          uuid.New().String(),
		Email:       email,
		IsActive:    true,
		PushEnabled: true,
		DNDStart:    model.DefaultDNDStart,
		DNDEnd:      model.DefaultDNDEnd,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(context.Background(), u); err != nil {
		t.Fatalf("ユーザーの作成に失敗: %v", err)
	}
	return u
}

func seedKeywords(t *testing.T, repo *PostgresUserKeywordRepo, userID string, inputs ...model.KeywordInput) {
	t.Helper()
	now := time.Now()
	var kws []*model.UserKeyword
	for i, in := range inputs {
		kws = append(kws, &model.UserKeyword{
			ID:          uuid.New().String(),
			UserID:      userID,
			Keyword:     in.Keyword,
			IsInclusion: in.IsInclusion,
			IsActive:    true,
			CreatedAt:   now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:   now,
		})
	}
	if err := repo.CreateBatch(context.Background(), kws, 20); err != nil {
		t.Fatalf("キーワードの作成に失敗: %v", err)
	}
}

func TestPostgresDealRepo_CreateDuplicate_ReturnsConflict(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := seedSource(t, NewPostgresSourceRepo(db))
	repo := NewPostgresDealRepo(db)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.Create(ctx, newDeal(src.ID, "1001", time.Now()))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, model.ErrConflict):
		default:
			t.Fatalf("想定外のエラー: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("作成件数 = %d, want 1", created)
	}
}

func TestPostgresDealRepo_PipelineMarkers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := seedSource(t, NewPostgresSourceRepo(db))
	repo := NewPostgresDealRepo(db)

	d := newDeal(src.ID, "2001", time.Now())
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	got, err := repo.FindByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.KeywordsExtractedAt != nil || got.MatchedAt != nil {
		t.Fatalf("作成直後のマーカー = %v / %v, want nil", got.KeywordsExtractedAt, got.MatchedAt)
	}

	extracted := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	matched := extracted.Add(time.Minute)
	if err := repo.MarkKeywordsExtracted(ctx, d.ID, extracted); err != nil {
		t.Fatalf("MarkKeywordsExtracted failed: %v", err)
	}
	if err := repo.MarkMatched(ctx, d.ID, matched); err != nil {
		t.Fatalf("MarkMatched failed: %v", err)
	}

	got, err = repo.FindByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.KeywordsExtractedAt == nil || !got.KeywordsExtractedAt.Equal(extracted) {
		t.Errorf("KeywordsExtractedAt = %v, want %v", got.KeywordsExtractedAt, extracted)
	}
	if got.MatchedAt == nil || !got.MatchedAt.Equal(matched) {
		t.Errorf("MatchedAt = %v, want %v", got.MatchedAt, matched)
	}
}

func TestPostgresDealRepo_RefreshCounters_NeverRegresses(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := seedSource(t, NewPostgresSourceRepo(db))
	repo := NewPostgresDealRepo(db)

	d := newDeal(src.ID, "2001", time.Now())
	d.Upvotes = 10
	d.ViewCount = 500
	d.Price = intPtr(10000)
	if err := repo.Create(ctx, d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repo.RefreshCounters(ctx, d.ID, model.CounterUpdate{Upvotes: 3, ViewCount: 800, CommentCount: 2})
	if err != nil {
		t.Fatalf("RefreshCounters failed: %v", err)
	}
	if got.Upvotes != 10 {
		t.Errorf("Upvotes = %d, want 10（減少しないこと）", got.Upvotes)
	}
	if got.ViewCount != 800 || got.CommentCount != 2 {
		t.Errorf("ViewCount/CommentCount = %d/%d, want 800/2", got.ViewCount, got.CommentCount)
	}
	if got.Price == nil || *got.Price != 10000 {
		t.Errorf("Price = %v, want 10000（nilで上書きしないこと）", got.Price)
	}

	if _, err := repo.RefreshCounters(ctx, uuid.New().String(), model.CounterUpdate{}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("存在しないディール: err = %v, want ErrNotFound", err)
	}
}

func TestPostgresDealRepo_ListMatching_OrderAndExclusion(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := seedSource(t, NewPostgresSourceRepo(db))
	deals := NewPostgresDealRepo(db)
	keywords := NewPostgresDealKeywordRepo(db)
	now := time.Now()

	mk := func(ext string, upvotes int, kws ...string) *model.Deal {
		d := newDeal(src.ID, ext, now)
		d.Upvotes = upvotes
		if err := deals.Create(ctx, d); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		var dk []model.DealKeyword
		for _, kw := range kws {
			dk = append(dk, model.DealKeyword{DealID: d.ID, Keyword: kw, Field: model.KeywordFieldTitle})
		}
		if err := keywords.Replace(ctx, d.ID, dk); err != nil {
			t.Fatalf("Replace failed: %v", err)
		}
		return d
	}

	low := mk("a", 1, "맥북", "세일")
	high := mk("b", 5, "맥북")
	mk("c", 9, "맥북", "중고")
	old := newDeal(src.ID, "d", now.AddDate(0, 0, -10))
	if err := deals.Create(ctx, old); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, total, err := deals.ListMatching(ctx, DealMatchQuery{
		Inclusion: []string{"맥북"},
		Exclusion: []string{"중고"},
		Since:     now.AddDate(0, 0, -7),
		Now:       now,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("ListMatching failed: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	var ids []string
	for _, d := range got {
		ids = append(ids, d.ID)
	}
	if diff := cmp.Diff([]string{high.ID, low.ID}, ids); diff != "" {
		t.Errorf("並び順が不正 (-want +got):\n%s", diff)
	}
}

func TestPostgresPriceHistoryRepo_Statistics(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := seedSource(t, NewPostgresSourceRepo(db))
	d := newDeal(src.ID, "3001", time.Now())
	if err := NewPostgresDealRepo(db).Create(ctx, d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	repo := NewPostgresPriceHistoryRepo(db)

	stats, err := repo.Statistics(ctx, d.ID)
	if err != nil || stats != nil {
		t.Fatalf("履歴なし: stats=%v err=%v, want nil,nil", stats, err)
	}

	base := time.Now().Add(-time.Hour)
	for i, p := range []int{12000, 10000, 11000} {
		err := repo.Append(ctx, &model.PriceHistoryRecord{
			ID: uuid.New().String(), DealID: d.ID, Price: p, RecordedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	stats, err = repo.Statistics(ctx, d.ID)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	want := &model.PriceStatistics{Lowest: 10000, Highest: 12000, Average: 11000, Current: intPtr(11000), RecordCount: 3}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("Statistics mismatch (-want +got):\n%s", diff)
	}
}

func TestPostgresNotificationRepo_UniquePerUserDeal(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := seedSource(t, NewPostgresSourceRepo(db))
	d := newDeal(src.ID, "4001", time.Now())
	if err := NewPostgresDealRepo(db).Create(ctx, d); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	u := seedUser(t, NewPostgresUserRepo(db), "a@example.com")
	repo := NewPostgresNotificationRepo(db)

	newNotification := func() *model.Notification {
		now := time.Now()
		return &model.Notification{
			ID: uuid.New().String(), UserID: u.ID, DealID: d.ID,
			Title: "🔥 맥북 핫딜!", Body: d.Title, MatchedKeywords: []string{"맥북"},
			Status: model.NotificationStatusPending, CreatedAt: now, UpdatedAt: now,
		}
	}

	first := newNotification()
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := repo.Create(ctx, newNotification()); !errors.Is(err, model.ErrConflict) {
		t.Errorf("2件目: err = %v, want ErrConflict", err)
	}

	ok, err := repo.MarkSent(ctx, first.ID, time.Now(), []byte(`{"success":1}`))
	if err != nil || !ok {
		t.Fatalf("MarkSent: ok=%v err=%v", ok, err)
	}
	// SENTからFAILEDやSENTへの再遷移はできない
	if ok, _ := repo.MarkFailed(ctx, first.ID, "timeout", nil); ok {
		t.Error("SENTの通知がFAILEDに遷移した")
	}
	if ok, _ := repo.MarkSent(ctx, first.ID, time.Now(), nil); ok {
		t.Error("SENTの通知が再度SENTに遷移した")
	}

	got, err := repo.FindByID(ctx, first.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.Status != model.NotificationStatusSent || got.SentAt == nil {
		t.Errorf("Status = %s SentAt = %v, want SENT with sent_at", got.Status, got.SentAt)
	}
	if diff := cmp.Diff([]string{"맥북"}, got.MatchedKeywords); diff != "" {
		t.Errorf("MatchedKeywords mismatch (-want +got):\n%s", diff)
	}
}

func TestPostgresNotificationRepo_ListDuePending(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, NewPostgresUserRepo(db), "b@example.com")
	repo := NewPostgresNotificationRepo(db)
	now := time.Now()

	create := func(scheduledFor *time.Time, createdAt time.Time) string {
		n := &model.Notification{
			ID: uuid.New().String(), UserID: u.ID, Title: "t",
			Status: model.NotificationStatusPending, ScheduledFor: scheduledFor,
			CreatedAt: createdAt, UpdatedAt: createdAt,
		}
		if err := repo.Create(ctx, n); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		return n.ID
	}

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	due := create(&past, now.Add(-2*time.Hour))
	create(&future, now)
	stale := create(nil, now.Add(-30*time.Minute))
	create(nil, now)

	got, err := repo.ListDuePending(ctx, now, now.Add(-10*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListDuePending failed: %v", err)
	}
	var ids []string
	for _, n := range got {
		ids = append(ids, n.ID)
	}
	if diff := cmp.Diff([]string{stale, due}, ids); diff != "" {
		t.Errorf("ListDuePending mismatch (-want +got):\n%s", diff)
	}
}

func TestPostgresUserKeywordRepo_CreateBatch_AllOrNothing(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, NewPostgresUserRepo(db), "c@example.com")
	repo := NewPostgresUserKeywordRepo(db)
	seedKeywords(t, repo, u.ID, model.KeywordInput{Keyword: "맥북", IsInclusion: true})

	now := time.Now()
	batch := []*model.UserKeyword{
		{ID: uuid.New().String(), UserID: u.ID, Keyword: "아이폰", IsInclusion: true, IsActive: true, CreatedAt: now, UpdatedAt: now},
		{ID: uuid.New().String(), UserID: u.ID, Keyword: "맥북", IsInclusion: true, IsActive: true, CreatedAt: now, UpdatedAt: now},
	}
	if err := repo.CreateBatch(ctx, batch, 20); !errors.Is(err, model.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	count, err := repo.CountActiveByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("CountActiveByUser failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1（一括追加はロールバックされること）", count)
	}
}

func TestPostgresUserKeywordRepo_CreateBatch_ConcurrentQuota(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, NewPostgresUserRepo(db), "q@example.com")
	repo := NewPostgresUserKeywordRepo(db)

	const maxActive = 3
	seedKeywords(t, repo, u.ID,
		model.KeywordInput{Keyword: "맥북", IsInclusion: true},
		model.KeywordInput{Keyword: "아이폰", IsInclusion: true},
	)

	// 残り1枠に対して同時に登録する
	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			now := time.Now()
			kw := &model.UserKeyword{
				ID:          uuid.New().String(),
				UserID:      u.ID,
				Keyword:     fmt.Sprintf("키워드%d", i),
				IsInclusion: true,
				IsActive:    true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			errs[i] = repo.CreateBatch(ctx, []*model.UserKeyword{kw}, maxActive)
		}(i)
	}
	wg.Wait()

	var ok, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrKeywordLimit):
			limited++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || limited != workers-1 {
		t.Errorf("ok/limited = %d/%d, want 1/%d", ok, limited, workers-1)
	}

	count, err := repo.CountActiveByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("CountActiveByUser failed: %v", err)
	}
	if count != maxActive {
		t.Errorf("count = %d, want %d", count, maxActive)
	}
}

func TestPostgresUserKeywordRepo_SetActive_ConcurrentQuota(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := seedUser(t, NewPostgresUserRepo(db), "r@example.com")
	repo := NewPostgresUserKeywordRepo(db)

	const maxActive = 2
	seedKeywords(t, repo, u.ID,
		model.KeywordInput{Keyword: "맥북", IsInclusion: true},
		model.KeywordInput{Keyword: "아이폰", IsInclusion: true},
	)
	active, err := repo.ListActiveByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListActiveByUser failed: %v", err)
	}
	for _, kw := range active {
		if err := repo.SetActive(ctx, kw.ID, false, maxActive); err != nil {
			t.Fatalf("SetActive(false) failed: %v", err)
		}
	}
	// 無効なものを1件足して、再有効化の候補を3件にする
	seedKeywords(t, repo, u.ID, model.KeywordInput{Keyword: "아이패드", IsInclusion: true})
	third, err := repo.ListActiveByUser(ctx, u.ID)
	if err != nil || len(third) != 1 {
		t.Fatalf("ListActiveByUser = %v, %v", third, err)
	}
	if err := repo.SetActive(ctx, third[0].ID, false, maxActive); err != nil {
		t.Fatalf("SetActive(false) failed: %v", err)
	}
	ids := []string{active[0].ID, active[1].ID, third[0].ID}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = repo.SetActive(ctx, id, true, maxActive)
		}(i, id)
	}
	wg.Wait()

	var limited int
	for _, err := range errs {
		if errors.Is(err, model.ErrKeywordLimit) {
			limited++
		} else if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if limited != 1 {
		t.Errorf("limited = %d, want 1", limited)
	}
	count, err := repo.CountActiveByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("CountActiveByUser failed: %v", err)
	}
	if count != maxActive {
		t.Errorf("count = %d, want %d", count, maxActive)
	}
}

func TestPostgresUserRepo_ListMatchCandidates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	keywords := NewPostgresUserKeywordRepo(db)

	a := seedUser(t, users, "match@example.com")
	seedKeywords(t, keywords, a.ID,
		model.KeywordInput{Keyword: "맥북", IsInclusion: true},
		model.KeywordInput{Keyword: "중고", IsInclusion: false},
	)
	b := seedUser(t, users, "other@example.com")
	seedKeywords(t, keywords, b.ID, model.KeywordInput{Keyword: "아이폰", IsInclusion: true})

	got, err := users.ListMatchCandidates(ctx, []string{"맥북", "세일"})
	if err != nil {
		t.Fatalf("ListMatchCandidates failed: %v", err)
	}
	if len(got) != 1 || got[0].User.ID != a.ID {
		t.Fatalf("候補 = %+v, want user %s only", got, a.ID)
	}
	if len(got[0].Keywords) != 2 {
		t.Errorf("Keywords = %d, want 2（除外キーワードも含む）", len(got[0].Keywords))
	}
	if got[0].User.DNDStart != model.DefaultDNDStart {
		t.Errorf("DNDStart = %v, want %v", got[0].User.DNDStart, model.DefaultDNDStart)
	}
}
