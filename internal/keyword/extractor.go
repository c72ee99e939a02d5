package keyword

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/dealmoa/internal/model"
)

var (
	hangulWordRe = regexp.MustCompile(`[가-힣]{2,}`)
	// 前後の境界はstandaloneで判定する（\bはASCIIしか単語文字とみなさない）
	asciiWordRe    = regexp.MustCompile(`[A-Za-z]{2,}`)
	alphanumericRe = regexp.MustCompile(`[A-Z0-9]{3,}`)

	// 商品名・型番のパターン（例: 갤럭시S23, 아이폰 15, RTX 4090）
	modelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)갤럭시\s*[A-Z]?\d+`),
		regexp.MustCompile(`(?i)아이폰\s*\d+`),
		regexp.MustCompile(`(?i)RTX\s*\d+`),
		regexp.MustCompile(`(?i)GTX\s*\d+`),
		regexp.MustCompile(`(?i)[A-Z]+\d{3,}`),
	}

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// stopWords は抽出対象外とする韓国語の機能語・一般語。
var stopWords = map[string]struct{}{
	"입니다": {}, "있습니다": {}, "합니다": {}, "됩니다": {}, "하는": {}, "있는": {}, "되는": {},
	"이": {}, "가": {}, "을": {}, "를": {}, "은": {}, "는": {}, "의": {}, "에": {}, "에서": {}, "으로": {}, "로": {},
	"이다": {}, "하다": {}, "되다": {}, "있다": {}, "없다": {}, "좋다": {}, "나쁘다": {},
	"그": {}, "저": {}, "이것": {}, "저것": {}, "그것": {}, "여기": {}, "저기": {}, "거기": {},
	"오늘": {}, "어제": {}, "내일": {}, "지금": {}, "현재": {}, "최근": {},
	"및": {}, "또한": {}, "그리고": {}, "하지만": {}, "그러나": {}, "등": {},
}

// IsStopWord はwordが抽出対象外の語かどうかを返す。
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// ExtractorConfig はキーワード抽出の上限設定。
type ExtractorConfig struct {
	MaxKeywords         int // ディールあたりの最大キーワード数
	MaxContentKeywords  int // 本文から採用する最大キーワード数
	ContentExcerptChars int // 本文の先頭から抽出対象とする文字数
}

// DefaultExtractorConfig はデフォルトの抽出設定を返す。
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		MaxKeywords:         50,
		MaxContentKeywords:  20,
		ContentExcerptChars: 500,
	}
}

// Extractor はディールのテキストからマッチング用のキーワードを抽出する。
// 同じ入力に対して常に同じ結果を返す。
type Extractor struct {
	cfg ExtractorConfig
}

// NewExtractor はExtractorを生成する。
func NewExtractor(cfg ExtractorConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// orderedSet は挿入順を保持する文字列集合。
type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) bool {
	if v == "" {
		return false
	}
	if _, ok := s.seen[v]; ok {
		return false
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

// Keywords は1つのテキストからキーワードを抽出する。
// 結果は正規化済みで重複を含まず、MaxKeywords件以下に切り詰められる。
func (e *Extractor) Keywords(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	set := newOrderedSet()

	for _, w := range hangulWordRe.FindAllString(text, -1) {
		if !IsStopWord(w) {
			set.add(w)
		}
	}
	for _, w := range standaloneMatches(asciiWordRe, text) {
		set.add(strings.ToLower(w))
	}
	for _, w := range standaloneMatches(alphanumericRe, strings.ToUpper(text)) {
		set.add(strings.ToLower(w))
	}
	for _, re := range modelPatterns {
		for _, m := range re.FindAllString(text, -1) {
			set.add(strings.ToLower(whitespaceRe.ReplaceAllString(m, "")))
		}
	}

	if e.cfg.MaxKeywords > 0 && len(set.items) > e.cfg.MaxKeywords {
		return set.items[:e.cfg.MaxKeywords]
	}
	return set.items
}

// standaloneMatches はreのマッチのうち、前後が文字・数字に接していないものを返す。
// 맥북Pro のように他の文字と連続した英字は単語として扱わない。
func standaloneMatches(re *regexp.Regexp, text string) []string {
	var out []string
	for _, loc := range re.FindAllStringIndex(text, -1) {
		if loc[0] > 0 {
			if r, _ := utf8.DecodeLastRuneInString(text[:loc[0]]); isWordRune(r) {
				continue
			}
		}
		if loc[1] < len(text) {
			if r, _ := utf8.DecodeRuneInString(text[loc[1]:]); isWordRune(r) {
				continue
			}
		}
		out = append(out, text[loc[0]:loc[1]])
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ExtractDeal はタイトル・商品名・本文抜粋からキーワードを抽出する。
// フィールド間で重複したキーワードは最初に現れたフィールドに帰属する。
func (e *Extractor) ExtractDeal(d *model.Deal) []model.DealKeyword {
	set := newOrderedSet()
	var out []model.DealKeyword

	appendField := func(field model.KeywordField, keywords []string) {
		for _, kw := range keywords {
			if e.cfg.MaxKeywords > 0 && len(out) >= e.cfg.MaxKeywords {
				return
			}
			if set.add(kw) {
				out = append(out, model.DealKeyword{DealID: d.ID, Keyword: kw, Field: field})
			}
		}
	}

	appendField(model.KeywordFieldTitle, e.Keywords(d.Title))
	appendField(model.KeywordFieldProductName, e.Keywords(d.ProductName))

	if d.Content != "" {
		contentKeywords := e.Keywords(excerpt(d.Content, e.cfg.ContentExcerptChars))
		if e.cfg.MaxContentKeywords > 0 && len(contentKeywords) > e.cfg.MaxContentKeywords {
			contentKeywords = contentKeywords[:e.cfg.MaxContentKeywords]
		}
		appendField(model.KeywordFieldContent, contentKeywords)
	}

	return out
}

// excerpt は先頭からn文字（rune単位）を返す。
func excerpt(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Values はDealKeywordからキーワード文字列のみを取り出す。
func Values(keywords []model.DealKeyword) []string {
	out := make([]string, len(keywords))
	for i, kw := range keywords {
		out[i] = kw.Keyword
	}
	return out
}
