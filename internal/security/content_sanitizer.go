// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はコネクタから受け取ったHTMLをプレーンテキストに変換する。
// ディール本文の保存前とキーワード抽出前に使用される。
type TextSanitizer interface {
	// Sanitize はすべてのタグを除去し、HTMLエンティティを復元して空白を正規化したテキストを返す。
	// scriptとstyleの中身は出力に含めない。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに使用できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	p := bluemonday.StrictPolicy()
	// ブロック要素の境界で単語が連結しないよう空白を挿入する
	p.AddSpaceWhenStrippingTag(true)
	return &textSanitizer{policy: p}
}

// Sanitize はHTMLをプレーンテキストに変換する。
func (s *textSanitizer) Sanitize(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(rawHTML))
	return strings.Join(strings.Fields(text), " ")
}
