// Package keyword はディールからのキーワード抽出とユーザーキーワード管理を提供する。
package keyword

import "strings"

// Normalize はキーワードを小文字化し、前後の空白を除去して連続する空白を1つにまとめる。
// 抽出キーワードとユーザーキーワードは同じ正規化を経て完全一致で比較される。
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeAll は各キーワードを正規化し、空になったものを除いて返す。
func NormalizeAll(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if n := Normalize(kw); n != "" {
			out = append(out, n)
		}
	}
	return out
}
