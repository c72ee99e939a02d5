package notification

import "fmt"

const (
	// maxBodyRunes は通知本文の最大文字数。
	maxBodyRunes = 100
	// genericLabel は一致キーワードがない場合のタイトル用ラベル。
	genericLabel = "새로운"
)

// BuildTitle は最初の一致キーワードから通知タイトルを組み立てる。
func BuildTitle(matchedKeywords []string) string {
	label := genericLabel
	if len(matchedKeywords) > 0 && matchedKeywords[0] != "" {
		label = matchedKeywords[0]
	}
	return fmt.Sprintf("🔥 %s 핫딜!", label)
}

// BuildBody はディールタイトルを通知本文の長さに切り詰める。
func BuildBody(dealTitle string) string {
	runes := []rune(dealTitle)
	if len(runes) <= maxBodyRunes {
		return dealTitle
	}
	return string(runes[:maxBodyRunes])
}

// buildData はプッシュのデータペイロードを組み立てる。
func buildData(dealID string, matchType string) map[string]string {
	return map[string]string{
		"deal_id":    dealID,
		"match_type": matchType,
	}
}
