// Package notification は通知の予約・配信・送信待ちスイープ・受信箱を提供する。
package notification

import (
	"time"

	"github.com/hitoshi/dealmoa/internal/model"
)

// InDND はnowがユーザーのおやすみモード時間帯に含まれるかを返す。
// 時間帯は[start, end)の半開区間で、start > end の場合は日付をまたぐ。
// start == end の場合は空の時間帯として扱う。nowはユーザーのタイムゾーンで渡すこと。
func InDND(u *model.User, now time.Time) bool {
	if !u.DNDEnabled {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	start := u.DNDStart.Minutes()
	end := u.DNDEnd.Minutes()

	if start > end {
		return cur >= start || cur < end
	}
	return start <= cur && cur < end
}

// NextSendTime はおやすみモード明けの送信予定時刻を返す。
// 当日のdnd_endを過ぎている場合は翌日のdnd_endとなる。
func NextSendTime(u *model.User, now time.Time) time.Time {
	scheduled := u.DNDEnd.On(now)
	if !now.Before(scheduled) {
		scheduled = u.DNDEnd.On(now.AddDate(0, 0, 1))
	}
	return scheduled
}
