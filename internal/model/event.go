package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // distroless環境でもLoadLocationを使えるようにする
)

// EventTimeKind はイベント時刻の種別を表す。
type EventTimeKind int

const (
	// EventTimeInstant はタイムゾーン付きの時刻指定。
	EventTimeInstant EventTimeKind = iota + 1
	// EventTimeAllDay は日付のみの終日指定。
	EventTimeAllDay
)

// String は種別名を返す。永続化時のカラム値としても使用する。
func (k EventTimeKind) String() string {
	switch k {
	case EventTimeInstant:
		return "instant"
	case EventTimeAllDay:
		return "all_day"
	default:
		return "unknown"
	}
}

// localDateTimeLayouts はオフセットを持たない日時表記のレイアウト。
// timeZoneと組み合わせて解釈する。
var localDateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// EventTime はイベントの開始・終了時刻を表すタグ付きバリアント。
// Instant（時刻+タイムゾーン）とAllDay（日付のみ）のいずれか一方のみを保持する。
// ゼロ値はどちらでもない未設定状態。
type EventTime struct {
	kind     EventTimeKind
	at       time.Time
	timeZone string
}

// Instant はタイムゾーン付きの時刻指定を生成する。
func Instant(at time.Time, timeZone string) EventTime {
	return EventTime{kind: EventTimeInstant, at: at, timeZone: timeZone}
}

// AllDay は終日指定を生成する。時刻部分は切り捨ててUTCの0時に正規化する。
func AllDay(date time.Time) EventTime {
	y, m, d := date.Date()
	return EventTime{kind: EventTimeAllDay, at: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseEventTime はリモートAPIの時刻表現からEventTimeを生成する。
// dateTimeとdateの両方が与えられた場合はdateTimeを優先する。
// オフセットのないdateTimeはtimeZoneの地域時刻として解釈する。
func ParseEventTime(dateTime, date, timeZone string) (EventTime, error) {
	var loc *time.Location
	if timeZone != "" {
		l, err := time.LoadLocation(timeZone)
		if err != nil {
			return EventTime{}, fmt.Errorf("unknown time zone %q: %w", timeZone, err)
		}
		loc = l
	}

	if dateTime != "" {
		if at, err := time.Parse(time.RFC3339, dateTime); err == nil {
			return Instant(at, timeZone), nil
		}
		if loc == nil {
			return EventTime{}, fmt.Errorf("dateTime %q has no offset and no time zone", dateTime)
		}
		for _, layout := range localDateTimeLayouts {
			if at, err := time.ParseInLocation(layout, dateTime, loc); err == nil {
				return Instant(at, timeZone), nil
			}
		}
		return EventTime{}, fmt.Errorf("invalid dateTime %q", dateTime)
	}

	if date != "" {
		d, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return EventTime{}, fmt.Errorf("invalid date %q: %w", date, err)
		}
		return AllDay(d), nil
	}

	return EventTime{}, fmt.Errorf("neither dateTime nor date is set")
}

// Kind は種別を返す。
func (t EventTime) Kind() EventTimeKind { return t.kind }

// IsZero は未設定かどうかを返す。
func (t EventTime) IsZero() bool { return t.kind == 0 }

// Time は比較用の時刻を返す。AllDayの場合はその日付のUTC 0時。
func (t EventTime) Time() time.Time { return t.at }

// TimeZone はInstantのタイムゾーン識別子を返す。
func (t EventTime) TimeZone() string { return t.timeZone }

// Date はAllDayの日付をYYYY-MM-DD形式で返す。Instantの場合は空文字列。
func (t EventTime) Date() string {
	if t.kind != EventTimeAllDay {
		return ""
	}
	return t.at.Format(time.DateOnly)
}

// DateTime はInstantの時刻をRFC3339形式で返す。AllDayの場合は空文字列。
func (t EventTime) DateTime() string {
	if t.kind != EventTimeInstant {
		return ""
	}
	return t.at.Format(time.RFC3339)
}

// Equal は種別、時刻、タイムゾーンが一致するかを返す。
func (t EventTime) Equal(o EventTime) bool {
	return t.kind == o.kind && t.at.Equal(o.at) && t.timeZone == o.timeZone
}

// eventTimeJSON はリモートAPIと同じ {dateTime,timeZone} / {date} 形式のJSON表現。
type eventTimeJSON struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// MarshalJSON はjson.Marshalerを実装する。
func (t EventTime) MarshalJSON() ([]byte, error) {
	switch t.kind {
	case EventTimeInstant:
		return json.Marshal(eventTimeJSON{DateTime: t.DateTime(), TimeZone: t.timeZone})
	case EventTimeAllDay:
		return json.Marshal(eventTimeJSON{Date: t.Date()})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
func (t *EventTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = EventTime{}
		return nil
	}
	var raw eventTimeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseEventTime(raw.DateTime, raw.Date, raw.TimeZone)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Event はローカルにミラーされたカレンダーイベントを表す。
// IDはリモートAPIが採番した識別子で不変。
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
}

// Validate はミラー対象として整合しているかを検証する。
func (e Event) Validate() error {
	if e.ID == "" {
		return NewInvalidEventError("missing id")
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return NewInvalidEventError("missing start or end")
	}
	if e.Start.Time().After(e.End.Time()) {
		return NewInvalidRangeError()
	}
	return nil
}

// MirrorWindow はリモート一覧が網羅した開始時刻の範囲 [From, Until)。
// Untilがゼロ値の場合は上限なし。
type MirrorWindow struct {
	From  time.Time
	Until time.Time
}

// Contains は開始時刻atが範囲内かを返す。
func (w MirrorWindow) Contains(at time.Time) bool {
	if at.Before(w.From) {
		return false
	}
	return w.Until.IsZero() || at.Before(w.Until)
}

// EventDraft はスケジュール登録リクエストの入力。
type EventDraft struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
}

// Validate はリモート呼び出し前に入力を検証する。
// 開始・終了はいずれもタイムゾーン付きのInstantでなければならない。
func (d EventDraft) Validate() error {
	if strings.TrimSpace(d.Summary) == "" {
		return NewInvalidEventError("summary is required")
	}
	bounds := []struct {
		name string
		at   EventTime
	}{
		{"start", d.Start},
		{"end", d.End},
	}
	for _, b := range bounds {
		if b.at.Kind() != EventTimeInstant {
			return NewInvalidEventError(b.name + " must carry a dateTime")
		}
		if b.at.TimeZone() == "" {
			return NewInvalidEventError(b.name + " must carry a timeZone")
		}
	}
	if d.Start.Time().After(d.End.Time()) {
		return NewInvalidRangeError()
	}
	return nil
}
