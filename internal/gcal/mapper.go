package gcal

import (
	"fmt"

	"github.com/hitoshi/calendarbridge/internal/model"
	"google.golang.org/api/calendar/v3"
)

// toEvent はAPIのイベントをミラー用のイベントに変換する。
// dateTimeとdateの両方がある場合はdateTimeを優先する。
func toEvent(item *calendar.Event) (model.Event, error) {
	if item == nil {
		return model.Event{}, fmt.Errorf("nil event")
	}
	start, err := toEventTime(item.Start)
	if err != nil {
		return model.Event{}, fmt.Errorf("start: %w", err)
	}
	end, err := toEventTime(item.End)
	if err != nil {
		return model.Event{}, fmt.Errorf("end: %w", err)
	}

	event := model.Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
	}
	if err := event.Validate(); err != nil {
		return model.Event{}, err
	}
	return event, nil
}

func toEventTime(dt *calendar.EventDateTime) (model.EventTime, error) {
	if dt == nil {
		return model.EventTime{}, fmt.Errorf("missing time")
	}
	return model.ParseEventTime(dt.DateTime, dt.Date, dt.TimeZone)
}

func fromDraft(d model.EventDraft) *calendar.Event {
	return &calendar.Event{
		Summary:     d.Summary,
		Description: d.Description,
		Start:       fromEventTime(d.Start),
		End:         fromEventTime(d.End),
	}
}

func fromEventTime(t model.EventTime) *calendar.EventDateTime {
	switch t.Kind() {
	case model.EventTimeAllDay:
		return &calendar.EventDateTime{Date: t.Date()}
	default:
		return &calendar.EventDateTime{DateTime: t.DateTime(), TimeZone: t.TimeZone()}
	}
}
