package google

import (
	"context"
	"time"

	"google.golang.org/api/calendar/v3"

	"github.com/tracyai/tracy/internal/model"
)

const (
	providerCalendar = "calendar"
	primaryCalendar  = "primary"
)

// ListEvents はプライマリカレンダーの今後の予定を開始時刻順に返す。
func (g *Gateway) ListEvents(ctx context.Context, userID string) ([]model.CalendarEvent, error) {
	svc, cancel, err := g.calendarService(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer cancel()

	start := time.Now()
	events, err := svc.Events.List(primaryCalendar).
		TimeMin(g.now().UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(g.opts.CalendarMaxResults).
		Context(svc.ctx).
		Do()
	g.observe(providerCalendar, "events.list", start, err)
	if err != nil {
		return nil, model.NewUpstreamError(providerCalendar, "events.list", err)
	}

	result := make([]model.CalendarEvent, 0, len(events.Items))
	for _, item := range events.Items {
		result = append(result, normalizeEvent(item))
	}
	return result, nil
}

// ListCalendars はユーザーのカレンダー一覧を返す。
func (g *Gateway) ListCalendars(ctx context.Context, userID string) ([]model.RemoteCalendar, error) {
	svc, cancel, err := g.calendarService(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer cancel()

	start := time.Now()
	list, err := svc.CalendarList.List().Context(svc.ctx).Do()
	g.observe(providerCalendar, "calendarList.list", start, err)
	if err != nil {
		return nil, model.NewUpstreamError(providerCalendar, "calendarList.list", err)
	}

	result := make([]model.RemoteCalendar, 0, len(list.Items))
	for _, item := range list.Items {
		summary := item.Summary
		if item.SummaryOverride != "" {
			summary = item.SummaryOverride
		}
		result = append(result, model.RemoteCalendar{
			ID:      item.Id,
			Summary: summary,
			Color:   item.BackgroundColor,
			Primary: item.Primary,
		})
	}
	return result, nil
}

// boundCalendar はタイムアウト付きctxとCalendar APIクライアントの組。
type boundCalendar struct {
	*calendar.Service
	ctx context.Context
}

func (g *Gateway) calendarService(ctx context.Context, userID string) (*boundCalendar, context.CancelFunc, error) {
	opts, err := g.clientOptions(ctx, userID, model.ServiceCalendar)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := g.withTimeout(ctx)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		cancel()
		return nil, nil, model.NewUpstreamError(providerCalendar, "client", err)
	}
	return &boundCalendar{Service: svc, ctx: ctx}, cancel, nil
}

// normalizeEvent はCalendar APIのイベントを統一形式に変換する。
// 終日予定はDate（YYYY-MM-DD）をそのまま使う。
func normalizeEvent(item *calendar.Event) model.CalendarEvent {
	event := model.CalendarEvent{
		ID:       item.Id,
		Title:    item.Summary,
		Location: item.Location,
		Link:     item.HtmlLink,
	}
	if item.Start != nil {
		if item.Start.DateTime != "" {
			event.Start = item.Start.DateTime
		} else {
			event.Start = item.Start.Date
			event.AllDay = true
		}
	}
	if item.End != nil {
		if item.End.DateTime != "" {
			event.End = item.End.DateTime
		} else {
			event.End = item.End.Date
		}
	}
	if event.Title == "" {
		event.Title = "(no title)"
	}
	return event
}
