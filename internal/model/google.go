package model

// Email は正規化されたメール一覧の1件。
type Email struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Subject  string `json:"subject"`
	From     string `json:"from"`
	Date     string `json:"date"`
	Snippet  string `json:"snippet"`
}

// OutgoingEmail は送信するメールの内容。
type OutgoingEmail struct {
	To      string
	Subject string
	Body    string
}

// CalendarEvent は正規化されたカレンダーイベント。
// Start/EndはRFC 3339の日時、終日予定の場合はYYYY-MM-DDの日付。
type CalendarEvent struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Location string `json:"location,omitempty"`
	Start    string `json:"start"`
	End      string `json:"end"`
	AllDay   bool   `json:"all_day"`
	Link     string `json:"link,omitempty"`
}

// RemoteCalendar はプロバイダーのカレンダー一覧から取得した1件。
type RemoteCalendar struct {
	ID      string
	Summary string
	Color   string
	Primary bool
}
