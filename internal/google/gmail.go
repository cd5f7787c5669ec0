package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"

	"github.com/tracyai/tracy/internal/model"
	"github.com/tracyai/tracy/internal/security"
)

const (
	gmailUser       = "me"
	unreadQuery     = "is:unread"
	maxSnippetRunes = 200
	providerGmail   = "gmail"
	headerSubject   = "Subject"
	headerFrom      = "From"
	headerDate      = "Date"
)

// ListUnreadEmails は未読メールをGMAIL_MAX_RESULTS件まで取得し、統一形式に変換して返す。
// 各メッセージのメタデータ取得はGMAIL_FETCH_CONCURRENCYを上限に並列実行する。
// 1件でも失敗した場合は一覧全体を失敗とする。
func (g *Gateway) ListUnreadEmails(ctx context.Context, userID string) ([]model.Email, error) {
	opts, err := g.clientOptions(ctx, userID, model.ServiceGmail)
	if err != nil {
		return nil, err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, model.NewUpstreamError(providerGmail, "client", err)
	}

	start := time.Now()
	list, err := svc.Users.Messages.List(gmailUser).
		Q(unreadQuery).
		MaxResults(g.opts.GmailMaxResults).
		Context(ctx).
		Do()
	g.observe(providerGmail, "messages.list", start, err)
	if err != nil {
		return nil, model.NewUpstreamError(providerGmail, "messages.list", err)
	}

	emails := make([]model.Email, len(list.Messages))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.GmailFetchConcurrency)

	for i, ref := range list.Messages {
		i, ref := i, ref
		eg.Go(func() error {
			start := time.Now()
			msg, err := svc.Users.Messages.Get(gmailUser, ref.Id).
				Format("metadata").
				MetadataHeaders(headerSubject, headerFrom, headerDate).
				Context(egCtx).
				Do()
			g.observe(providerGmail, "messages.get", start, err)
			if err != nil {
				return fmt.Errorf("message %s: %w", ref.Id, err)
			}
			emails[i] = g.normalizeEmail(msg)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, model.NewUpstreamError(providerGmail, "messages.get", err)
	}
	return emails, nil
}

// normalizeEmail はGmailのメッセージを統一形式に変換する。
func (g *Gateway) normalizeEmail(msg *gmail.Message) model.Email {
	email := model.Email{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  security.Truncate(g.sanitizer.SanitizeLine(msg.Snippet), maxSnippetRunes),
	}
	if msg.Payload == nil {
		return email
	}
	for _, h := range msg.Payload.Headers {
		switch {
		case strings.EqualFold(h.Name, headerSubject):
			email.Subject = decodeHeader(h.Value)
		case strings.EqualFold(h.Name, headerFrom):
			email.From = decodeHeader(h.Value)
		case strings.EqualFold(h.Name, headerDate):
			email.Date = h.Value
		}
	}
	return email
}

// decodeHeader はRFC 2047でエンコードされたヘッダー値を復元する。復元できなければ元の値を返す。
func decodeHeader(v string) string {
	decoded, err := new(mime.WordDecoder).DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

// SendEmail はメールを1回のAPI呼び出しで送信し、送信されたメッセージのIDを返す。
func (g *Gateway) SendEmail(ctx context.Context, userID string, out model.OutgoingEmail) (string, error) {
	raw, err := BuildRawMessage(out)
	if err != nil {
		return "", err
	}

	opts, err := g.clientOptions(ctx, userID, model.ServiceGmail)
	if err != nil {
		return "", err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return "", model.NewUpstreamError(providerGmail, "client", err)
	}

	start := time.Now()
	sent, err := svc.Users.Messages.Send(gmailUser, &gmail.Message{Raw: raw}).Context(ctx).Do()
	g.observe(providerGmail, "messages.send", start, err)
	if err != nil {
		return "", model.NewUpstreamError(providerGmail, "messages.send", err)
	}
	return sent.Id, nil
}

// InvalidEmailError は送信内容が不正であることを示す。
type InvalidEmailError struct {
	Reason string
}

func (e *InvalidEmailError) Error() string {
	return "invalid email: " + e.Reason
}

// BuildRawMessage はRFC 2822形式のメッセージを組み立て、base64url（パディングあり）でエンコードする。
func BuildRawMessage(out model.OutgoingEmail) (string, error) {
	if strings.ContainsAny(out.To, "\r\n") || strings.ContainsAny(out.Subject, "\r\n") {
		return "", &InvalidEmailError{Reason: "header values must not contain line breaks"}
	}
	to, err := mail.ParseAddress(out.To)
	if err != nil {
		return "", &InvalidEmailError{Reason: "recipient is not a valid address"}
	}

	var b strings.Builder
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", out.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(out.Body, "\r\n", "\n"), "\n", "\r\n"))

	return base64.URLEncoding.EncodeToString([]byte(b.String())), nil
}
