package mailer

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mailpace/internal/model"
)

// URLs holds the public link templates. MESSAGE_ID in each template is
// replaced by the base64url-encoded message id.
type URLs struct {
	Unsubscribe string
	WebView     string
	OpenTrack   string
}

// Renderer personalizes campaign content for a subscriber.
type Renderer struct {
	URLs URLs
	Now  func() time.Time
}

// NewMessageID returns a unique id scoped to the sender's domain.
func NewMessageID(fromEmail string) string {
	domain := "localhost"
	if at := strings.LastIndex(fromEmail, "@"); at >= 0 && at < len(fromEmail)-1 {
		domain = fromEmail[at+1:]
	}
	return uuid.NewString() + "@" + domain
}

// Render builds the message sent to sub for campaign c.
func (r Renderer) Render(c model.Campaign, list model.MailList, customer model.Customer, server model.SendingServer, sub model.Subscriber, msgID string) Message {
	tags := r.tags(c, list, sub, msgID)
	html := c.HTML
	if r.URLs.OpenTrack != "" && html != "" {
		html += `<img src="` + withMessageID(r.URLs.OpenTrack, msgID) + `" width="0" height="0" alt="" style="visibility:hidden" />`
	}
	from := firstNonEmpty(c.FromEmail, list.FromEmail)
	headers := map[string]string{
		"X-Mailpace-Campaign-Id":       c.UID,
		"X-Mailpace-Subscriber-Id":     sub.UID,
		"X-Mailpace-Customer-Id":       customer.UID,
		"X-Mailpace-Message-Id":        msgID,
		"X-Mailpace-Sending-Server-Id": server.UID,
		"Precedence":                   "bulk",
	}
	if r.URLs.Unsubscribe != "" {
		headers["List-Unsubscribe"] = "<" + withMessageID(r.URLs.Unsubscribe, msgID) + ">"
	}
	return Message{
		MessageID: msgID,
		From:      from,
		FromName:  firstNonEmpty(c.FromName, list.FromName),
		ReplyTo:   firstNonEmpty(c.ReplyTo, from),
		To:        sub.Email,
		Subject:   tags.Replace(c.Subject),
		HTML:      tags.Replace(html),
		Plain:     tags.Replace(c.Plain),
		Headers:   headers,
	}
}

func (r Renderer) tags(c model.Campaign, list model.MailList, sub model.Subscriber, msgID string) *strings.Replacer {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	today := now()
	pairs := []string{
		"{SUBSCRIBER_EMAIL}", sub.Email,
		"{SUBSCRIBER_UID}", sub.UID,
		"{CAMPAIGN_NAME}", c.Name,
		"{CAMPAIGN_UID}", c.UID,
		"{CAMPAIGN_SUBJECT}", c.Subject,
		"{CAMPAIGN_FROM_EMAIL}", c.FromEmail,
		"{CAMPAIGN_FROM_NAME}", c.FromName,
		"{CAMPAIGN_REPLY_TO}", c.ReplyTo,
		"{LIST_NAME}", list.Name,
		"{LIST_FROM_NAME}", list.FromName,
		"{LIST_FROM_EMAIL}", list.FromEmail,
		"{CURRENT_YEAR}", fmt.Sprintf("%04d", today.Year()),
		"{CURRENT_MONTH}", fmt.Sprintf("%02d", int(today.Month())),
		"{CURRENT_DAY}", fmt.Sprintf("%02d", today.Day()),
		"{UNSUBSCRIBE_URL}", withMessageID(r.URLs.Unsubscribe, msgID),
		"{WEB_VIEW_URL}", withMessageID(r.URLs.WebView, msgID),
	}
	for field, value := range sub.Fields {
		pairs = append(pairs, "{SUBSCRIBER_"+strings.ToUpper(field)+"}", value)
	}
	return strings.NewReplacer(pairs...)
}

func withMessageID(template, msgID string) string {
	return strings.ReplaceAll(template, "MESSAGE_ID", base64.RawURLEncoding.EncodeToString([]byte(msgID)))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
