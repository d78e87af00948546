package tgui

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	kit "hermes/internal/transport"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "action" or "action:payload".
func Data(action, payload string) (string, error) {
	d := strings.TrimSpace(action)
	if payload != "" {
		d += ":" + payload
	}
	if len(d) > MaxCallbackDataLen {
		return "", ErrCallbackDataTooLong
	}
	return d, nil
}

// Message is a rendered card ready to send or edit.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

func (m Message) Edit(ctx context.Context, ad kit.Adapter, ref kit.MessageRef) error {
	return ad.EditText(ctx, ref, m.Text, m.Opt)
}

// Card builds an HTML message. Text passed to Line and KV is escaped.
type Card struct {
	lines   []string
	buttons []kit.Button
}

func NewCard() *Card { return &Card{} }

func (c *Card) Title(emoji, title string) *Card {
	t := strings.TrimSpace(title)
	if t == "" {
		return c
	}
	if e := strings.TrimSpace(emoji); e != "" {
		c.lines = append(c.lines, Esc(e).String()+" "+B(t).String())
	} else {
		c.lines = append(c.lines, B(t).String())
	}
	return c
}

func (c *Card) Line(s string) *Card {
	c.lines = append(c.lines, Esc(s).String())
	return c
}

func (c *Card) Raw(h H) *Card {
	c.lines = append(c.lines, h.String())
	return c
}

func (c *Card) Blank() *Card { return c.Line("") }

// KV adds a "• key: value" row. Empty keys are ignored.
func (c *Card) KV(key, value string) *Card {
	key = strings.TrimSpace(key)
	if key == "" {
		return c
	}
	c.lines = append(c.lines, "• "+B(key).String()+": "+Esc(strings.TrimSpace(value)).String())
	return c
}

// Button appends an inline button. Data that does not fit is dropped.
func (c *Card) Button(text, action, payload string) *Card {
	data, err := Data(action, payload)
	if err != nil {
		return c
	}
	c.buttons = append(c.buttons, kit.Button{Text: text, Data: data})
	return c
}

func (c *Card) Build() Message {
	return Message{
		Text: strings.Trim(strings.Join(c.lines, "\n"), "\n"),
		Opt:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: c.buttons},
	}
}

// TruncRunes returns s cut to at most n runes, with "…" when cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "…"
		}
		count++
	}
	return s
}
