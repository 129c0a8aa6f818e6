package telegram

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
)

// maxMessageRunes keeps replies under Telegram's 4096 character limit.
const maxMessageRunes = 4000

// Client is a Telegram Bot API commander.
type Client struct {
	bot *tgbotapi.BotAPI
}

// NewClient connects to the Bot API. apiEndpoint is a format string with
// two %s verbs (token, method); empty selects tgbotapi.APIEndpoint.
// requestTimeout must exceed the long-poll timeout.
func NewClient(token, apiEndpoint string, requestTimeout time.Duration) (*Client, error) {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, &http.Client{Timeout: requestTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram connect failed: %w", err)
	}
	return &Client{bot: bot}, nil
}

// Username is the bot's own username.
func (c *Client) Username() string {
	return c.bot.Self.UserName
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

// GetUpdates calls the getUpdates API. Text messages become Messages and
// callback queries become Selections; everything else is skipped but still
// advances the offset through its UpdateID.
func (c *Client) GetUpdates(offset int64, timeout int) ([]Update, error) {
	raws, err := c.bot.GetUpdates(tgbotapi.UpdateConfig{
		Offset:         int(offset),
		Timeout:        timeout,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates request failed: %w", err)
	}

	updates := make([]Update, 0, len(raws))
	for _, ru := range raws {
		u := Update{UpdateID: int64(ru.UpdateID)}
		switch {
		case ru.Message != nil && ru.Message.Chat != nil:
			u.Message = convertMessage(ru.Message)
		case ru.CallbackQuery != nil && ru.CallbackQuery.Message != nil && ru.CallbackQuery.Message.Chat != nil:
			u.Selection = &cmdpkg.Selection{
				ID:        ru.CallbackQuery.ID,
				Chat:      Chat{ID: ru.CallbackQuery.Message.Chat.ID},
				MessageID: ru.CallbackQuery.Message.MessageID,
				Data:      strings.TrimSpace(ru.CallbackQuery.Data),
			}
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func convertMessage(m *tgbotapi.Message) *Message {
	msg := &Message{
		MessageID: m.MessageID,
		Chat:      Chat{ID: m.Chat.ID},
		Date:      int64(m.Date),
	}
	if m.From != nil {
		msg.From = &cmdpkg.User{ID: m.From.ID, FirstName: m.From.FirstName}
	}
	if m.Text != "" {
		text := m.Text
		msg.Text = &text
	}
	return msg
}

// SendMessage sends a text message to the given chat.
func (c *Client) SendMessage(chatID int64, text string) error {
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, truncate(text, maxMessageRunes))); err != nil {
		return fmt.Errorf("telegram sendMessage request failed: %w", err)
	}
	return nil
}

// SendTyping shows the "typing..." chat action.
func (c *Client) SendTyping(chatID int64) error {
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("telegram sendChatAction failed: %w", err)
	}
	return nil
}

// SendModeMenu sends prompt with one inline button per option.
func (c *Client) SendModeMenu(chatID int64, prompt string, options []cmdpkg.MenuOption) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options))
	for _, opt := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(opt.Title, opt.Data)))
	}
	msg := tgbotapi.NewMessage(chatID, prompt)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := c.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram sendModeMenu failed: %w", err)
	}
	return nil
}

// AnswerSelection acknowledges the callback and replaces the menu message
// with text.
func (c *Client) AnswerSelection(sel *cmdpkg.Selection, text string) error {
	if sel.ID != "" {
		if _, err := c.bot.Request(tgbotapi.NewCallback(sel.ID, "")); err != nil {
			return fmt.Errorf("telegram answerCallbackQuery failed: %w", err)
		}
	}
	if sel.MessageID == 0 {
		return c.SendMessage(sel.Chat.ID, text)
	}
	edit := tgbotapi.NewEditMessageText(sel.Chat.ID, sel.MessageID, truncate(text, maxMessageRunes))
	if _, err := c.bot.Send(edit); err != nil {
		return fmt.Errorf("telegram editMessageText failed: %w", err)
	}
	return nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
