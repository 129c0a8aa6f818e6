package commander

// Commander is the chat transport used by the relay.
type Commander interface {
	GetUpdates(offset int64, timeout int) ([]Update, error)
	SendMessage(chatID int64, text string) error
	SendTyping(chatID int64) error
	SendModeMenu(chatID int64, prompt string, options []MenuOption) error
	AnswerSelection(sel *Selection, text string) error
}

// Update represents an incoming message or menu selection. Exactly one of
// Message and Selection is set.
type Update struct {
	UpdateID  int64      `json:"update_id"`
	Message   *Message   `json:"message,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
}

// ChatID returns the chat the update belongs to, or 0.
func (u Update) ChatID() int64 {
	switch {
	case u.Message != nil:
		return u.Message.Chat.ID
	case u.Selection != nil:
		return u.Selection.Chat.ID
	}
	return 0
}

// Message represents a source message.
type Message struct {
	MessageID int     `json:"message_id"`
	Chat      Chat    `json:"chat"`
	From      *User   `json:"from,omitempty"`
	Text      *string `json:"text,omitempty"`
	Date      int64   `json:"date"`
}

// Selection is a pressed inline-menu button. Data is an opaque mode token.
type Selection struct {
	ID        string `json:"id"`
	Chat      Chat   `json:"chat"`
	MessageID int    `json:"message_id"`
	Data      string `json:"data"`
}

// Chat identifies a conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
}

// MenuOption is one inline button.
type MenuOption struct {
	Title string
	Data  string
}
