package context

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a model-agnostic chat message used across the context pipeline.
// A history entry is a Message with RoleUser or RoleAssistant.
type Message struct {
	Role    string
	Content string
}

// UserTurn returns a user-role message.
func UserTurn(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantTurn returns an assistant-role message.
func AssistantTurn(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}
