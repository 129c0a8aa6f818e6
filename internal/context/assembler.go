package context

import (
	"fmt"
	"strings"

	"github.com/stupiduntilnot/chatrelay/internal/persona"
)

// SearchPreamble opens an augmented user turn.
const SearchPreamble = "Ответь на вопрос пользователя кратко и по существу, опираясь на актуальную информацию из интернета ниже."

// Request is what the generation backend receives for one turn.
type Request struct {
	System  string
	History []Message
	User    string
}

// Messages flattens the request into system + history + user.
func (r Request) Messages() []Message {
	messages := make([]Message, 0, 1+len(r.History)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: r.System})
	messages = append(messages, r.History...)
	messages = append(messages, Message{Role: RoleUser, Content: r.User})
	return messages
}

// StandardAssembler resolves the persona instruction and folds search
// context into the new user turn.
type StandardAssembler struct {
	Registry *persona.Registry
}

// Assemble builds the request: system + history (unmodified) + user.
// When searchContext is non-empty the user turn is augmented; the caller
// must still record the original userText in history.
func (a *StandardAssembler) Assemble(mode persona.Mode, history []Message, userText, searchContext string) (Request, error) {
	system, err := a.Registry.InstructionFor(mode)
	if err != nil {
		return Request{}, fmt.Errorf("assemble prompt: %w", err)
	}
	hist := make([]Message, len(history))
	copy(hist, history)
	return Request{
		System:  system,
		History: hist,
		User:    AugmentUserText(userText, searchContext),
	}, nil
}

// AugmentUserText returns userText unchanged when searchContext is blank.
func AugmentUserText(userText, searchContext string) string {
	if strings.TrimSpace(searchContext) == "" {
		return userText
	}
	var b strings.Builder
	b.WriteString(SearchPreamble)
	b.WriteString("\n\nИнформация из поиска:\n")
	b.WriteString(searchContext)
	b.WriteString("\n\nВопрос пользователя:\n")
	b.WriteString(userText)
	return b.String()
}
