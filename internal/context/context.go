package context

import "github.com/stupiduntilnot/chatrelay/internal/persona"

// Compressor reduces a list of messages to fit within constraints.
type Compressor interface {
	Compress(messages []Message) []Message
}

// Assembler builds the generation request for one turn.
type Assembler interface {
	Assemble(mode persona.Mode, history []Message, userText, searchContext string) (Request, error)
}
