package search

import "strings"

// Triggers are informational or current-events cues. Matching is a
// case-insensitive substring test; any single hit is enough.
var Triggers = []string{
	"кто такой", "кто такая", "кто такие", "что такое",
	"новости", "погода", "прогноз погоды",
	"курс валют", "курс доллара", "курс евро",
	"результат матча", "счет матча", "счёт матча",
	"цена на", "сколько стоит", "стоимость",
	"когда вышел", "когда вышла", "дата выхода",
	"последние", "последний", "краткое содержание", "что нового",
	"who is", "what is", "news", "weather", "exchange rate",
	"match result", "price of", "release date", "when was",
	"latest", "summary", "what's new",
}

// ShouldSearch reports whether text contains any trigger phrase.
func ShouldSearch(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	lowered := strings.ToLower(text)
	for _, trigger := range Triggers {
		if strings.Contains(lowered, trigger) {
			return true
		}
	}
	return false
}
