package models

// Message is one transcript entry. It has no identity beyond its position in the transcript.
type Message struct {
	Text   string `json:"text"`
	IsUser bool   `json:"isUser"`
}

// PredefinedQuestion is a suggested prompt offered before a conversation starts. Icon holds the
// glyph rendered next to the text.
type PredefinedQuestion struct {
	Text string `json:"text" yaml:"text"`
	Icon string `json:"icon" yaml:"icon"`
}

// DefaultQuestions are the suggestions shown when the configuration doesn't provide any.
func DefaultQuestions() []PredefinedQuestion {
	return []PredefinedQuestion{
		{Text: "What are the latest financial trends in the technology sector?", Icon: "📈"},
		{Text: "How are tech companies performing in the stock market?", Icon: "💵"},
		{Text: "What recent mergers and acquisitions have occurred among tech firms?", Icon: "🏛"},
		{Text: "How is venture capital influencing the growth of tech startups?", Icon: "🐷"},
	}
}
