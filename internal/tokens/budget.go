package tokens

// Chat message overhead, following OpenAI's accounting for chat models.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	primingTokens    = 3
)

// Message is the role/content pair the budget operates on.
type Message struct {
	Role    string
	Content string
}

// CountMessages returns the total tokens for msgs including per-message overhead.
func CountMessages(c Counter, msgs []Message) int {
	total := primingTokens
	for _, m := range msgs {
		total += messageTokens(c, m)
	}
	return total
}

func messageTokens(c Counter, m Message) int {
	return tokensPerMessage + tokensPerRole + c.CountText(m.Content)
}

// Trim drops the oldest messages until msgs plus reserved tokens fit within
// maxTokens. The newest message is always kept. A maxTokens of zero or less
// disables trimming. The returned slice shares no storage with msgs.
func Trim(c Counter, msgs []Message, maxTokens, reserved int) []Message {
	out := append([]Message(nil), msgs...)
	if maxTokens <= 0 || len(out) == 0 {
		return out
	}

	total := CountMessages(c, out) + reserved
	start := 0
	for total > maxTokens && start < len(out)-1 {
		total -= messageTokens(c, out[start])
		start++
	}
	return out[start:]
}
