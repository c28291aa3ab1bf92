package domain

// Chat roles sent to the feedback model.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatMessage is one turn of a feedback request. The prompt builder produces
// them and the OpenAI client sends and decodes them as-is.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage and UserMessage build the two turns of a feedback request.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}
