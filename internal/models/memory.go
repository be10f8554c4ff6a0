package models

// Memory is the single-slot conversation memory: the last message the engine
// "pointed at". It lets follow-up questions ("what happened next") resolve
// without the user naming a message. There is one slot for the whole process;
// writes overwrite, never append.
type Memory struct {
	LastMessageID   *int64 `json:"last_message_id"`
	LastMessageText string `json:"last_message_text"`
	LastTopic       string `json:"last_topic"`
}

// IsSet reports whether the memory points at a concrete message.
func (m *Memory) IsSet() bool {
	return m != nil && m.LastMessageID != nil
}
