package models

// The chat export file is a JSON array of group blocks. The engine consumes
// this shape but does not own its format.

// GroupBlock is one entry in the chat export: group metadata plus its messages.
type GroupBlock struct {
	GroupDetails GroupDetails `json:"chatGroupDetails"`
	Data         []RawMessage `json:"data"`
}

// GroupDetails describes a chat group and its member list.
type GroupDetails struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Subcategory string      `json:"subcategory"`
	Image       string      `json:"image"`
	CreatedOn   string      `json:"CreatedOn"`
	UpdatedOn   string      `json:"UpdatedOn"`
	CreatedBy   string      `json:"createdBy"`
	Users       []GroupUser `json:"users"`
}

// GroupUser is a group member from the export's user list.
type GroupUser struct {
	UserName  string `json:"userName"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	IsMute    bool   `json:"isMute"`
}

// RawMessage is one message as it appears in the export. Plain messages carry
// their text in Message; question-type messages nest it under Question.
type RawMessage struct {
	ChatID       string       `json:"chatId"`
	GroupID      string       `json:"groupId"`
	UserName     string       `json:"userName"`
	MessageType  string       `json:"messageType"`
	Message      string       `json:"message,omitempty"`
	Question     *RawQuestion `json:"question,omitempty"`
	ImageURL     string       `json:"imageUrl,omitempty"`
	ImageContext string       `json:"imageContext,omitempty"`
	CreatedOn    string       `json:"createdOn"`
}

// RawQuestion holds the nested text of a question-type message.
type RawQuestion struct {
	Message string `json:"message"`
}

// Text extracts the message text: the Message field for plain messages,
// otherwise the nested question text.
func (m *RawMessage) Text() string {
	if m.MessageType == MessageTypeMessage {
		return m.Message
	}
	if m.Question != nil {
		return m.Question.Message
	}
	return ""
}
