package workflow

import "strings"

// EventKind distinguishes inbound events.
type EventKind string

const (
	EventCommand EventKind = "command"
	EventText    EventKind = "text"
	EventFile    EventKind = "file"
)

// Attachment is a file announced by the transport. URL is where the content
// can be fetched from.
type Attachment struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Event is one inbound message in a conversation.
type Event struct {
	Kind    EventKind
	Command string   // lower-case, without the leading "/"
	Args    []string // command arguments
	Text    string
	File    *Attachment
}

// Delivery is an outbound file.
type Delivery struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Reply is one outbound message. Choices, when set, is a fixed set of answers
// the client may offer as buttons.
type Reply struct {
	Text    string    `json:"text,omitempty"`
	Choices []string  `json:"choices,omitempty"`
	File    *Delivery `json:"file,omitempty"`
}

// ParseText turns raw chat input into an Event. Input starting with "/" is a
// command; "@bot" suffixes on the command name are dropped.
func ParseText(text string) Event {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return Event{Kind: EventText, Text: text}
	}

	fields := strings.Fields(strings.TrimPrefix(trimmed, "/"))
	if len(fields) == 0 {
		return Event{Kind: EventText, Text: text}
	}
	name := strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return Event{Kind: EventCommand, Command: name, Args: fields[1:], Text: text}
}
