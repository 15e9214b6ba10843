package notification

import (
	"fmt"
	"strings"
)

// Notification kinds known to the gateway.
const (
	KindNewMessage         = "new_message"
	KindConversationInvite = "conversation_invite"
	KindMention            = "mention"
	KindSystem             = "system"
)

// template is a title/content pair with {placeholder} markers substituted
// from the caller's vars map.
type template struct {
	Title   string
	Content string
}

var templates = map[string]template{
	KindNewMessage: {
		Title:   "New message",
		Content: "{actor} sent you a message",
	},
	KindConversationInvite: {
		Title:   "Added to a conversation",
		Content: "{actor} added you to a conversation",
	},
	KindMention: {
		Title:   "You were mentioned",
		Content: "{actor} mentioned you in a conversation",
	},
	KindSystem: {
		Title:   "{title}",
		Content: "{content}",
	},
}

// Render produces the title and content for a notification kind. Unknown
// kinds are an error; placeholders without a matching var are left in place
// so missing context is visible rather than silently blanked.
func Render(kind string, vars map[string]string) (title, content string, err error) {
	tpl, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("notification: unknown kind %q", kind)
	}
	return substitute(tpl.Title, vars), substitute(tpl.Content, vars), nil
}

func substitute(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}
