package engine

import (
	"regexp"

	"vaxhunterbot/internal/domain"
)

var unsubscribePattern = regexp.MustCompile(`(?i)unsubscribe`)

// Action is the outcome of classifying one mention.
type Action int

const (
	// ActionNone means the mention carries no recognizable command.
	ActionNone Action = iota
	// ActionSubscribe means the mention asks to subscribe to postal codes.
	ActionSubscribe
	// ActionUnsubscribe means the mention asks to drop all subscriptions.
	ActionUnsubscribe
)

// Classification is a fully-resolved decision for one mention.
type Classification struct {
	Action      Action
	UserID      string
	Username    string
	PostID      string
	PostalCodes []string
}

// Classifier decides what, if anything, a mention asks the bot to do.
// Classification is pure and total: every mention maps to exactly one
// outcome, and the unsubscribe keyword wins over any co-occurring tokens.
type Classifier struct {
	botAccountID string
}

func NewClassifier(botAccountID string) *Classifier {
	return &Classifier{botAccountID: botAccountID}
}

// Classify maps one mention to a Classification. Mentions authored by the
// bot itself are discarded as ActionNone so the bot can never reply to its
// own replies.
func (c *Classifier) Classify(mention domain.Post) Classification {
	if mention.User.ID == c.botAccountID {
		return Classification{Action: ActionNone, PostID: mention.ID}
	}

	cleaned := urlPattern.ReplaceAllString(mention.Text, "")

	base := Classification{
		UserID:   mention.User.ID,
		Username: mention.User.Username,
		PostID:   mention.ID,
	}

	if unsubscribePattern.MatchString(cleaned) {
		base.Action = ActionUnsubscribe
		return base
	}

	if codes := ExtractPostalCodes(cleaned); len(codes) > 0 {
		base.Action = ActionSubscribe
		base.PostalCodes = codes
		return base
	}

	base.Action = ActionNone
	return base
}
