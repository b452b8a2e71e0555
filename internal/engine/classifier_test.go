package engine

import (
	"reflect"
	"testing"

	"vaxhunterbot/internal/domain"
)

const testBotID = "bot-1"

func mention(userID, username, postID, text string) domain.Post {
	return domain.Post{
		ID:   postID,
		Text: text,
		User: domain.Author{ID: userID, Username: username},
	}
}

func TestClassifier_Subscribe(t *testing.T) {
	c := NewClassifier(testBotID)

	cls := c.Classify(mention("u1", "alice", "p1", "Looking in M5V and M4C, please help"))

	if cls.Action != ActionSubscribe {
		t.Fatalf("expected ActionSubscribe, got %v", cls.Action)
	}
	if cls.UserID != "u1" || cls.Username != "alice" || cls.PostID != "p1" {
		t.Errorf("identity fields wrong: %+v", cls)
	}
	if want := []string{"M4C", "M5V"}; !reflect.DeepEqual(cls.PostalCodes, want) {
		t.Errorf("postal codes = %v, want %v", cls.PostalCodes, want)
	}
}

func TestClassifier_UnsubscribeWinsOverTokens(t *testing.T) {
	c := NewClassifier(testBotID)

	tests := []string{
		"unsubscribe",
		"UNSUBSCRIBE",
		"please Unsubscribe me from M5V alerts",
	}

	for _, text := range tests {
		cls := c.Classify(mention("u1", "alice", "p1", text))
		if cls.Action != ActionUnsubscribe {
			t.Errorf("Classify(%q).Action = %v, want ActionUnsubscribe", text, cls.Action)
		}
		if len(cls.PostalCodes) != 0 {
			t.Errorf("Classify(%q) carried postal codes %v", text, cls.PostalCodes)
		}
	}
}

func TestClassifier_NoOp(t *testing.T) {
	c := NewClassifier(testBotID)

	cls := c.Classify(mention("u1", "alice", "p1", "hello! love your work"))
	if cls.Action != ActionNone {
		t.Errorf("expected ActionNone, got %v", cls.Action)
	}
}

func TestClassifier_OwnMentionsDiscarded(t *testing.T) {
	c := NewClassifier(testBotID)

	// Even a perfectly-formed subscribe command from the bot's own account
	// must classify as a no-op, or the bot would reply to itself forever.
	cls := c.Classify(mention(testBotID, "vaxhunterbot", "p9", "M5V unsubscribe"))
	if cls.Action != ActionNone {
		t.Errorf("own mention classified as %v, want ActionNone", cls.Action)
	}
}

func TestClassifier_URLStrippedBeforeMatching(t *testing.T) {
	c := NewClassifier(testBotID)

	cls := c.Classify(mention("u1", "alice", "p1", "see http://x.co/a1b"))
	if cls.Action != ActionNone {
		t.Errorf("url-only mention classified as %v, want ActionNone", cls.Action)
	}
}
