package domain

// Post is a single tweet as delivered by the transport, either pushed on the
// stream or fetched from the mentions timeline. Posts are consumed once and
// never persisted beyond the mentions cursor.
type Post struct {
	ID              string `json:"id_str"`
	Text            string `json:"text"`
	InReplyToPostID string `json:"in_reply_to_status_id_str"`
	InReplyToUserID string `json:"in_reply_to_user_id_str"`
	User            Author `json:"user"`
}

// Author identifies the account that wrote a post.
type Author struct {
	ID       string `json:"id_str"`
	Username string `json:"screen_name"`
}

// IsReply reports whether the post is a reply to another post or user.
func (p Post) IsReply() bool {
	return p.InReplyToPostID != "" || p.InReplyToUserID != ""
}
