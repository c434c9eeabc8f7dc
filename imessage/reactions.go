package imessage

import (
	"database/sql"
	"strings"
)

// ObjectReplacement marks where an inline attachment sits inside message text
const ObjectReplacement = "\uFFFC"

// reactionPhrases maps associated_message_type codes to verb phrases.
// 2000-2005 add a tapback, 3000-3005 remove one.
var reactionPhrases = map[int64]string{
	2000: "Loved",
	2001: "Liked",
	2002: "Disliked",
	2003: "Laughed at",
	2004: "Emphasized",
	2005: "Questioned",
	3000: "Removed love from",
	3001: "Removed like from",
	3002: "Removed dislike from",
	3003: "Removed laugh from",
	3004: "Removed emphasis from",
	3005: "Removed question from",
}

// ReactionPhrase returns the verb phrase for a reaction code.
// Unknown codes and NULL report false.
func ReactionPhrase(code sql.NullInt64) (string, bool) {
	if !code.Valid {
		return "", false
	}
	phrase, ok := reactionPhrases[code.Int64]
	return phrase, ok
}

// ReactionTarget describes what a reaction points at
func ReactionTarget(text sql.NullString) string {
	if !text.Valid || text.String == "" || strings.HasPrefix(text.String, ObjectReplacement) {
		return "a message"
	}
	return text.String
}
