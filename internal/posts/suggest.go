package posts

import "fmt"

// SuggestReply drafts the default swap proposal shown when replying to a post.
func SuggestReply(post Post) string {
	return fmt.Sprintf("Hi %s, I saw you can %s. I can help with %s in return. Interested?", post.Nickname, post.Offer, post.Need)
}
