package bookmark

import (
	"fmt"
	"strings"
)

// EventTypeTwitterBookmark is the index namespace category for tweets
// ingested through the webhook.
const EventTypeTwitterBookmark = "twitter_bookmark"

// DefaultMirrorDomain serves renderable tweet pages that the scrape
// provider can capture; x.com itself blocks unauthenticated rendering.
const DefaultMirrorDomain = "xcancel.com"

// ContainsTagPhrase reports whether the tweet text carries one of the
// invocation phrases, compared case-insensitively.
func ContainsTagPhrase(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// CanonicalTweetURL builds the x.com permalink for a tweet.
func CanonicalTweetURL(handle, tweetID string) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", handle, tweetID)
}

// MirrorTweetURL builds the scrape-friendly mirror permalink for a tweet.
func MirrorTweetURL(mirrorDomain, handle, tweetID string) string {
	if mirrorDomain == "" {
		mirrorDomain = DefaultMirrorDomain
	}
	return fmt.Sprintf("https://%s/%s/status/%s", mirrorDomain, handle, tweetID)
}

// ComposeIndexText formats the enriched tweet for embedding. The summary
// line is omitted when enrichment produced no summary.
func ComposeIndexText(handle, originalText, summary, sourceURL string) string {
	var b strings.Builder
	b.WriteString("[Tweet]\n")
	fmt.Fprintf(&b, "User: @%s\n", handle)
	fmt.Fprintf(&b, "Original text: %s\n", originalText)
	if summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", summary)
	}
	fmt.Fprintf(&b, "Source: %s", sourceURL)
	return b.String()
}

// Namespace joins the event category and owner handle into the partition
// key that scopes all index operations to one user's content.
func Namespace(eventType, handle string) string {
	return eventType + ":" + handle
}
