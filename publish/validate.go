package publish

import (
	"fmt"
	"mime"
	"strings"

	"github.com/edgepub/edgepub/webpath"
)

// ValidateItems normalizes a batch of items and checks each against the item
// rules. Every offending item contributes one message; on any failure no items
// are returned.
func ValidateItems(items []Item) ([]Item, error) {
	normalized := make([]Item, 0, len(items))
	var messages []string

	for _, item := range items {
		item.WebURI = webpath.Normalize(item.WebURI)
		item.LinkTo = webpath.Normalize(item.LinkTo)

		if msg := checkItem(item); msg != "" {
			messages = append(messages, msg)
			continue
		}
		normalized = append(normalized, item)
	}

	if len(messages) > 0 {
		return nil, &ValidationError{Messages: messages}
	}
	return normalized, nil
}

// checkItem returns the message for the first violated rule, or "" when the
// item is valid. Messages name the offending item.
func checkItem(item Item) string {
	// The reserved filename message already carries the URI
	if webpath.Base(item.WebURI) == AutoindexFilename && item.WebURI != "" {
		return fmt.Sprintf("Invalid URI %s: filename is reserved", item.WebURI)
	}

	if rule := itemRule(item); rule != "" {
		return fmt.Sprintf("%s: %s", rule, item)
	}
	return ""
}

func itemRule(item Item) string {
	if item.WebURI == "" {
		return "No URI"
	}

	hasKey := item.ObjectKey != ""
	hasLink := item.LinkTo != ""
	switch {
	case !hasKey && !hasLink:
		return "No object key or link target"
	case hasKey && hasLink:
		return "Both link target and object key present"
	}

	if hasLink && item.ContentType != "" {
		return "Content type specified for link"
	}

	if hasKey && item.ObjectKey != AbsentObjectKey && !isSHA256(item.ObjectKey) {
		return "Invalid object key; must be sha256sum"
	}

	if item.ObjectKey == AbsentObjectKey && item.ContentType != "" {
		return "Cannot set content type when object_key is 'absent'"
	}

	if item.ContentType != "" && !isContentType(item.ContentType) {
		return "Invalid content type"
	}

	return ""
}

func isSHA256(key string) bool {
	if len(key) != 64 {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func isContentType(value string) bool {
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	major, minor, ok := strings.Cut(mediaType, "/")
	return ok && major != "" && minor != ""
}
