// Package publish holds the Publish aggregate, its items, and the pure rules
// applied to them: item validation and one-hop link resolution.
package publish

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Publish
type State string

const (
	StatePending    State = "PENDING"
	StateCommitting State = "COMMITTING"
	StateCommitted  State = "COMMITTED"
	StateFailed     State = "FAILED"
)

// AbsentObjectKey marks an item which must be served as not found
const AbsentObjectKey = "absent"

// AutoindexFilename is reserved for generated directory indexes
const AutoindexFilename = ".__exodus_autoindex"

// Publish is a staged batch of items awaiting commit
type Publish struct {
	ID      string    `json:"id"`
	Env     string    `json:"env"`
	State   State     `json:"state"`
	Updated time.Time `json:"updated"`
	Items   []Item    `json:"items,omitempty"`
}

// Links returns the URLs clients use to address this publish
func (p *Publish) Links() map[string]string {
	self := fmt.Sprintf("/%s/publish/%s", p.Env, p.ID)
	return map[string]string{
		"self":   self,
		"commit": self + "/commit",
	}
}

// Item maps one web path to content, or links it to another item's content
type Item struct {
	WebURI      string `json:"web_uri"`
	ObjectKey   string `json:"object_key"`
	ContentType string `json:"content_type"`
	LinkTo      string `json:"link_to"`
}

// IsLink reports whether the item mirrors another item
func (i Item) IsLink() bool {
	return i.LinkTo != ""
}

// String renders the item the way validation messages quote it
func (i Item) String() string {
	return fmt.Sprintf("{web_uri: %q, object_key: %q, content_type: %q, link_to: %q}",
		i.WebURI, i.ObjectKey, i.ContentType, i.LinkTo)
}
