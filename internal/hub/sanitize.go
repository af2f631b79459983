package hub

import (
	"encoding/json"

	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/domain"
)

// Sanitize strips store-managed authentication secrets from a raw user
// document before it is broadcast. Returns nil (suppressing the broadcast)
// when the document lacks _id or name. roles is always coerced to an array.
//
// _id and _rev are also dropped from the broadcast payload; clients key the
// event off the connection's own username, not the document id.
func Sanitize(raw json.RawMessage) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}

	id, _ := doc["_id"].(string)
	name, _ := doc["name"].(string)
	if id == "" || name == "" {
		return nil
	}

	for _, k := range domain.SecretFields {
		delete(doc, k)
	}
	delete(doc, "_id")
	delete(doc, "_rev")

	if _, ok := doc["roles"].([]any); !ok {
		doc["roles"] = []any{}
	}
	return doc
}

// UserChangeHandler adapts the change feed to hub broadcasts: user-document
// changes are sanitized and pushed to the owner's connections, everything
// else is dropped.
func UserChangeHandler(h *Hub) func(couch.Change) {
	return func(c couch.Change) {
		username := domain.Username(c.ID)
		if username == "" || c.Deleted {
			return
		}
		doc := Sanitize(c.Doc)
		if doc == nil {
			return
		}
		h.BroadcastToUser(username, map[string]any{
			"type": "user-change",
			"doc":  doc,
		})
	}
}
