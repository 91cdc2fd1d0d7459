package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// EntityCategories is the entity type (and table) name for categories.
const EntityCategories = "categories"

var ErrEmptyCategoryName = errors.New("category name must not be empty")

// Category is the payload of a spending category.
type Category struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// Validate checks the fields a collaborator may set.
func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCategoryName
	}
	return nil
}

// JSONCodec is a Codec for any JSON-serializable payload. Key, when set,
// derives the natural key.
type JSONCodec[P any] struct {
	Key func(P) string
}

func (c JSONCodec[P]) Encode(p P) (json.RawMessage, error) {
	return json.Marshal(p)
}

func (c JSONCodec[P]) Decode(raw json.RawMessage) (P, error) {
	var p P
	if len(raw) == 0 {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}

func (c JSONCodec[P]) NaturalKey(p P) string {
	if c.Key == nil {
		return ""
	}
	return c.Key(p)
}

// CategoryCodec matches categories by case-insensitive, trimmed name.
var CategoryCodec Codec[Category] = JSONCodec[Category]{
	Key: func(c Category) string { return strings.ToLower(strings.TrimSpace(c.Name)) },
}
