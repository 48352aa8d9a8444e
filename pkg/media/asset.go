package media

import (
	"encoding/json"
	"time"
)

// Type is the kind of stored media.
type Type string

const (
	TypeImage Type = "image"
	TypeVideo Type = "video"
)

// Category groups assets by where the site uses them.
type Category string

const (
	CategoryAvatar     Category = "avatar"
	CategoryHero       Category = "hero"
	CategoryGallery    Category = "gallery"
	CategoryBackground Category = "background"
	CategoryBranding   Category = "branding"
	CategoryOther      Category = "other"
)

// Asset is one record of the media catalog.
type Asset struct {
	ID          string    `firestore:"id" json:"id"`
	Bucket      string    `firestore:"bucket" json:"bucket"`
	Name        string    `firestore:"name" json:"name"`
	URL         string    `firestore:"url" json:"url"`
	Type        Type      `firestore:"type" json:"type"`
	Category    Category  `firestore:"category" json:"category"`
	AvatarName  string    `firestore:"avatar_name,omitempty" json:"avatar_name,omitempty"`
	StoragePath string    `firestore:"storage_path" json:"storage_path"`
	CreatedAt   time.Time `firestore:"created_at" json:"created_at"`
	UpdatedAt   time.Time `firestore:"updated_at" json:"updated_at"`
}

// QueryOptions filters a catalog query. Empty fields do not filter.
type QueryOptions struct {
	Category   Category `json:"category,omitempty"`
	AvatarName string   `json:"avatar_name,omitempty"`
	Type       Type     `json:"type,omitempty"`
}

// Key is the canonical serialization of the options, used as memo key.
// Equal options always produce equal keys.
func (o QueryOptions) Key() string {
	// A struct of strings always marshals.
	b, _ := json.Marshal(o)
	return string(b)
}
