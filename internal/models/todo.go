package models

import (
	"time"
)

// Todo represents one user note. Either Text or ImageURL must be set;
// creation with both absent is rejected before any write.
type Todo struct {
	ID        string    `firestore:"id" json:"id"`
	Text      *string   `firestore:"text" json:"text"`
	ImageURL  *string   `firestore:"imageUrl" json:"imageUrl"`
	Done      bool      `firestore:"done" json:"done"`
	CreatedAt time.Time `firestore:"createdAt,serverTimestamp" json:"createdAt"`
}

// Comment is a reply stored in the comments sub-collection of its parent todo.
type Comment struct {
	ID        string    `firestore:"id" json:"id"`
	Text      string    `firestore:"text" json:"text"`
	CreatedAt time.Time `firestore:"createdAt,serverTimestamp" json:"createdAt"`
}

// DeviceToken represents one device's push delivery endpoint. The token value
// doubles as the document id, so re-registration overwrites instead of
// duplicating.
type DeviceToken struct {
	Token     string    `firestore:"token" json:"token"`
	UserAgent string    `firestore:"userAgent" json:"userAgent"`
	Platform  string    `firestore:"platform" json:"platform"`
	Language  string    `firestore:"language" json:"language"`
	TimeZone  string    `firestore:"timeZone" json:"timeZone"`
	IsMobile  bool      `firestore:"isMobile" json:"isMobile"`
	UID       *string   `firestore:"uid" json:"uid"` // reserved until auth exists
	CreatedAt time.Time `firestore:"createdAt,serverTimestamp" json:"createdAt"`
}
