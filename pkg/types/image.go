package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FeaturedImage is the structured image attached to an article. SQLite
// stores it as JSON text, MongoDB as a sub-document.
type FeaturedImage struct {
	URL      string `json:"url" bson:"url"`
	Filename string `json:"filename" bson:"filename"`
	Size     int64  `json:"size" bson:"size"`
	Type     string `json:"type" bson:"type"`
	Alt      string `json:"alt" bson:"alt"`
	Caption  string `json:"caption" bson:"caption"`
	Position string `json:"position" bson:"position"`
}

// UnmarshalJSON accepts both the object form and the string-encoded form
// produced when results are normalized with encoded JSON fields.
func (img *FeaturedImage) UnmarshalJSON(data []byte) error {
	type plain FeaturedImage
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*img = FeaturedImage{}
			return nil
		}
		data = []byte(s)
	}
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decoding featured image: %w", err)
	}
	*img = FeaturedImage(p)
	return nil
}

// Tags is an ordered list of article tags.
type Tags []string

// UnmarshalJSON accepts a JSON array or a string holding one.
func (t *Tags) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*t = Tags{}
			return nil
		}
		data = []byte(s)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decoding tags: %w", err)
	}
	if list == nil {
		list = []string{}
	}
	*t = list
	return nil
}

// ImageSource is where an article's image comes from. It is one of
// URLImage, UploadedImage, or StoredImage.
type ImageSource interface {
	imageSource()
}

// URLImage references an image hosted elsewhere.
type URLImage struct {
	URL string
	Alt string
}

// UploadedImage is raw bytes received from an upload that still need
// storing.
type UploadedImage struct {
	Data        []byte
	Filename    string
	ContentType string
	Alt         string
	Caption     string
}

// StoredImage is an image that has already been processed and stored.
type StoredImage struct {
	Image FeaturedImage
}

func (URLImage) imageSource()      {}
func (UploadedImage) imageSource() {}
func (StoredImage) imageSource()   {}

// ImageStore persists uploaded image bytes and returns their public URL.
// Upload storage lives outside the adapter.
type ImageStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (url string, err error)
}

// ErrNoImageStore is returned when an upload must be stored but no store
// was provided.
var ErrNoImageStore = errors.New("no image store configured")

// ResolveImage turns an image source into the structured value stored on an
// article. A nil source resolves to nil, which leaves an existing image in
// place on update.
func ResolveImage(ctx context.Context, src ImageSource, store ImageStore) (*FeaturedImage, error) {
	switch s := src.(type) {
	case nil:
		return nil, nil
	case URLImage:
		if s.URL == "" {
			return nil, nil
		}
		return &FeaturedImage{
			URL:      s.URL,
			Filename: filepath.Base(s.URL),
			Alt:      s.Alt,
			Position: "center",
		}, nil
	case UploadedImage:
		if store == nil {
			return nil, ErrNoImageStore
		}
		name := storedName(s.Filename)
		url, err := store.Put(ctx, name, s.ContentType, s.Data)
		if err != nil {
			return nil, fmt.Errorf("storing uploaded image: %w", err)
		}
		return &FeaturedImage{
			URL:      url,
			Filename: name,
			Size:     int64(len(s.Data)),
			Type:     s.ContentType,
			Alt:      s.Alt,
			Caption:  s.Caption,
			Position: "center",
		}, nil
	case StoredImage:
		img := s.Image
		return &img, nil
	default:
		return nil, fmt.Errorf("unsupported image source %T", src)
	}
}

// storedName derives a collision-free file name that keeps the upload's
// extension.
func storedName(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String() + ext
	}
	return id.String() + ext
}
