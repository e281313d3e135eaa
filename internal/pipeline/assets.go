package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/gosimple/slug"

	"github.com/deckforge/api/internal/model"
)

// InlineAssetStore keeps image bytes on the unit itself as a data URL.
// It is used when no object storage is configured.
type InlineAssetStore struct{}

func (InlineAssetStore) SaveImage(ctx context.Context, key string, data []byte, contentType string) (*model.ImageAsset, error) {
	return &model.ImageAsset{
		URL:         fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data)),
		Key:         key,
		ContentType: contentType,
		SizeBytes:   len(data),
	}, nil
}

// assetKey builds the object key for a unit image,
// e.g. decks/<job>/03-market-overview.png
func assetKey(jobID string, unit *model.Unit, contentType string) string {
	name := slug.Make(unit.Title)
	if name == "" {
		name = "slide"
	}
	if len(name) > 48 {
		name = name[:48]
	}
	ext := ".png"
	switch contentType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	}
	return fmt.Sprintf("decks/%s/%02d-%s%s", jobID, unit.Index, name, ext)
}
