package media

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the Firestore collection holding the catalog.
const DefaultCollection = "media_files"

// FirestoreConfig holds configuration for the Firestore catalog.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreCatalog reads media records from a Firestore collection.
type FirestoreCatalog struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreCatalog creates a catalog over an injected client. The client
// is owned by the caller.
func NewFirestoreCatalog(
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreCatalog, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = DefaultCollection
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", collection).Msg("FirestoreCatalog initialized.")

	return &FirestoreCatalog{
		client:         client,
		collectionName: collection,
		logger:         logger.With().Str("component", "FirestoreCatalog").Logger(),
	}, nil
}

// Query runs an equality-filtered query ordered by created_at ascending.
func (c *FirestoreCatalog) Query(ctx context.Context, opts QueryOptions) ([]Asset, error) {
	q := c.client.Collection(c.collectionName).Query
	if opts.Category != "" {
		q = q.Where("category", "==", string(opts.Category))
	}
	if opts.AvatarName != "" {
		q = q.Where("avatar_name", "==", opts.AvatarName)
	}
	if opts.Type != "" {
		q = q.Where("type", "==", string(opts.Type))
	}
	q = q.OrderBy("created_at", firestore.Asc)

	iter := q.Documents(ctx)
	defer iter.Stop()

	var assets []Asset
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			c.logger.Error().Err(err).Str("query", opts.Key()).Msg("Failed to query Firestore.")
			return nil, fmt.Errorf("firestore query %s: %w", opts.Key(), err)
		}
		asset, err := decodeAsset(doc)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	c.logger.Debug().Str("query", opts.Key()).Int("count", len(assets)).Msg("Fetched media files from Firestore.")
	return assets, nil
}

// FindByStoragePath returns the first asset stored at path, or nil.
func (c *FirestoreCatalog) FindByStoragePath(ctx context.Context, path string) (*Asset, error) {
	iter := c.client.Collection(c.collectionName).Where("storage_path", "==", path).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if errors.Is(err, iterator.Done) || status.Code(err) == codes.NotFound {
		c.logger.Debug().Str("storage_path", path).Msg("No media file at storage path.")
		return nil, nil
	}
	if err != nil {
		c.logger.Error().Err(err).Str("storage_path", path).Msg("Failed to get media file from Firestore.")
		return nil, fmt.Errorf("firestore lookup for %s: %w", path, err)
	}
	asset, err := decodeAsset(doc)
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func decodeAsset(doc *firestore.DocumentSnapshot) (Asset, error) {
	var asset Asset
	if err := doc.DataTo(&asset); err != nil {
		return Asset{}, fmt.Errorf("firestore DataTo for %s: %w", doc.Ref.ID, err)
	}
	if asset.ID == "" {
		asset.ID = doc.Ref.ID
	}
	return asset, nil
}
