package harness

import (
	"context"
	"fmt"
	"net/http"

	"tpmjs/tests/integration/internal/client"
	"tpmjs/tests/integration/internal/model"
)

// CollectionParams are optional overrides for a factory-created
// collection.
type CollectionParams struct {
	Slug        string
	Name        string
	Description string
}

// CollectionFactory creates collections through the API-key client and
// registers their server-assigned IDs with the tracker.
type CollectionFactory struct {
	api     *client.Client
	tracker *Tracker
	ids     *idGenerator
}

func (f *CollectionFactory) Create(ctx context.Context, params CollectionParams) (*model.Collection, error) {
	slug := params.Slug
	if slug == "" {
		slug = f.ids.next("collection")
	}
	name := params.Name
	if name == "" {
		name = "Test Collection " + slug
	}
	body := map[string]interface{}{"slug": slug, "name": name}
	if params.Description != "" {
		body["description"] = params.Description
	}

	res, err := client.Post[model.Collection](ctx, f.api, "/api/collections", client.Options{Body: body})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("harness: create collection %s: %s", slug, res.Error)
	}
	collection := res.Data
	f.tracker.AddCollection(collection.ID)
	return &collection, nil
}

func (f *CollectionFactory) CreateMany(ctx context.Context, n int) ([]*model.Collection, error) {
	collections := make([]*model.Collection, 0, n)
	for i := 0; i < n; i++ {
		collection, err := f.Create(ctx, CollectionParams{})
		if err != nil {
			return nil, err
		}
		collections = append(collections, collection)
	}
	return collections, nil
}

// Get returns nil without an error when the collection does not exist.
func (f *CollectionFactory) Get(ctx context.Context, id string) (*model.Collection, error) {
	res, err := client.Get[model.Collection](ctx, f.api, "/api/collections/"+id, client.Options{})
	if err != nil {
		return nil, err
	}
	if res.Status == http.StatusNotFound {
		return nil, nil
	}
	if !res.OK {
		return nil, fmt.Errorf("harness: get collection %s: %s", id, res.Error)
	}
	collection := res.Data
	return &collection, nil
}

func (f *CollectionFactory) Update(ctx context.Context, id string, params CollectionParams) (*model.Collection, error) {
	body := map[string]interface{}{}
	if params.Name != "" {
		body["name"] = params.Name
	}
	if params.Description != "" {
		body["description"] = params.Description
	}

	res, err := client.Patch[model.Collection](ctx, f.api, "/api/collections/"+id, client.Options{Body: body})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("harness: update collection %s: %s", id, res.Error)
	}
	collection := res.Data
	return &collection, nil
}

func (f *CollectionFactory) Delete(ctx context.Context, id string) error {
	res, err := client.Delete[struct{}](ctx, f.api, "/api/collections/"+id, client.Options{})
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("harness: delete collection %s: %s", id, res.Error)
	}
	return nil
}

// AddAgent links an agent into the collection and returns the updated
// collection.
func (f *CollectionFactory) AddAgent(ctx context.Context, collectionID, agentUID string) (*model.Collection, error) {
	res, err := client.Post[model.Collection](ctx, f.api, "/api/collections/"+collectionID+"/agents", client.Options{
		Body: map[string]string{"uid": agentUID},
	})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("harness: add agent %s to collection %s: %s", agentUID, collectionID, res.Error)
	}
	collection := res.Data
	return &collection, nil
}
