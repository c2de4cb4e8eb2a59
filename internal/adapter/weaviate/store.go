package weaviate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"issuedigger/internal/vector"
)

// objectNamespace seeds the name-based UUIDs that address vectors in Weaviate.
var objectNamespace = uuid.MustParse("6f1c4a52-3a0e-4f5e-9d0b-2f6d8f1e7c11")

// ObjectID maps a vector id to its Weaviate object id.
func ObjectID(id vector.ID) string {
	return uuid.NewSHA1(objectNamespace, []byte(id)).String()
}

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Insert(ctx context.Context, rec vector.Record) error {
	_, err := s.client.Data().Creator().
		WithClassName(vector.ClassName).
		WithID(ObjectID(rec.ID)).
		WithProperties(properties(rec)).
		WithVector(rec.Values).
		Do(ctx)
	if err != nil {
		if isAlreadyExists(err) {
			return fmt.Errorf("%s: %w", rec.ID, vector.ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, rec vector.Record) error {
	obj := &models.Object{
		Class:      vector.ClassName,
		ID:         strfmt.UUID(ObjectID(rec.ID)),
		Properties: properties(rec),
		Vector:     rec.Values,
	}
	res, err := s.client.Batch().ObjectsBatcher().WithObjects(obj).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("upsert %s: %s", rec.ID, r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

func (s *Store) GetByIDs(ctx context.Context, ids []vector.ID) ([]vector.Record, error) {
	var recs []vector.Record
	for _, id := range ids {
		objs, err := s.client.Data().ObjectsGetter().
			WithClassName(vector.ClassName).
			WithID(ObjectID(id)).
			WithVector().
			Do(ctx)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		for _, obj := range objs {
			props, _ := obj.Properties.(map[string]interface{})
			rec := vector.Record{
				ID:        vector.ID(asString(props["vectorId"])),
				Namespace: vector.Namespace(asString(props["namespace"])),
				Values:    obj.Vector,
				Metadata:  metadata(props),
			}
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func (s *Store) Query(ctx context.Context, values []float32, ns vector.Namespace, topK int) ([]vector.Match, error) {
	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(values)

	where := filters.Where().
		WithPath([]string{"namespace"}).
		WithOperator(filters.Equal).
		WithValueText(string(ns))

	fields := []graphql.Field{
		{Name: "vectorId"},
		{Name: "version"},
		{Name: "issueNumber"},
		{Name: "owner"},
		{Name: "repo"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(topK).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var matches []vector.Match
	data, _ := res.Data["Get"].(map[string]interface{})
	objs, _ := data[vector.ClassName].([]interface{})
	for _, o := range objs {
		props, ok := o.(map[string]interface{})
		if !ok {
			continue
		}
		m := vector.Match{
			ID:       vector.ID(asString(props["vectorId"])),
			Metadata: metadata(props),
		}
		// The class uses cosine distance, so 1 - distance is the cosine similarity.
		// Certainty would be (1 + cos) / 2 and never drop below 0.5.
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			m.Score = float32(1 - asFloat(additional["distance"]))
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Store) DeleteByIDs(ctx context.Context, ids []vector.ID) error {
	for _, id := range ids {
		err := s.client.Data().Deleter().
			WithClassName(vector.ClassName).
			WithID(ObjectID(id)).
			Do(ctx)
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete %s: %w", id, err)
		}
	}
	return nil
}

// Count returns the number of stored vectors across all namespaces.
func (s *Store) Count(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	data, _ := res.Data["Aggregate"].(map[string]interface{})
	groups, _ := data[vector.ClassName].([]interface{})
	if len(groups) == 0 {
		return 0, nil
	}
	group, _ := groups[0].(map[string]interface{})
	meta, _ := group["meta"].(map[string]interface{})
	return int(asFloat(meta["count"])), nil
}

// EnsureSchema creates or migrates the vector class.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return vector.EnsureSchema(ctx, s)
}

func (s *Store) ClassExists(ctx context.Context, className string) (bool, error) {
	return s.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (s *Store) CreateClass(ctx context.Context, class *models.Class) error {
	return s.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (s *Store) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return s.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (s *Store) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return s.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}

func properties(rec vector.Record) map[string]interface{} {
	return map[string]interface{}{
		"vectorId":    string(rec.ID),
		"namespace":   string(rec.Namespace),
		"version":     rec.Metadata.Version,
		"issueNumber": rec.Metadata.IssueNumber,
		"owner":       rec.Metadata.Owner,
		"repo":        rec.Metadata.Repo,
	}
}

func metadata(props map[string]interface{}) vector.Metadata {
	return vector.Metadata{
		Version:     int(asFloat(props["version"])),
		IssueNumber: int(asFloat(props["issueNumber"])),
		Owner:       asString(props["owner"]),
		Repo:        asString(props["repo"]),
	}
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// asFloat accepts the numeric shapes Weaviate responses decode into.
func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

func isNotFound(err error) bool {
	var wcErr *fault.WeaviateClientError
	return errors.As(err, &wcErr) && wcErr.StatusCode == http.StatusNotFound
}

func isAlreadyExists(err error) bool {
	var wcErr *fault.WeaviateClientError
	if !errors.As(err, &wcErr) {
		return false
	}
	return wcErr.StatusCode == http.StatusUnprocessableEntity && strings.Contains(wcErr.Msg, "already exists")
}
