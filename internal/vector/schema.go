package vector

import (
	"context"

	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding one object per issue thread.
const ClassName = "IssueVector"

// SchemaClient defines the Weaviate schema operations needed to manage ClassName.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

// Properties lists the stored fields of ClassName. Text properties use field
// tokenization so filters match whole values.
func Properties() []*models.Property {
	return []*models.Property{
		{Name: "vectorId", DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
		{Name: "namespace", DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
		{Name: "version", DataType: []string{"int"}},
		{Name: "issueNumber", DataType: []string{"int"}},
		{Name: "owner", DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
		{Name: "repo", DataType: []string{"text"}, Tokenization: models.PropertyTokenizationField},
	}
}

// EnsureSchema creates ClassName if missing, or adds properties an older deployment lacks.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := Properties()

	if !exists {
		class := &models.Class{
			Class:       ClassName,
			Description: "Averaged embedding of an issue thread",
			Vectorizer:  "none",
			VectorIndexConfig: map[string]interface{}{
				"distance": "cosine",
			},
			Properties: properties,
		}
		return client.CreateClass(ctx, class)
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existingProps := make(map[string]bool)
	for _, p := range class.Properties {
		existingProps[p.Name] = true
	}

	for _, p := range properties {
		if !existingProps[p.Name] {
			if err := client.AddProperty(ctx, ClassName, p); err != nil {
				return err
			}
		}
	}

	return nil
}
