package vectordb

import (
	"context"
	"fmt"
	"time"

	"clip-arena/internal/inference"

	"golang.org/x/sync/errgroup"
)

// Vectorizer computes embeddings for backends that do not vectorize server-side
type Vectorizer interface {
	VectorizeImages(ctx context.Context, images []string) ([][]float32, error)
	VectorizeText(ctx context.Context, text string) ([]float32, error)
	Dimensions(ctx context.Context) (int, error)
}

// NewVectorizers creates one inference client per named vector
func NewVectorizers(vectors []VectorConfig, timeout time.Duration) map[string]Vectorizer {
	out := make(map[string]Vectorizer, len(vectors))
	for _, v := range vectors {
		out[v.Name] = inference.NewClient(v.InferenceURL, timeout)
	}
	return out
}

// embedder fills in client-side vectors for a schema
type embedder struct {
	vectors     []VectorConfig
	vectorizers map[string]Vectorizer
}

func newEmbedder(vectors []VectorConfig, vectorizers map[string]Vectorizer) (*embedder, error) {
	for _, v := range vectors {
		if _, ok := vectorizers[v.Name]; !ok {
			return nil, fmt.Errorf("no vectorizer for vector %q", v.Name)
		}
		if len(v.SourceProperties) == 0 {
			return nil, fmt.Errorf("vector %q has no source property", v.Name)
		}
	}
	return &embedder{vectors: vectors, vectorizers: vectorizers}, nil
}

// dimensions resolves the configured dimension of each vector, probing the
// inference endpoint when it is not set
func (e *embedder) dimensions(ctx context.Context) (map[string]int, error) {
	dims := make(map[string]int, len(e.vectors))
	for _, v := range e.vectors {
		if v.Dimensions > 0 {
			dims[v.Name] = v.Dimensions
			continue
		}
		dim, err := e.vectorizers[v.Name].Dimensions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to detect dimension of %s: %w", v.Name, err)
		}
		dims[v.Name] = dim
	}
	return dims, nil
}

// embed returns, per vector name, one embedding per object in order. The
// named vectors are computed concurrently since each has its own endpoint.
func (e *embedder) embed(ctx context.Context, objects []Object) (map[string][][]float32, error) {
	result := make(map[string][][]float32, len(e.vectors))
	vecs := make([][][]float32, len(e.vectors))

	inputs := make([][]string, len(e.vectors))
	for i, v := range e.vectors {
		images := make([]string, len(objects))
		for j, obj := range objects {
			s, ok := obj.Properties[v.SourceProperties[0]].(string)
			if !ok {
				return nil, fmt.Errorf("object %s: property %q is not a string", obj.ID, v.SourceProperties[0])
			}
			images[j] = s
		}
		inputs[i] = images
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, v := range e.vectors {
		g.Go(func() error {
			out, err := e.vectorizers[v.Name].VectorizeImages(gctx, inputs[i])
			if err != nil {
				return fmt.Errorf("vectorize %s: %w", v.Name, err)
			}
			vecs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, v := range e.vectors {
		result[v.Name] = vecs[i]
	}
	return result, nil
}

// query embeds a search input with the vectorizer of the named vector
func (e *embedder) query(ctx context.Context, targetVector, text, base64Image string) ([]float32, error) {
	v, ok := e.vectorizers[targetVector]
	if !ok {
		return nil, fmt.Errorf("unknown vector %q", targetVector)
	}
	if base64Image == "" {
		return v.VectorizeText(ctx, text)
	}
	out, err := v.VectorizeImages(ctx, []string{base64Image})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
