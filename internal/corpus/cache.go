package corpus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/elea/athenaeum/internal/embedding"
)

// CacheConfig holds connection settings for the Qdrant passage cache.
type CacheConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Cache is a semantic cache of corpus passages backed by Qdrant. Passages
// fetched from the corpus service are embedded and upserted; later topic
// lookups are answered by nearest-neighbor search without another service
// round trip.
type Cache struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
	embedder    embedding.Provider
	logger      *zap.Logger
}

// minCacheScore is the cosine similarity below which a cached passage is
// not considered a hit for the queried topic.
const minCacheScore = 0.75

// NewCache dials the Qdrant gRPC endpoint.
func NewCache(cfg CacheConfig, embedder embedding.Provider, logger *zap.Logger) (*Cache, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	if cfg.Collection == "" {
		cfg.Collection = "corpus_passages"
	}
	return &Cache{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  cfg.Collection,
		embedder:    embedder,
		logger:      logger,
	}, nil
}

// Ensure creates the passage collection if it does not already exist.
func (c *Cache) Ensure(ctx context.Context, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: c.collection})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", c.collection, err)
	}
	return nil
}

// Put embeds and upserts one passage under the philosopher's name.
func (c *Cache) Put(ctx context.Context, philosopher string, p Passage) error {
	vecs, err := c.embedder.Embed(ctx, []string{p.Text})
	if err != nil {
		return fmt.Errorf("embed passage: %w", err)
	}
	if len(vecs) != 1 {
		return fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}

	payload := map[string]*pb.Value{
		"philosopher": {Kind: &pb.Value_StringValue{StringValue: philosopher}},
		"text":        {Kind: &pb.Value_StringValue{StringValue: p.Text}},
		"title":       {Kind: &pb.Value_StringValue{StringValue: p.Title}},
		"page":        {Kind: &pb.Value_StringValue{StringValue: strconv.Itoa(p.Page)}},
		"citation":    {Kind: &pb.Value_StringValue{StringValue: p.Citation}},
	}
	_, err = c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uuid.New().String()}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vecs[0]}}},
				Payload: payload,
			},
		},
	})
	return err
}

// Lookup searches cached passages near the topic, keeping only hits for the
// given philosopher with similarity at or above minCacheScore.
func (c *Cache) Lookup(ctx context.Context, philosopher, topic string, limit int) ([]Passage, error) {
	vecs, err := c.embedder.Embed(ctx, []string{topic})
	if err != nil {
		return nil, fmt.Errorf("embed topic: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}

	// Over-fetch: the philosopher filter is applied client-side.
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.collection,
		Vector:         vecs[0],
		Limit:          uint64(limit * 4),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.collection, err)
	}

	var out []Passage
	for _, r := range resp.Result {
		if float64(r.Score) < minCacheScore {
			continue
		}
		payload := stringPayload(r.Payload)
		if payload["philosopher"] != philosopher {
			continue
		}
		page, _ := strconv.Atoi(payload["page"])
		out = append(out, Passage{
			Text:     payload["text"],
			Title:    payload["title"],
			Page:     page,
			Citation: payload["citation"],
			Score:    float64(r.Score),
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func stringPayload(p map[string]*pb.Value) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
			out[k] = sv.StringValue
		}
	}
	return out
}

// Close tears down the underlying gRPC connection.
func (c *Cache) Close() error {
	return c.conn.Close()
}
