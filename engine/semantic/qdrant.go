package semantic

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/fundscout/fundscout/engine/domain"
)

// pointsClient is the subset of pb.PointsClient used by the store.
type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
}

// collectionsClient is the subset of pb.CollectionsClient used by the store.
type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// QdrantIndex owns all Qdrant operations for one collection.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string
	dims        int
}

var _ Index = (*QdrantIndex)(nil)

// NewQdrant connects to Qdrant at the given gRPC address.
func NewQdrant(addr, collection string, dims int) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
		dims:        dims,
	}, nil
}

// NewQdrantWithClients builds an index over existing clients, for testing.
func NewQdrantWithClients(points pointsClient, collections collectionsClient, collection string, dims int) *QdrantIndex {
	return &QdrantIndex{
		points:      points,
		collections: collections,
		collection:  collection,
		dims:        dims,
	}
}

// Close closes the underlying gRPC connection.
func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// Dimensions returns the fixed embedding dimensionality.
func (q *QdrantIndex) Dimensions() int { return q.dims }

// EnsureCollection creates the cosine-distance collection if absent.
func (q *QdrantIndex) EnsureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("%w: list collections: %v", domain.ErrIndexUnavailable, err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", domain.ErrIndexUnavailable, q.collection, err)
	}
	return nil
}

// DropCollection deletes the collection.
func (q *QdrantIndex) DropCollection(ctx context.Context) error {
	_, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection})
	if err != nil {
		return fmt.Errorf("%w: delete collection %s: %v", domain.ErrIndexUnavailable, q.collection, err)
	}
	return nil
}

// Upsert stores one chunk.
func (q *QdrantIndex) Upsert(ctx context.Context, chunk domain.Chunk) error {
	return q.UpsertBatch(ctx, []domain.Chunk{chunk})
}

// UpsertBatch stores chunks in one write. Qdrant keys points by ID, so
// repeated upserts with identical content leave search results unchanged.
func (q *QdrantIndex) UpsertBatch(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		if err := domain.ValidateChunk(c); err != nil {
			return err
		}
		// Qdrant points are keyed by UUID; catch bad IDs here so the
		// failure reads as a permanent input error, not an outage.
		if err := uuid.Validate(c.ID); err != nil {
			return fmt.Errorf("%w: chunk id %q is not a UUID", domain.ErrInvalidInput, c.ID)
		}
		if len(c.Embedding) != q.dims {
			return fmt.Errorf("%w: chunk %s has %d dims, index expects %d",
				domain.ErrDimensionMismatch, c.ID, len(c.Embedding), q.dims)
		}

		payload := make(map[string]*pb.Value, len(c.Meta)+1)
		payload["text"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: c.Text}}
		for k, v := range c.Meta {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}

		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: c.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: c.Embedding}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %d points: %v", domain.ErrIndexUnavailable, len(points), err)
	}
	return nil
}

// Search performs filtered k-NN search. Results are re-ranked locally so
// ties resolve deterministically regardless of Qdrant's internal order.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, topK int, filters map[string]string) ([]SearchResult, error) {
	if len(vector) != q.dims {
		return nil, fmt.Errorf("%w: query has %d dims, index expects %d",
			domain.ErrDimensionMismatch, len(vector), q.dims)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidInput, topK)
	}

	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, v := range filters {
			must = append(must, fieldMatch(k, v))
		}
		req.Filter = &pb.Filter{Must: must}
	}

	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrIndexUnavailable, err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{
			ChunkID: r.GetId().GetUuid(),
			Score:   r.GetScore(),
			Meta:    make(map[string]string),
		}
		for k, v := range r.GetPayload() {
			if k == "text" {
				sr.Text = v.GetStringValue()
				continue
			}
			sr.Meta[k] = v.GetStringValue()
		}
		results[i] = sr
	}
	return rankResults(results, topK), nil
}

// Delete removes a chunk by ID.
func (q *QdrantIndex) Delete(ctx context.Context, chunkID string) error {
	if err := uuid.Validate(chunkID); err != nil {
		return fmt.Errorf("%w: chunk id %q is not a UUID", domain.ErrInvalidInput, chunkID)
	}
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: chunkID}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", domain.ErrIndexUnavailable, chunkID, err)
	}
	return nil
}

// Count returns the exact number of stored points.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := q.points.Count(ctx, &pb.CountPoints{
		CollectionName: q.collection,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrIndexUnavailable, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
