package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/inkdex/search-go/models"
	"github.com/inkdex/search-go/search"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// IndexPoint is one portfolio image as exported to an external vector index.
type IndexPoint struct {
	search.Candidate
	Embedding []float32
	Styles    []string
	// Locations lists every place the artist works from, primary first.
	Locations []models.LocationFilter
	// Searchable is false for inactive images, non-tattoo images and
	// images of deleted artists.
	Searchable bool
}

// IndexSource enumerates every embedded image in ID order.
type IndexSource interface {
	IndexPoints(ctx context.Context, afterID string, limit int) ([]IndexPoint, error)
}

// QdrantIndex serves candidate queries from a Qdrant collection whose
// points carry the artist fields needed for ranking in their payload.
type QdrantIndex struct {
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	conn        *grpc.ClientConn
	collection  string
}

func NewQdrantIndex(ctx context.Context, host string, port int, collection string) (*QdrantIndex, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	logrus.WithField("address", addr).Info("connecting to Qdrant gRPC service")

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("did not connect: %w", err)
	}
	idx := &QdrantIndex{
		points:      qdrant.NewPointsClient(conn),
		collections: qdrant.NewCollectionsClient(conn),
		conn:        conn,
		collection:  collection,
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := idx.collections.List(pingCtx, &qdrant.ListCollectionsRequest{}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("qdrant health check failed: %w", err)
	}
	return idx, nil
}

func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}

// EnsureCollection creates the collection and its keyword payload indexes
// when it does not exist yet.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dim int) error {
	log := logrus.WithField("collection_name", q.collection)
	_, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: q.collection})
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != codes.NotFound {
		return fmt.Errorf("could not get collection info: %w", err)
	}

	log.Info("collection not found, creating it")
	_, err = q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dim),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("could not create collection: %w", err)
	}

	wait := true
	fields := map[string]qdrant.FieldType{
		"artist_id":     qdrant.FieldType_FieldTypeKeyword,
		"location_keys": qdrant.FieldType_FieldTypeKeyword,
		"styles":        qdrant.FieldType_FieldTypeKeyword,
		"searchable":    qdrant.FieldType_FieldTypeBool,
	}
	for name, typ := range fields {
		_, err := q.points.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      name,
			FieldType:      typ.Enum(),
			Wait:           &wait,
		})
		if err != nil {
			return fmt.Errorf("could not create %q payload index: %w", name, err)
		}
	}
	log.Info("collection and payload indexes created")
	return nil
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func boolCondition(key string, value bool) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: value}},
			},
		},
	}
}

// locationKey encodes the non-empty fields of a location filter, normalised
// the way the stores compare them.
func locationKey(l models.LocationFilter) string {
	var parts []string
	if city := strings.TrimSpace(l.City); city != "" {
		parts = append(parts, "city="+strings.ToLower(city))
	}
	if state := strings.TrimSpace(l.State); state != "" {
		parts = append(parts, "state="+strings.ToLower(state))
	}
	if cc := strings.TrimSpace(l.CountryCode); cc != "" {
		parts = append(parts, "country="+strings.ToUpper(cc))
	}
	return strings.Join(parts, "|")
}

// locationKeys returns the key of every filter a location satisfies, so a
// single keyword match finds artists with any location matching all the
// requested fields at once.
func locationKeys(locs []models.LocationFilter) []string {
	seen := map[string]bool{}
	var keys []string
	for _, l := range locs {
		for mask := 1; mask < 8; mask++ {
			var sub models.LocationFilter
			if mask&1 != 0 {
				sub.City = l.City
			}
			if mask&2 != 0 {
				sub.State = l.State
			}
			if mask&4 != 0 {
				sub.CountryCode = l.CountryCode
			}
			key := locationKey(sub)
			if key != "" && !seen[key] {
				seen[key] = true
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func candidateFilter(q search.CandidateQuery) *qdrant.Filter {
	f := &qdrant.Filter{Must: []*qdrant.Condition{boolCondition("searchable", true)}}
	if key := locationKey(q.Location); key != "" {
		f.Must = append(f.Must, keywordCondition("location_keys", key))
	}
	if q.Style != "" {
		f.Must = append(f.Must, keywordCondition("styles", q.Style))
	}
	if q.ExcludeArtistID != "" {
		f.MustNot = append(f.MustNot, keywordCondition("artist_id", q.ExcludeArtistID))
	}
	return f
}

func (q *QdrantIndex) Candidates(ctx context.Context, cq search.CandidateQuery) ([]search.Candidate, error) {
	threshold := float32(cq.MinSimilarity)
	resp, err := q.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collection,
		Vector:         cq.Embedding,
		Filter:         candidateFilter(cq),
		Limit:          uint64(cq.Limit),
		ScoreThreshold: &threshold,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}

	results := make([]search.Candidate, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		results = append(results, candidateFromPayload(p.GetPayload(), float64(p.GetScore())))
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ImageID < results[j].ImageID
	})
	return results, nil
}

func candidateFromPayload(payload map[string]*qdrant.Value, score float64) search.Candidate {
	str := func(key string) string { return payload[key].GetStringValue() }
	c := search.Candidate{
		ImageID:      str("image_id"),
		Similarity:   score,
		ThumbnailURL: str("thumbnail_url"),
	}
	c.Artist.ID = str("artist_id")
	c.Artist.Name = str("name")
	c.Artist.InstagramHandle = str("handle")
	c.Artist.City = str("city")
	c.Artist.State = str("state")
	c.Artist.CountryCode = str("country_code")
	c.Artist.VerificationStatus = str("verification_status")
	c.Artist.DominantStyle = str("dominant_style")
	c.Artist.FollowerCount = int(payload["follower_count"].GetIntegerValue())
	c.Artist.IsPro = payload["is_pro"].GetBoolValue()
	c.Artist.IsFeatured = payload["is_featured"].GetBoolValue()
	if v, ok := payload["is_color"].GetKind().(*qdrant.Value_BoolValue); ok {
		isColor := v.BoolValue
		c.IsColor = &isColor
	}
	return c
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func boolValue(b bool) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: b}}
}

func pointPayload(p IndexPoint) map[string]*qdrant.Value {
	styles := make([]*qdrant.Value, len(p.Styles))
	for i, s := range p.Styles {
		styles[i] = stringValue(s)
	}
	keys := locationKeys(p.Locations)
	locations := make([]*qdrant.Value, len(keys))
	for i, k := range keys {
		locations[i] = stringValue(k)
	}
	payload := map[string]*qdrant.Value{
		"image_id":            stringValue(p.ImageID),
		"thumbnail_url":       stringValue(p.ThumbnailURL),
		"artist_id":           stringValue(p.Artist.ID),
		"name":                stringValue(p.Artist.Name),
		"handle":              stringValue(p.Artist.InstagramHandle),
		"city":                stringValue(p.Artist.City),
		"state":               stringValue(p.Artist.State),
		"country_code":        stringValue(strings.ToUpper(p.Artist.CountryCode)),
		"verification_status": stringValue(p.Artist.VerificationStatus),
		"dominant_style":      stringValue(p.Artist.DominantStyle),
		"follower_count":      {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(p.Artist.FollowerCount)}},
		"is_pro":              boolValue(p.Artist.IsPro),
		"is_featured":         boolValue(p.Artist.IsFeatured),
		"searchable":          boolValue(p.Searchable),
		"styles":              {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: styles}}},
		"location_keys":       {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: locations}}},
	}
	if p.IsColor != nil {
		payload["is_color"] = boolValue(*p.IsColor)
	}
	return payload
}

// pointID maps an image ID onto the UUID space Qdrant accepts. UUIDs pass
// through unchanged.
func pointID(imageID string) *qdrant.PointId {
	id, err := uuid.Parse(imageID)
	if err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte("portfolio_image:"+imageID))
	}
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: id.String()}}
}

func (q *QdrantIndex) Upsert(ctx context.Context, points []IndexPoint) error {
	if len(points) == 0 {
		return nil
	}
	wait := true
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		structs[i] = &qdrant.PointStruct{
			Id:      pointID(p.ImageID),
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: p.Embedding}}},
			Payload: pointPayload(p),
		}
	}
	_, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         structs,
	})
	return err
}

const syncBatchSize = 256

// Sync copies every embedded image from src into the collection and
// returns the number of points written.
func (q *QdrantIndex) Sync(ctx context.Context, src IndexSource) (int, error) {
	var (
		after string
		total int
	)
	for {
		batch, err := src.IndexPoints(ctx, after, syncBatchSize)
		if err != nil {
			return total, err
		}
		if err := q.Upsert(ctx, batch); err != nil {
			return total, fmt.Errorf("upsert after %q: %w", after, err)
		}
		total += len(batch)
		if len(batch) < syncBatchSize {
			return total, nil
		}
		after = batch[len(batch)-1].ImageID
		logrus.WithFields(logrus.Fields{"collection_name": q.collection, "synced": total}).Info("qdrant sync progress")
	}
}
