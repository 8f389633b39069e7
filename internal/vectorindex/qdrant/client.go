// Package qdrant はQdrantをバックエンドとするベクトルインデックス実装を提供する。
package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/hitoshi/memefeed/internal/vectorindex"
)

// Config はQdrant接続設定。
type Config struct {
	// URL はQdrantサーバーのアドレス（例: "http://localhost:6334"）。
	URL string

	// CollectionName は検索対象のコレクション名。
	CollectionName string

	// APIKey は認証用のAPIキー（省略可）。
	APIKey string
}

// Client はvectorindex.IndexのQdrant実装。
type Client struct {
	client         *qdrant.Client
	collectionName string
}

// New はQdrantクライアントを生成する。
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrantのURLが指定されていません")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("qdrantのコレクション名が指定されていません")
	}

	parsedURL := cfg.URL
	if !strings.HasPrefix(parsedURL, "http://") && !strings.HasPrefix(parsedURL, "https://") {
		parsedURL = "http://" + parsedURL
	}

	u, err := url.Parse(parsedURL)
	if err != nil {
		return nil, fmt.Errorf("qdrantのURLの解析に失敗しました: %w", err)
	}

	host := u.Hostname()
	port := 6334 // gRPCデフォルトポート
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("qdrantのポート番号が不正です: %w", err)
		}
		port = p
	}

	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("qdrantクライアントの生成に失敗しました: %w", err)
	}

	return &Client{
		client:         qdrantClient,
		collectionName: cfg.CollectionName,
	}, nil
}

// EnsureCollection はコレクションが存在しない場合にコサイン距離で作成する。
func (c *Client) EnsureCollection(ctx context.Context, dimension uint64) error {
	exists, err := c.client.CollectionExists(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("コレクションの存在確認に失敗しました: %w", err)
	}
	if exists {
		return nil
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("コレクションの作成に失敗しました: %w", err)
	}

	return nil
}

// Upsert はポイントを登録する。
func (c *Client) Upsert(ctx context.Context, point vectorindex.Point, vector []float32) error {
	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collectionName,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(point.ID),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"path":        point.Path,
					"source_type": point.SourceType,
					"channel_id":  point.ChannelID,
				}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ポイントの登録に失敗しました: %w", err)
	}

	return nil
}

// Get は指定IDのポイントを返す。存在しない場合は (nil, nil) を返す。
func (c *Client) Get(ctx context.Context, id uint64) (*vectorindex.Point, error) {
	points, err := c.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.collectionName,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("ポイントの取得に失敗しました: %w", err)
	}
	if len(points) == 0 {
		return nil, nil
	}

	point := toPoint(points[0].Id, points[0].Payload)
	return &point, nil
}

// SearchNearest はクエリベクトルに最も近いポイントを類似度降順で返す。
func (c *Client) SearchNearest(ctx context.Context, vector []float32, limit int) ([]vectorindex.ScoredPoint, error) {
	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("類似検索に失敗しました: %w", err)
	}

	return scoredPoints(points), nil
}

// Recommend は正例・負例に基づく推薦検索を行う。
func (c *Client) Recommend(ctx context.Context, positive, negative, exclude []uint64, limit int) ([]vectorindex.ScoredPoint, error) {
	input := &qdrant.RecommendInput{}
	for _, id := range positive {
		input.Positive = append(input.Positive, qdrant.NewVectorInputID(qdrant.NewIDNum(id)))
	}
	for _, id := range negative {
		input.Negative = append(input.Negative, qdrant.NewVectorInputID(qdrant.NewIDNum(id)))
	}

	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collectionName,
		Query:          qdrant.NewQueryRecommend(input),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         excludeFilter(exclude),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("推薦検索に失敗しました: %w", err)
	}

	return scoredPoints(points), nil
}

// Scroll はexcludeに含まれないポイントを最大limit件返す。
func (c *Client) Scroll(ctx context.Context, exclude []uint64, limit int) ([]vectorindex.Point, error) {
	points, err := c.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: c.collectionName,
		Limit:          qdrant.PtrOf(uint32(limit)),
		Filter:         excludeFilter(exclude),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("ポイントの走査に失敗しました: %w", err)
	}

	results := make([]vectorindex.Point, 0, len(points))
	for _, p := range points {
		results = append(results, toPoint(p.Id, p.Payload))
	}

	return results, nil
}

// Delete は指定IDのポイントを削除する。
func (c *Client) Delete(ctx context.Context, id uint64) error {
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collectionName,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(id)),
	})
	if err != nil {
		return fmt.Errorf("ポイントの削除に失敗しました: %w", err)
	}

	return nil
}

// Close はgRPC接続を閉じる。
func (c *Client) Close() error {
	return c.client.Close()
}

// excludeFilter は指定IDを除外するフィルタを構築する。空の場合はnilを返す。
func excludeFilter(exclude []uint64) *qdrant.Filter {
	if len(exclude) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(exclude))
	for _, id := range exclude {
		ids = append(ids, qdrant.NewIDNum(id))
	}

	return &qdrant.Filter{
		MustNot: []*qdrant.Condition{qdrant.NewHasID(ids...)},
	}
}

func scoredPoints(points []*qdrant.ScoredPoint) []vectorindex.ScoredPoint {
	results := make([]vectorindex.ScoredPoint, 0, len(points))
	for _, p := range points {
		results = append(results, vectorindex.ScoredPoint{
			Point: toPoint(p.Id, p.Payload),
			Score: p.Score,
		})
	}

	return results
}

func toPoint(id *qdrant.PointId, payload map[string]*qdrant.Value) vectorindex.Point {
	point := vectorindex.Point{}
	if id != nil {
		point.ID = id.GetNum()
	}
	if payload != nil {
		point.Path = payload["path"].GetStringValue()
		point.SourceType = payload["source_type"].GetStringValue()
		point.ChannelID = payload["channel_id"].GetStringValue()
	}

	return point
}

// compile-time interface check
var _ vectorindex.Index = (*Client)(nil)
