package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"kassa/internal/config"
	"kassa/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticsearchClient индексирует события для полнотекстового поиска
type ElasticsearchClient struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticsearchClient создает новый клиент Elasticsearch
func NewElasticsearchClient(cfg config.ElasticsearchConfig) (*ElasticsearchClient, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:     []string{cfg.URL},
		Username:      cfg.Username,
		Password:      cfg.Password,
		RetryOnStatus: []int{502, 503, 504, 429},
		MaxRetries:    cfg.MaxRetries,
		Transport:     &http.Transport{ResponseHeaderTimeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	client := &ElasticsearchClient{client: es, index: cfg.Index}

	if err := client.ensureIndex(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure index exists: %w", err)
	}

	return client, nil
}

// eventDocument is the indexed shape of an event
type eventDocument struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Venue       string    `json:"venue"`
	StartsAt    time.Time `json:"starts_at"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

var indexMapping = map[string]any{
	"settings": map[string]any{
		"number_of_shards":   1,
		"number_of_replicas": 0,
		"analysis": map[string]any{
			"analyzer": map[string]any{
				"russian_analyzer": map[string]any{
					"type":      "custom",
					"tokenizer": "standard",
					"filter":    []string{"lowercase", "russian_stop", "russian_stemmer"},
				},
			},
			"filter": map[string]any{
				"russian_stop":    map[string]any{"type": "stop", "stopwords": "_russian_"},
				"russian_stemmer": map[string]any{"type": "stemmer", "language": "russian"},
			},
		},
	},
	"mappings": map[string]any{
		"properties": map[string]any{
			"id": map[string]any{"type": "keyword"},
			"title": map[string]any{
				"type":     "text",
				"analyzer": "russian_analyzer",
				"fields": map[string]any{
					"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
				},
			},
			"description": map[string]any{"type": "text", "analyzer": "russian_analyzer"},
			"venue":       map[string]any{"type": "text"},
			"starts_at":   map[string]any{"type": "date"},
			"status":      map[string]any{"type": "keyword"},
			"updated_at":  map[string]any{"type": "date"},
		},
	},
}

// ensureIndex создает индекс если он не существует
func (c *ElasticsearchClient) ensureIndex(ctx context.Context) error {
	res, err := esapi.IndicesExistsRequest{Index: []string{c.index}}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to check index existence: %w", err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(indexMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	createRes, err := esapi.IndicesCreateRequest{Index: c.index, Body: bytes.NewReader(body)}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()

	if createRes.IsError() {
		return fmt.Errorf("failed to create index: %s", createRes.String())
	}

	slog.Info("Created Elasticsearch index", "index", c.index)
	return nil
}

// IndexEvent индексирует событие
func (c *ElasticsearchClient) IndexEvent(ctx context.Context, event *models.Event) error {
	doc := eventDocument{
		ID:        event.ID,
		Title:     event.Title,
		Venue:     event.Venue,
		StartsAt:  event.StartsAt,
		Status:    string(event.Status),
		UpdatedAt: event.UpdatedAt,
	}
	if event.Description != nil {
		doc.Description = *event.Description
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	res, err := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: event.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "wait_for",
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("failed to index event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("indexing error: %s", res.String())
	}
	return nil
}

// Search выполняет поиск событий
func (c *ElasticsearchClient) Search(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	filter.Normalize()

	body, err := json.Marshal(map[string]any{
		"query": buildSearchQuery(filter),
		"sort":  buildSortQuery(filter.Query),
		"from":  filter.Offset(),
		"size":  filter.Size,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := esapi.SearchRequest{
		Index: []string{c.index},
		Body:  bytes.NewReader(body),
	}.Do(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search error: %s", res.String())
	}

	var response struct {
		Hits struct {
			Hits []struct {
				Source eventDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	events := make([]models.Event, len(response.Hits.Hits))
	for i, hit := range response.Hits.Hits {
		doc := hit.Source
		events[i] = models.Event{
			ID:        doc.ID,
			Title:     doc.Title,
			Venue:     doc.Venue,
			StartsAt:  doc.StartsAt,
			Status:    models.EventStatus(doc.Status),
			UpdatedAt: doc.UpdatedAt,
		}
		if doc.Description != "" {
			d := doc.Description
			events[i].Description = &d
		}
	}
	return events, nil
}

func buildSearchQuery(filter models.EventFilter) map[string]any {
	var must []map[string]any

	if filter.Query != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":     filter.Query,
				"fields":    []string{"title^2", "description", "venue"},
				"fuzziness": "AUTO",
			},
		})
	}

	if filter.Date != nil {
		day := filter.Date.UTC().Truncate(24 * time.Hour)
		must = append(must, map[string]any{
			"range": map[string]any{
				"starts_at": map[string]any{
					"gte": day.Format(time.RFC3339),
					"lt":  day.Add(24 * time.Hour).Format(time.RFC3339),
				},
			},
		})
	}

	if filter.Status != "" {
		must = append(must, map[string]any{
			"term": map[string]any{"status": string(filter.Status)},
		})
	}

	if len(must) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"bool": map[string]any{"must": must}}
}

func buildSortQuery(query string) []map[string]any {
	if query != "" {
		return []map[string]any{
			{"_score": map[string]any{"order": "desc"}},
			{"starts_at": map[string]any{"order": "asc"}},
		}
	}
	return []map[string]any{
		{"starts_at": map[string]any{"order": "asc"}},
	}
}

// HealthCheck проверяет состояние Elasticsearch
func (c *ElasticsearchClient) HealthCheck(ctx context.Context) error {
	res, err := esapi.ClusterHealthRequest{
		WaitForStatus: "yellow",
		Timeout:       10 * time.Second,
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("health check error: %s", res.String())
	}
	return nil
}
