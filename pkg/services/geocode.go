package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"chitter/pkg/storage"

	"github.com/ServiceWeaver/weaver"
	"github.com/redis/go-redis/v9"
)

// placeUnavailable is what every lookup failure degrades to. Reverse
// geocoding is cosmetic and must never fail the containing request.
const placeUnavailable = "location unavailable"

const geocodeCacheTTL = 24 * time.Hour

type GeocodeService interface {
	ResolvePlace(ctx context.Context, reqID int64, latitude float64, longitude float64) (string, error)
}

type geocodeService struct {
	weaver.Implements[GeocodeService]
	weaver.WithConfig[geocodeServiceOptions]
	redisClient *redis.Client
	httpClient  *http.Client
}

type geocodeServiceOptions struct {
	// e.g. https://maps.googleapis.com/maps/api/geocode/json
	Endpoint  string `toml:"endpoint"`
	APIKey    string `toml:"api_key"`
	RedisAddr string `toml:"redis_address"`
	RedisPort int    `toml:"redis_port"`
	TimeoutMs int    `toml:"timeout_ms"`
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		FormattedAddress string `json:"formatted_address"`
	} `json:"results"`
}

func (g *geocodeService) Init(ctx context.Context) error {
	logger := g.Logger(ctx)
	timeout := time.Duration(g.Config().TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	g.httpClient = &http.Client{Timeout: timeout}
	g.redisClient = storage.RedisClient(g.Config().RedisAddr, g.Config().RedisPort)
	logger.Info("geocode service running!", "endpoint", g.Config().Endpoint)
	return nil
}

func (g *geocodeService) ResolvePlace(ctx context.Context, reqID int64, latitude float64, longitude float64) (string, error) {
	logger := g.Logger(ctx)
	logger.Debug("entering ResolvePlace", "req_id", reqID, "latitude", latitude, "longitude", longitude)

	if g.Config().Endpoint == "" {
		return placeUnavailable, nil
	}

	cacheKey := fmt.Sprintf("geo:%.4f:%.4f", latitude, longitude)
	place, err := g.redisClient.Get(ctx, cacheKey).Result()
	if err == nil {
		return place, nil
	}
	if err != redis.Nil {
		logger.Error("error reading place from redis", "msg", err.Error())
	}

	place = g.lookup(ctx, latitude, longitude)
	if place != placeUnavailable {
		if err := g.redisClient.Set(ctx, cacheKey, place, geocodeCacheTTL).Err(); err != nil {
			logger.Error("error writing place to redis", "msg", err.Error())
		}
	}
	return place, nil
}

func (g *geocodeService) lookup(ctx context.Context, latitude float64, longitude float64) string {
	logger := g.Logger(ctx)

	query := url.Values{}
	query.Set("latlng", fmt.Sprintf("%f,%f", latitude, longitude))
	query.Set("key", g.Config().APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.Config().Endpoint+"?"+query.Encode(), nil)
	if err != nil {
		logger.Error("error building geocode request", "msg", err.Error())
		return placeUnavailable
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		logger.Warn("error calling geocode endpoint", "msg", err.Error())
		return placeUnavailable
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		logger.Warn("geocode endpoint returned an error", "status", resp.StatusCode)
		return placeUnavailable
	}
	var parsed geocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		logger.Warn("error parsing geocode response", "msg", err.Error())
		return placeUnavailable
	}
	if parsed.Status != "OK" || len(parsed.Results) == 0 {
		return placeUnavailable
	}
	return parsed.Results[0].FormattedAddress
}
