package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// RedisIndex implements Index against Redis GEO commands. It is the backend
// the fallback match worker shares with the API process; distances reported
// by Redis go through the same floor/rounding as the in-memory index.
type RedisIndex struct {
	client *redis.Client
	key    string
	ctx    context.Context
}

func NewRedisIndex(addr, password, key string) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, ctx: context.Background()}
}

func (r *RedisIndex) Upsert(driverID string, lat, lng float64) {
	_, _ = r.client.GeoAdd(r.ctx, r.key, &redis.GeoLocation{Longitude: lng, Latitude: lat, Name: driverID}).Result()
	_ = r.client.HSet(r.ctx, metaKey(driverID), map[string]interface{}{"updated": time.Now().Format(time.RFC3339)}).Err()
}

func (r *RedisIndex) Remove(driverID string) {
	_ = r.client.ZRem(r.ctx, r.key, driverID).Err()
	_ = r.client.Del(r.ctx, metaKey(driverID)).Err()
}

func (r *RedisIndex) Nearby(lat, lng, maxDistanceKm float64) []models.DriverPosition {
	res, err := r.client.GeoRadius(r.ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: maxDistanceKm, Unit: "km", WithCoord: true, WithDist: true, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil
	}
	out := make([]models.DriverPosition, 0, len(res))
	for _, g := range res {
		out = append(out, models.DriverPosition{DriverID: g.Name, Lat: g.Latitude, Lng: g.Longitude})
	}
	return out
}

func (r *RedisIndex) Nearest(lat, lng float64) (models.DriverPosition, bool) {
	near := r.Nearby(lat, lng, NearestRadiusKm)
	if len(near) == 0 {
		return models.DriverPosition{}, false
	}
	return near[0], true
}

func (r *RedisIndex) All() []models.DriverPosition {
	ids, err := r.client.ZRange(r.ctx, r.key, 0, -1).Result()
	if err != nil || len(ids) == 0 {
		return nil
	}
	pos, err := r.client.GeoPos(r.ctx, r.key, ids...).Result()
	if err != nil {
		return nil
	}
	out := make([]models.DriverPosition, 0, len(ids))
	for i, p := range pos {
		if p == nil {
			continue
		}
		out = append(out, models.DriverPosition{DriverID: ids[i], Lat: p.Latitude, Lng: p.Longitude})
	}
	return out
}

func metaKey(id string) string { return "driver:meta:" + id }
