// Minimal end-to-end check against a running board.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	baseURL  = getenv("BOARD_URL", "http://127.0.0.1:8000")
	redisURL = getenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	channel  = getenv("BOARD_CHANNEL", "newroom")
	secret   = os.Getenv("BACKEND_SECRET")
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

type event struct {
	Type string `json:"type"`
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func main() {
	if secret == "" {
		log.Fatal("BACKEND_SECRET is required")
	}
	ctx := context.Background()
	rdb := mustRedis()
	defer rdb.Close()

	checkHealth()

	ps := rdb.Subscribe(ctx, channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	events := ps.Channel()

	owner := uuid.NewString()
	first, second := roomID(), roomID()

	post(first, owner, "X-Authorization-Token", secret)
	expect(events, "partial", first)

	post(second, owner, "Authorization", "Bearer "+signToken())
	expect(events, "delete", first)
	expect(events, "partial", second)

	etag := checkRooms(second, first)
	checkNotModified(etag)

	fmt.Println("✓ board smoke test passed")
}

// ----------------------------- board

func checkHealth() {
	res, err := http.Get(baseURL + "/health")
	if err != nil {
		log.Fatalf("health: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		log.Fatalf("health: want 204 got %d", res.StatusCode)
	}
}

func post(id, owner, header, value string) {
	body, _ := json.Marshal(map[string]any{
		"id":      id,
		"message": "smoke test",
		"owner":   map[string]any{"id": owner, "name": "smoke"},
		"guild":   "smoke",
	})
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/party", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(header, value)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("POST /party: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		log.Fatalf("POST /party: want 200 got %d", res.StatusCode)
	}
}

func expect(events <-chan *redis.Message, typ, id string) {
	select {
	case msg := <-events:
		var ev event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Fatalf("decode event: %v", err)
		}
		if ev.Type != typ || len(ev.Data) != 1 || ev.Data[0].ID != id {
			log.Fatalf("event: want %s %s got %s", typ, id, msg.Payload)
		}
	case <-time.After(5 * time.Second):
		log.Fatalf("event: timed out waiting for %s %s", typ, id)
	}
}

func checkRooms(present, gone string) string {
	res, err := http.Get(baseURL + "/rooms")
	if err != nil {
		log.Fatalf("GET /rooms: %v", err)
	}
	defer res.Body.Close()
	var ev event
	if err := json.NewDecoder(res.Body).Decode(&ev); err != nil {
		log.Fatalf("GET /rooms decode: %v", err)
	}
	found := false
	for _, r := range ev.Data {
		if r.ID == gone {
			log.Fatalf("GET /rooms: replaced room %s still listed", gone)
		}
		found = found || r.ID == present
	}
	if !found {
		log.Fatalf("GET /rooms: room %s missing", present)
	}
	return res.Header.Get("ETag")
}

func checkNotModified(etag string) {
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/rooms", nil)
	req.Header.Set("If-None-Match", etag)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("GET /rooms: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotModified {
		log.Fatalf("GET /rooms with ETag: want 304 got %d", res.StatusCode)
	}
}

// ----------------------------- helpers

func roomID() string {
	return fmt.Sprintf("%07d", rand.Intn(10_000_000))
}

func signToken() string {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "smoke",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	return s
}

func mustRedis() *redis.Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("redis url: %v", err)
	}
	return redis.NewClient(opt)
}
