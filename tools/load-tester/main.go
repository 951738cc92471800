package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/V4T54L/argos/internal/domain"
)

type place struct {
	name    string
	country string
	lat     float64
	lng     float64
}

var (
	places = []place{
		{"Kharkiv", "Ukraine", 49.99, 36.23},
		{"Kherson", "Ukraine", 46.64, 32.61},
		{"Khan Younis", "Palestine", 31.34, 34.30},
		{"El Fasher", "Sudan", 13.63, 25.35},
		{"Goma", "Democratic Republic of the Congo", -1.68, 29.22},
	}
	types   = []domain.EventType{domain.EventArtillery, domain.EventAirstrike, domain.EventArmedClash, domain.EventProtest, domain.EventDiplomatic}
	sources = []struct {
		name        string
		language    string
		reliability float64
	}{
		{"Reuters", "en", 0.9},
		{"Ukrainska Pravda", "uk", 0.75},
		{"Al Jazeera", "ar", 0.8},
		{"Le Monde", "fr", 0.85},
		{"Telegram channel", "ru", 0.4},
	}
)

// incident returns the reports several sources file about one occurrence.
// Reports share place, type and a timestamp within an hour, so the engine
// should fold them into one cluster.
func incident(r *rand.Rand, reports int) []domain.RawEvent {
	p := places[r.IntN(len(places))]
	typ := types[r.IntN(len(types))]
	at := time.Now().UTC().Add(-time.Duration(r.IntN(6*60)) * time.Minute)
	killed := r.IntN(12)

	out := make([]domain.RawEvent, 0, reports)
	for i := 0; i < reports; i++ {
		src := sources[r.IntN(len(sources))]
		k := killed + r.IntN(3)
		out = append(out, domain.RawEvent{
			ID:                 uuid.NewString(),
			EstimatedTimestamp: at.Add(time.Duration(r.IntN(60)) * time.Minute),
			Precision:          domain.PrecisionExact,
			TimeConfidence:     0.6 + r.Float64()*0.4,
			PublishedAt:        at.Add(2 * time.Hour),
			LocationName:       p.name,
			Country:            p.country,
			Coordinates:        &domain.Coordinates{Lat: p.lat + r.Float64()*0.05, Lng: p.lng + r.Float64()*0.05},
			EventType:          typ,
			Casualties:         domain.Casualties{Killed: &k},
			Headline:           fmt.Sprintf("%s reported in %s", typ, p.name),
			SourceName:         src.name,
			SourceReliability:  src.reliability,
			Language:           src.language,
		})
	}
	return out
}

func main() {
	targetURL := flag.String("url", "http://localhost:8080/ingest", "Target URL for ingestion")
	apiKey := flag.String("api-key", "supersecretkey", "Collector key for authentication")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 200, "Requests per second limit")
	reports := flag.Int("reports", 3, "Reports per synthetic incident")
	ndjson := flag.Bool("ndjson", true, "Send each incident as one NDJSON request instead of one request per report")
	flag.Parse()

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Reports/incident: %d", *concurrency, *duration, *rps, *reports)

	var wg sync.WaitGroup
	var successCount, errorCount, eventCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 100) // Allow bursts up to 100

	send := func(client *http.Client, contentType string, body []byte) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("X-API-Key", *apiKey)

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				errorCount.Add(1)
			}
			return
		}
		if resp.StatusCode == http.StatusAccepted {
			successCount.Add(1)
		} else {
			errorCount.Add(1)
		}
		resp.Body.Close()
	}

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{Timeout: 5 * time.Second}
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				events := incident(r, *reports)
				eventCount.Add(int64(len(events)))

				if *ndjson {
					var buf bytes.Buffer
					enc := json.NewEncoder(&buf)
					for _, ev := range events {
						enc.Encode(ev)
					}
					send(client, "application/x-ndjson", buf.Bytes())
					continue
				}
				for _, ev := range events {
					body, _ := json.Marshal(ev)
					send(client, "application/json", body)
				}
			}
		}(i)
	}

	wg.Wait()

	totalRequests := successCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Events Sent: %d", eventCount.Load())
	log.Printf("Successful (202 Accepted): %d", successCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}
