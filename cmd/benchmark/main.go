// Benchmark tool for testing Magpie against labeled listing data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/listings.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled listing data (with is_scam labels)
//   2. Sends each listing to Magpie for analysis
//   3. Compares Magpie's verdict (high tier = alert) with actual labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns: title, description, category, price, location,
// photos_count, account_age_days, review_count, similar_items, is_scam.
// Empty cells mean the field was absent from the listing.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledListing represents a row from the benchmark dataset.
type LabeledListing struct {
	Title          string
	Description    string
	Category       string
	Price          *float64
	Location       *string
	PhotosCount    int
	AccountAgeDays *int
	ReviewCount    *int
	SimilarItems   *int
	IsScam         bool
}

// SellerInfo mirrors the API seller payload.
type SellerInfo struct {
	AccountAgeDays    *int `json:"accountAgeDays,omitempty"`
	ReviewCount       *int `json:"reviewCount,omitempty"`
	SimilarItemsCount *int `json:"similarItemsCount,omitempty"`
}

// AnalyzeRequest is the Magpie API request format.
type AnalyzeRequest struct {
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category,omitempty"`
	Price       *float64    `json:"price,omitempty"`
	Location    *string     `json:"location,omitempty"`
	PhotosCount int         `json:"photosCount"`
	Seller      *SellerInfo `json:"seller,omitempty"`
}

// AnalyzeResponse is the Magpie API response format.
type AnalyzeResponse struct {
	AssessmentID string  `json:"assessmentId"`
	Score        float64 `json:"score"`
	Level        string  `json:"level"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Scam flagged high
	FalsePositives int64 // Legit flagged high
	TrueNegatives  int64 // Legit below threshold
	FalseNegatives int64 // Scam below threshold (missed!)

	TotalProcessed int64
	TotalScam      int64
	TotalLegit     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled listings CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Magpie base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum listings to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	alertTier := flag.String("alert-tier", "high", "Tier treated as an alert: high or medium")
	verbose := flag.Bool("verbose", false, "Print each listing result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/listings.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("MAGPIE BENCHMARK - labeled listing detection")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Magpie URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Alert tier:  %s\n", *alertTier)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Magpie not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Magpie is running:")
		fmt.Println("  go run cmd/magpie/main.go")
		os.Exit(1)
	}
	fmt.Println("Magpie is healthy")

	fmt.Printf("\nReading labeled listings from %s...\n", *csvPath)
	listings, err := readListingsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d listings\n", len(listings))

	scamCount := 0
	for _, l := range listings {
		if l.IsScam {
			scamCount++
		}
	}
	fmt.Printf("  - Scam:  %d (%.2f%%)\n", scamCount, 100*float64(scamCount)/float64(len(listings)))
	fmt.Printf("  - Legit: %d (%.2f%%)\n", len(listings)-scamCount, 100*float64(len(listings)-scamCount)/float64(len(listings)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(listings, *baseURL, *tenantID, *alertTier, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readListingsCSV(path string, limit int) ([]LabeledListing, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex["title"]; !ok {
		return nil, fmt.Errorf("missing required column: title")
	}
	if _, ok := colIndex["is_scam"]; !ok {
		return nil, fmt.Errorf("missing required column: is_scam")
	}

	cell := func(record []string, name string) string {
		i, ok := colIndex[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var listings []LabeledListing
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		l := LabeledListing{
			Title:       cell(record, "title"),
			Description: cell(record, "description"),
			Category:    cell(record, "category"),
			IsScam:      cell(record, "is_scam") == "1",
		}
		if v := cell(record, "price"); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				l.Price = &f
			}
		}
		if v := cell(record, "location"); v != "" {
			l.Location = &v
		}
		if v := cell(record, "photos_count"); v != "" {
			l.PhotosCount, _ = strconv.Atoi(v)
		}
		l.AccountAgeDays = parseIntCell(cell(record, "account_age_days"))
		l.ReviewCount = parseIntCell(cell(record, "review_count"))
		l.SimilarItems = parseIntCell(cell(record, "similar_items"))

		listings = append(listings, l)

		if limit > 0 && len(listings) >= limit {
			break
		}
	}

	return listings, nil
}

func parseIntCell(v string) *int {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func runBenchmark(listings []LabeledListing, baseURL, tenantID, alertTier string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledListing, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for l := range work {
				start := time.Now()
				result, err := analyzeListing(client, baseURL, tenantID, l)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %q -> %v\n", l.Title, err)
					}
					continue
				}

				if l.IsScam {
					atomic.AddInt64(&metrics.TotalScam, 1)
				} else {
					atomic.AddInt64(&metrics.TotalLegit, 1)
				}

				predicted := result.Level == alertTier
				if alertTier == "medium" {
					predicted = result.Level == "medium" || result.Level == "high"
				}
				actual := l.IsScam

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else {
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					mark := "OK "
					if predicted != actual {
						mark = "MISS"
					}
					title := l.Title
					if len(title) > 30 {
						title = title[:30]
					}
					fmt.Printf("%s %-30s | scam: %-5v | magpie: %-6s (%.2f)\n",
						mark, title, l.IsScam, result.Level, result.Score)
				}
			}
		}()
	}

	for _, l := range listings {
		work <- l
	}
	close(work)

	wg.Wait()

	return metrics
}

func analyzeListing(client *http.Client, baseURL, tenantID string, l LabeledListing) (*AnalyzeResponse, error) {
	req := AnalyzeRequest{
		Title:       l.Title,
		Description: l.Description,
		Category:    l.Category,
		Price:       l.Price,
		Location:    l.Location,
		PhotosCount: l.PhotosCount,
	}
	if l.AccountAgeDays != nil || l.ReviewCount != nil || l.SimilarItems != nil {
		req.Seller = &SellerInfo{
			AccountAgeDays:    l.AccountAgeDays,
			ReviewCount:       l.ReviewCount,
			SimilarItemsCount: l.SimilarItems,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Scam:       %d\n", m.TotalScam)
	fmt.Printf("   Total Legit:      %d\n", m.TotalLegit)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    ALERT       CLEAR")
	fmt.Printf("   Actual  scam  %8d    %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          legit  %8d    %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actual scams)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of scams, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\nDETECTION ANALYSIS\n")
	if m.TotalScam > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalScam) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalScam) * 100
		fmt.Printf("   Scams Detected:   %d / %d (%.2f%%)\n", m.TruePositives, m.TotalScam, detectionRate)
		fmt.Printf("   Scams Missed:     %d / %d (%.2f%%)\n", m.FalseNegatives, m.TotalScam, missRate)
	}
	if m.TotalLegit > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalLegit) * 100
		fmt.Printf("   False Alarms:     %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalLegit, falseAlarmRate)
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f listings/sec\n", tps)
	}

	fmt.Println()
}
