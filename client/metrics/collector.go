package metrics

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"os"
	"sort"
	"strconv"
	"time"
)

const (
	StatusOK    = "OK"
	StatusError = "ERROR"

	statusConnection = "CONN_NEW"
	statusRetry      = "RETRY"
)

type Record struct {
	Timestamp      time.Time
	Kind           string
	Latency        time.Duration
	StatusCode     string
	ConversationID string
}

type Collector struct {
	records   chan Record
	Done      chan struct{}
	csvFile   io.Closer
	csvWriter *csv.Writer
	Stats     Statistics
}

type Statistics struct {
	TotalMessages    int
	SuccessCount     int
	FailCount        int
	TotalConnections int
	RetryCount       int
	TotalLatency     time.Duration
	MinLatency       time.Duration
	MaxLatency       time.Duration
	StartTime        time.Time
	EndTime          time.Time

	Latencies          []time.Duration
	ConversationCounts map[string]int
	KindCounts         map[string]int
	ThroughputBuckets  map[int64]int // 10s bucket start (unix seconds) -> count
}

// NewCollector writes per-message rows to a CSV file at filePath.
func NewCollector(filePath string) (*Collector, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, err
	}
	return newCollector(file, file)
}

func newCollector(w io.Writer, closer io.Closer) (*Collector, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "kind", "latency_ms", "statusCode", "conversationId"}); err != nil {
		return nil, err
	}
	writer.Flush()

	return &Collector{
		records:   make(chan Record, 10000),
		Done:      make(chan struct{}),
		csvFile:   closer,
		csvWriter: writer,
		Stats: Statistics{
			MinLatency:         time.Duration(1<<63 - 1),
			ConversationCounts: make(map[string]int),
			KindCounts:         make(map[string]int),
			ThroughputBuckets:  make(map[int64]int),
		},
	}, nil
}

func (c *Collector) Record(r Record) {
	c.records <- r
}

func (c *Collector) RecordConnection() {
	c.records <- Record{StatusCode: statusConnection}
}

func (c *Collector) RecordRetry() {
	c.records <- Record{StatusCode: statusRetry}
}

// Start consumes records until Close; Done is closed once the CSV is flushed.
func (c *Collector) Start() {
	c.Stats.StartTime = time.Now()
	go func() {
		defer close(c.Done)
		for r := range c.records {
			c.consume(r)
		}
		c.csvWriter.Flush()
		if c.csvFile != nil {
			_ = c.csvFile.Close()
		}
		c.Stats.EndTime = time.Now()
	}()
}

func (c *Collector) consume(r Record) {
	switch r.StatusCode {
	case statusConnection:
		c.Stats.TotalConnections++
		return
	case statusRetry:
		c.Stats.RetryCount++
		return
	}

	c.Stats.TotalMessages++
	if r.StatusCode == StatusOK {
		c.Stats.SuccessCount++
		c.Stats.TotalLatency += r.Latency
		c.Stats.MinLatency = min(c.Stats.MinLatency, r.Latency)
		c.Stats.MaxLatency = max(c.Stats.MaxLatency, r.Latency)
		c.Stats.Latencies = append(c.Stats.Latencies, r.Latency)
		c.Stats.ConversationCounts[r.ConversationID]++
		c.Stats.KindCounts[r.Kind]++
		c.Stats.ThroughputBuckets[r.Timestamp.Unix()/10*10]++
	} else {
		c.Stats.FailCount++
	}

	_ = c.csvWriter.Write([]string{
		r.Timestamp.Format(time.RFC3339Nano),
		r.Kind,
		strconv.FormatInt(r.Latency.Milliseconds(), 10),
		r.StatusCode,
		r.ConversationID,
	})
}

func (c *Collector) Close() {
	close(c.records)
}

func (c *Collector) CalculatePercentiles() (median, p95, p99 time.Duration) {
	n := len(c.Stats.Latencies)
	if n == 0 {
		return 0, 0, 0
	}
	sort.Slice(c.Stats.Latencies, func(i, j int) bool {
		return c.Stats.Latencies[i] < c.Stats.Latencies[j]
	})
	at := func(q float64) time.Duration {
		return c.Stats.Latencies[min(int(float64(n)*q), n-1)]
	}
	return c.Stats.Latencies[n/2], at(0.95), at(0.99)
}

func (c *Collector) PrintSummary(w io.Writer) {
	duration := c.Stats.EndTime.Sub(c.Stats.StartTime).Seconds()
	var throughput float64
	if duration > 0 {
		throughput = float64(c.Stats.SuccessCount) / duration
	}
	var avg, minLatency time.Duration
	if c.Stats.SuccessCount > 0 {
		avg = c.Stats.TotalLatency / time.Duration(c.Stats.SuccessCount)
		minLatency = c.Stats.MinLatency
	}
	median, p95, p99 := c.CalculatePercentiles()

	fmt.Fprintln(w, "========= Test Results =========")
	fmt.Fprintf(w, "Total Duration: %.2f seconds\n", duration)
	fmt.Fprintf(w, "Total Messages: %d\n", c.Stats.TotalMessages)
	fmt.Fprintf(w, "Successful: %d\n", c.Stats.SuccessCount)
	fmt.Fprintf(w, "Failed: %d\n", c.Stats.FailCount)
	fmt.Fprintf(w, "Throughput: %.2f msg/sec\n", throughput)
	fmt.Fprintf(w, "Total Connections: %d\n", c.Stats.TotalConnections)
	fmt.Fprintf(w, "Total Retries: %d\n", c.Stats.RetryCount)
	fmt.Fprintf(w, "Conversations: %d\n", len(c.Stats.ConversationCounts))
	fmt.Fprintf(w, "Avg Latency: %v\n", avg)
	fmt.Fprintf(w, "Min Latency: %v\n", minLatency)
	fmt.Fprintf(w, "Max Latency: %v\n", c.Stats.MaxLatency)
	fmt.Fprintf(w, "Median Latency: %v\n", median)
	fmt.Fprintf(w, "P95 Latency: %v\n", p95)
	fmt.Fprintf(w, "P99 Latency: %v\n", p99)

	fmt.Fprintln(w, "\n--- Sender Distribution ---")
	kinds := make([]string, 0, len(c.Stats.KindCounts))
	for k := range c.Stats.KindCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "%s: %d\n", k, c.Stats.KindCounts[k])
	}
	fmt.Fprintln(w, "================================")
}

const chartTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Relay Throughput</title>
    <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
</head>
<body>
    <div style="width: 80%; margin: auto;">
        <canvas id="throughput"></canvas>
    </div>
    <script>
        new Chart(document.getElementById('throughput').getContext('2d'), {
            type: 'line',
            data: {
                labels: {{.Labels}},
                datasets: [{
                    label: 'Throughput (msg/sec)',
                    data: {{.Data}},
                    borderColor: 'rgb(75, 192, 192)',
                    tension: 0.1
                }]
            },
            options: { scales: { y: { beginAtZero: true } } }
        });
    </script>
</body>
</html>`

var chart = template.Must(template.New("chart").Parse(chartTemplate))

// GenerateChart renders per-second throughput, averaged over 10s buckets.
func (c *Collector) GenerateChart(w io.Writer) error {
	buckets := make([]int64, 0, len(c.Stats.ThroughputBuckets))
	for k := range c.Stats.ThroughputBuckets {
		buckets = append(buckets, k)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

	labels := make([]string, 0, len(buckets))
	data := make([]float64, 0, len(buckets))
	for _, b := range buckets {
		labels = append(labels, time.Unix(b, 0).Format("15:04:05"))
		data = append(data, float64(c.Stats.ThroughputBuckets[b])/10)
	}

	return chart.Execute(w, struct {
		Labels []string
		Data   []float64
	}{labels, data})
}
