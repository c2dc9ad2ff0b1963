package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the sweep.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	PagesTotal        prometheus.Counter
	ItemsFetchedTotal prometheus.Counter
	RetriesTotal      prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	CategoriesTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "Total HTTP requests issued against the catalog API.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "HTTP request latency for catalog API requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_pages_total",
			Help: "Total number of listing pages fetched.",
		},
	)
	itemsFetched := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_items_fetched_total",
			Help: "Total number of items decoded from listing pages.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_retries_total",
			Help: "Total number of retry attempts.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_errors_total",
			Help: "Total number of request errors by type.",
		},
		[]string{"error_type"},
	)
	categories := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_categories_total",
			Help: "Categories processed by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(requests, requestDuration, pages, itemsFetched, retries, errorsTotal, categories)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		PagesTotal:        pages,
		ItemsFetchedTotal: itemsFetched,
		RetriesTotal:      retries,
		ErrorsTotal:       errorsTotal,
		CategoriesTotal:   categories,
	}
}

// IncRequest increments the requests counter for an outcome label.
func (m *Metrics) IncRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncPage increments the pages counter.
func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// AddItems adds n to the items fetched counter.
func (m *Metrics) AddItems(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsFetchedTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCategory increments the categories counter for a result label.
func (m *Metrics) IncCategory(result string) {
	if m == nil {
		return
	}
	m.CategoriesTotal.WithLabelValues(result).Inc()
}
