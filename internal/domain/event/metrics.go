package event

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_queries_total",
		Help: "Number of event searches served, by result shape.",
	}, []string{"shape"})

	importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "event_imports_total",
		Help: "Imported event outcomes, by counter class.",
	}, []string{"outcome"})
)

func recordImportCounts(c Counts) {
	importsTotal.WithLabelValues("imported").Add(float64(c.Imported))
	importsTotal.WithLabelValues("updated").Add(float64(c.Updated))
	importsTotal.WithLabelValues("deleted").Add(float64(c.Deleted))
	importsTotal.WithLabelValues("ignored").Add(float64(c.Ignored))
}
