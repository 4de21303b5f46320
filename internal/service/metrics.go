package service

import "github.com/prometheus/client_golang/prometheus"

var (
	startsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runbar_service_starts_total",
		Help: "Service start attempts by result.",
	}, []string{"service", "result"})

	crashesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runbar_service_crashes_total",
		Help: "Abnormal service exits.",
	}, []string{"service"})

	restartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runbar_service_restarts_total",
		Help: "Automatic restarts scheduled.",
	}, []string{"service"})

	conflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runbar_port_conflicts_total",
		Help: "Port conflicts by decision.",
	}, []string{"decision"})

	runningServices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "runbar_services_running",
		Help: "Services currently running.",
	})
)

func init() {
	prometheus.MustRegister(startsTotal, crashesTotal, restartsTotal, conflictsTotal, runningServices)
}
