// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollCycles counts completed sensor poll cycles
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locker_poll_cycles_total",
		Help: "Total sensor poll cycles",
	})

	// SensorReadErrors counts sensor reads that failed after retries
	SensorReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locker_sensor_read_errors_total",
		Help: "Sensor reads that failed after retries, by slot",
	}, []string{"slot"})

	// SlotState is 1 for the current state of each slot and 0 otherwise
	SlotState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "locker_slot_state",
		Help: "Current availability state per slot (1 = active state)",
	}, []string{"slot", "state"})

	// Identifications counts identification attempts by outcome
	Identifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locker_identifications_total",
		Help: "Identification attempts by result (match, none, error)",
	}, []string{"result"})

	// BestSimilarity tracks the best per-slot score of each identification
	BestSimilarity = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "locker_identification_best_similarity",
		Help:    "Best cosine similarity seen per identification",
		Buckets: prometheus.LinearBuckets(-0.2, 0.1, 13), // -0.2 to 1.0
	})

	// EnrolledImages counts processed enrollment images by outcome
	EnrolledImages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locker_enroll_images_total",
		Help: "Enrollment images by outcome (encoded, no_face, unreadable, failed)",
	}, []string{"outcome"})

	// Resets counts reset runs
	Resets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locker_resets_total",
		Help: "Total reset runs",
	})

	// ResetItemFailures counts items a reset could not remove
	ResetItemFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "locker_reset_item_failures_total",
		Help: "Items a reset failed to remove",
	})

	// Unlocks counts actuator pulses by slot
	Unlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "locker_unlocks_total",
		Help: "Lock release pulses by slot",
	}, []string{"slot"})
)

// SlotLabel formats a slot id as a label value.
func SlotLabel(slotID int) string {
	return strconv.Itoa(slotID)
}
