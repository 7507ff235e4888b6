// Package distributor implements throttled fan-out of scoring results to
// live per-student websocket subscribers.
package distributor

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/learnpulse/clr-hub/internal/domain/scoring"
	"github.com/learnpulse/clr-hub/pkg/logger"
)

// Conn is the subset of a websocket connection the distributor needs.
// *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Update is the payload pushed to live subscribers.
type Update struct {
	StudentID        string   `json:"studentId"`
	SessionID        string   `json:"sessionId"`
	Score            float64  `json:"score"`
	FatigueLevel     string   `json:"fatigueLevel"`
	DetectedPatterns []string `json:"detectedPatterns"`
	Recommendations  []string `json:"recommendations"`
	Timestamp        int64    `json:"timestamp"`
}

// Config holds distributor configuration.
type Config struct {
	// MinSpacing is the minimum interval between deliveries to one
	// student; updates inside the window are dropped silently.
	// Default: 30s.
	MinSpacing time.Duration

	// WriteTimeout bounds each websocket write. Default: 5s.
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinSpacing:   30 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Subscription wraps one live connection. Writes are serialized per
// connection, as required by the websocket transport.
type Subscription struct {
	conn Conn
	mu   sync.Mutex
}

// Metrics exposes distributor counters.
type Metrics struct {
	Delivered prometheus.Counter
	Throttled prometheus.Counter
	Dropped   prometheus.Counter
	Active    prometheus.Gauge
}

// NewMetrics registers the distributor collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clr",
			Subsystem: "distributor",
			Name:      "updates_delivered_total",
			Help:      "Updates pushed to at least one live subscriber.",
		}),
		Throttled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clr",
			Subsystem: "distributor",
			Name:      "updates_throttled_total",
			Help:      "Updates dropped by the per-student spacing window.",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "clr",
			Subsystem: "distributor",
			Name:      "connections_dropped_total",
			Help:      "Connections closed after a failed write.",
		}),
		Active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "clr",
			Subsystem: "distributor",
			Name:      "active_connections",
			Help:      "Currently registered subscriber connections.",
		}),
	}
}

// Distributor maintains the studentID -> live connections registry and a
// per-student delivery throttle. All state is owned by the instance; tests
// and replicas run isolated distributors.
type Distributor struct {
	config  Config
	metrics *Metrics
	log     *logger.Logger
	now     func() time.Time

	mu            sync.Mutex
	subscribers   map[string]map[*Subscription]struct{}
	lastDelivered map[string]time.Time
}

// New creates a Distributor. A nil clock uses time.Now.
func New(config Config, metrics *Metrics, log *logger.Logger, clock func() time.Time) *Distributor {
	if config.MinSpacing <= 0 {
		config.MinSpacing = DefaultConfig().MinSpacing
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if log == nil {
		log = logger.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Distributor{
		config:        config,
		metrics:       metrics,
		log:           log.With(logger.Component("distributor")),
		now:           clock,
		subscribers:   make(map[string]map[*Subscription]struct{}),
		lastDelivered: make(map[string]time.Time),
	}
}

// Register adds a live connection for a student and returns a handle for
// Unregister.
func (d *Distributor) Register(studentID string, conn Conn) *Subscription {
	sub := &Subscription{conn: conn}

	d.mu.Lock()
	set, ok := d.subscribers[studentID]
	if !ok {
		set = make(map[*Subscription]struct{})
		d.subscribers[studentID] = set
	}
	set[sub] = struct{}{}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.Active.Inc()
	}
	d.log.Debug("subscriber registered", logger.StudentID(studentID))
	return sub
}

// Unregister removes a connection. The student entry is deleted once its
// connection set is empty.
func (d *Distributor) Unregister(studentID string, sub *Subscription) {
	d.mu.Lock()
	set, ok := d.subscribers[studentID]
	removed := false
	if ok {
		if _, present := set[sub]; present {
			delete(set, sub)
			removed = true
		}
		if len(set) == 0 {
			delete(d.subscribers, studentID)
		}
	}
	d.mu.Unlock()

	if removed && d.metrics != nil {
		d.metrics.Active.Dec()
	}
}

// SubscriberCount reports live connections for a student.
func (d *Distributor) SubscriberCount(studentID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers[studentID])
}

// Publish pushes a scoring result to every live connection of its student.
// Deliveries inside the spacing window are dropped silently; the throttle
// timestamp only advances on an actual delivery attempt.
func (d *Distributor) Publish(result scoring.Result) {
	d.PublishUpdate(Update{
		StudentID:        result.StudentID,
		SessionID:        result.SessionID,
		Score:            result.Score,
		FatigueLevel:     string(result.FatigueLevel),
		DetectedPatterns: result.DetectedPatterns,
		Recommendations:  result.Recommendations,
		Timestamp:        result.WindowEnd,
	})
}

// PublishUpdate pushes an already-shaped update, for externally relayed
// notifications.
func (d *Distributor) PublishUpdate(update Update) {
	now := d.now()

	d.mu.Lock()
	if last, ok := d.lastDelivered[update.StudentID]; ok && now.Sub(last) < d.config.MinSpacing {
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.Throttled.Inc()
		}
		return
	}

	set := d.subscribers[update.StudentID]
	if len(set) == 0 {
		d.mu.Unlock()
		return
	}
	d.lastDelivered[update.StudentID] = now

	targets := make([]*Subscription, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	d.mu.Unlock()

	data, err := json.Marshal(update)
	if err != nil {
		d.log.Error("update marshal failed", logger.Err(err))
		return
	}

	for _, sub := range targets {
		if err := d.write(sub, data); err != nil {
			d.log.Warn("subscriber write failed, dropping connection",
				logger.StudentID(update.StudentID),
				logger.Err(err))
			_ = sub.conn.Close()
			d.Unregister(update.StudentID, sub)
			if d.metrics != nil {
				d.metrics.Dropped.Inc()
			}
		}
	}

	if d.metrics != nil {
		d.metrics.Delivered.Inc()
	}
}

func (d *Distributor) write(sub *Subscription, data []byte) error {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if err := sub.conn.SetWriteDeadline(d.now().Add(d.config.WriteTimeout)); err != nil {
		return err
	}
	return sub.conn.WriteMessage(websocket.TextMessage, data)
}

// ForgetStudent clears the student's throttle state, for session teardown.
func (d *Distributor) ForgetStudent(studentID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lastDelivered, studentID)
}
