package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/temoto/atomic_clock"
	"github.com/temoto/tracker/hardware/gnss"
	"github.com/temoto/tracker/hardware/modem"
)

// Stats are process counters, exposed on metrics.listen when configured.
type Stats struct {
	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram
	ModemState    prometheus.Gauge
	LinkAttempts  *prometheus.CounterVec
	Errors        prometheus.Counter

	lastSent atomic_clock.Clock
}

func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_cycles_total",
				Help: "Transmission cycles by outcome",
			},
			[]string{"outcome"},
		),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_cycle_duration_seconds",
			Help:    "Time spent in one cycle, including modem exchange",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 15, 30},
		}),
		ModemState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_modem_state",
			Help: "Modem session state: 0=uninitialized 1=ready 2=bearer-open 3=request-in-flight 4=faulted",
		}),
		LinkAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_link_attempts_total",
				Help: "Modem init and bearer setup attempts by result",
			},
			[]string{"result"},
		),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_errors_total",
			Help: "Diagnostics logged at error level",
		}),
	}
	for _, o := range outcomes {
		s.Cycles.WithLabelValues(o.String())
	}
	reg.MustRegister(
		s.Cycles,
		s.CycleDuration,
		s.ModemState,
		s.LinkAttempts,
		s.Errors,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tracker_last_sent_age_seconds",
			Help: "Seconds since last successful transmission, -1 if none yet",
		}, s.lastSentAge),
	)
	return s
}

// registerGnss exports decoder counters, read on scrape.
func (self *Stats) registerGnss(reg prometheus.Registerer, decoder *gnss.Decoder) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "tracker_gnss_sentences_total",
			Help: "NMEA sentences decoded",
		}, func() float64 { return float64(decoder.Stats().Sentences) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "tracker_gnss_errors_total",
			Help: "NMEA lines rejected by parser",
		}, func() float64 { return float64(decoder.Stats().Errors) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "tracker_gnss_fix_valid",
			Help: "1 when current fix is valid",
		}, func() float64 {
			if decoder.FixValid() {
				return 1
			}
			return 0
		}),
	)
}

func (self *Stats) observe(o Outcome) {
	self.Cycles.WithLabelValues(o.String()).Inc()
	if o == OutcomeSent {
		self.lastSent.SetNow()
	}
}

func (self *Stats) setModemState(s modem.State) { self.ModemState.Set(float64(s)) }

func (self *Stats) lastSentAge() float64 {
	if self.lastSent.IsZero() {
		return -1
	}
	return atomic_clock.Since(&self.lastSent).Seconds()
}
