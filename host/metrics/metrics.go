// Package metrics exposes read-only controller state over HTTP: Prometheus
// metrics, a health probe and a JSON status snapshot.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goverter/core"
)

var log = logging.MustGetLogger("metrics")

// Source provides controller snapshots.
type Source interface {
	Snapshot() core.Status
}

// Collector reads a snapshot on every scrape, so the control loop never
// touches Prometheus types.
type Collector struct {
	src Source

	info        *prometheus.Desc
	cycles      *prometheus.Desc
	overruns    *prometheus.Desc
	clamped     *prometheus.Desc
	starts      *prometheus.Desc
	stops       *prometheus.Desc
	dropped     *prometheus.Desc
	measurement *prometheus.Desc
	valid       *prometheus.Desc
	filteredBus *prometheus.Desc
	duty        *prometheus.Desc
	stagePower  *prometheus.Desc
	requested   *prometheus.Desc
	frequency   *prometheus.Desc
	amplitude   *prometheus.Desc
}

// NewCollector describes the controller metrics. runID and conv become
// labels of goverter_info.
func NewCollector(src Source, runID string, conv core.Conversion) *Collector {
	constLabels := prometheus.Labels{"run_id": runID, "conversion": conv.String()}
	return &Collector{
		src:         src,
		info:        prometheus.NewDesc("goverter_info", "Controller run information.", nil, constLabels),
		cycles:      prometheus.NewDesc("goverter_cycles_total", "Control cycles executed.", nil, nil),
		overruns:    prometheus.NewDesc("goverter_overruns_total", "Control cycles that ended after their next deadline.", nil, nil),
		clamped:     prometheus.NewDesc("goverter_duty_clamped_total", "Duty commands clamped into the safe range.", nil, nil),
		starts:      prometheus.NewDesc("goverter_stage_starts_total", "Power stage start commands.", nil, nil),
		stops:       prometheus.NewDesc("goverter_stage_stops_total", "Power stage stop commands.", nil, nil),
		dropped:     prometheus.NewDesc("goverter_events_dropped_total", "Loop events dropped because the channel was full.", nil, nil),
		measurement: prometheus.NewDesc("goverter_measurement", "Last held value of a measurement channel.", []string{"channel"}, nil),
		valid:       prometheus.NewDesc("goverter_measurement_valid", "1 once a channel has received a sample.", []string{"channel"}, nil),
		filteredBus: prometheus.NewDesc("goverter_bus_voltage_filtered_volts", "Low-pass filtered DC bus voltage.", nil, nil),
		duty:        prometheus.NewDesc("goverter_duty_ratio", "Last duty cycle applied to a leg.", []string{"leg"}, nil),
		stagePower:  prometheus.NewDesc("goverter_stage_power", "1 while the power stage is enabled.", nil, nil),
		requested:   prometheus.NewDesc("goverter_mode_requested", "Requested mode (0 idle, 1 power).", nil, nil),
		frequency:   prometheus.NewDesc("goverter_reference_frequency_hertz", "Reference frequency.", nil, nil),
		amplitude:   prometheus.NewDesc("goverter_reference_amplitude", "Reference amplitude.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.info, c.cycles, c.overruns, c.clamped, c.starts, c.stops, c.dropped,
		c.measurement, c.valid, c.filteredBus, c.duty, c.stagePower, c.requested,
		c.frequency, c.amplitude,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(st.Stats.Cycles))
	ch <- prometheus.MustNewConstMetric(c.overruns, prometheus.CounterValue, float64(st.Stats.Overruns))
	ch <- prometheus.MustNewConstMetric(c.clamped, prometheus.CounterValue, float64(st.Stats.DutyClamped))
	ch <- prometheus.MustNewConstMetric(c.starts, prometheus.CounterValue, float64(st.Stats.Starts))
	ch <- prometheus.MustNewConstMetric(c.stops, prometheus.CounterValue, float64(st.Stats.Stops))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(st.Stats.EventsDropped))

	for id := core.ChannelID(0); id < core.NumChannels; id++ {
		m := st.Measurements[id]
		ch <- prometheus.MustNewConstMetric(c.measurement, prometheus.GaugeValue, m.Value, id.String())
		ch <- prometheus.MustNewConstMetric(c.valid, prometheus.GaugeValue, boolValue(m.Valid), id.String())
	}
	ch <- prometheus.MustNewConstMetric(c.filteredBus, prometheus.GaugeValue, st.FilteredBus)

	for i := 0; i < st.Legs; i++ {
		ch <- prometheus.MustNewConstMetric(c.duty, prometheus.GaugeValue, st.Duty[i], legLabel(st.LegIDs[i]))
	}
	ch <- prometheus.MustNewConstMetric(c.stagePower, prometheus.GaugeValue, boolValue(st.Stage == core.StagePower))
	ch <- prometheus.MustNewConstMetric(c.requested, prometheus.GaugeValue, float64(st.Requested))
	ch <- prometheus.MustNewConstMetric(c.frequency, prometheus.GaugeValue, st.Reference.FrequencyHz)
	ch <- prometheus.MustNewConstMetric(c.amplitude, prometheus.GaugeValue, st.Reference.Amplitude)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// legLabel numbers legs from 1 as the configuration does.
func legLabel(l core.Leg) string {
	return strconv.Itoa(int(l) + 1)
}

// statusView is the JSON form of core.Status
type statusView struct {
	Requested   string             `json:"requested"`
	Stage       string             `json:"stage"`
	FrequencyHz float64            `json:"frequency_hz"`
	Amplitude   float64            `json:"amplitude"`
	Offset      float64            `json:"offset"`
	Phase       float64            `json:"phase"`
	Legs        []int              `json:"legs"`
	Duty        []float64          `json:"duty"`
	Channels    map[string]float64 `json:"channels"`
	FilteredBus float64            `json:"filtered_bus"`
	Stats       core.Stats         `json:"stats"`
}

func newStatusView(st core.Status) statusView {
	v := statusView{
		Requested:   st.Requested.String(),
		Stage:       st.Stage.String(),
		FrequencyHz: st.Reference.FrequencyHz,
		Amplitude:   st.Reference.Amplitude,
		Offset:      st.Reference.Offset,
		Phase:       st.Phase,
		Legs:        make([]int, st.Legs),
		Duty:        append([]float64(nil), st.Duty[:st.Legs]...),
		Channels:    make(map[string]float64, core.NumChannels),
		FilteredBus: st.FilteredBus,
		Stats:       st.Stats,
	}
	for i := range v.Legs {
		v.Legs[i] = int(st.LegIDs[i]) + 1
	}
	for id := core.ChannelID(0); id < core.NumChannels; id++ {
		if m := st.Measurements[id]; m.Valid {
			v.Channels[id.String()] = m.Value
		}
	}
	return v
}

// NewRouter serves /metrics from reg, plus /health and /status.
func NewRouter(src Source, reg *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok\n")
	}).Methods("GET")
	r.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(newStatusView(src.Snapshot())); err != nil {
			log.Warningf("encode status: %v", err)
		}
	}).Methods("GET")

	return r
}

// Server is the optional metrics endpoint.
type Server struct {
	srv *http.Server
}

// NewServer registers a Collector for src and wraps the router with access
// logging to accessLog.
func NewServer(addr string, src Source, runID string, conv core.Conversion, accessLog io.Writer) (*Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(src, runID, conv)); err != nil {
		return nil, err
	}
	handler := handlers.LoggingHandler(accessLog, NewRouter(src, reg))
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("metrics listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
