// Package status serves the hub's JSON status report at /api/status.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/drivecam/relay/internal/frame"
	"github.com/drivecam/relay/internal/health"
	"github.com/drivecam/relay/internal/hub"
	"github.com/drivecam/relay/internal/inference"
	"github.com/drivecam/relay/internal/sink"
	"github.com/drivecam/relay/internal/store"
	log "github.com/sirupsen/logrus"
)

const modelCheckTimeout = time.Second

type ChannelReport struct {
	store.ChannelState
	Transform string        `json:"transform"`
	Status    health.Status `json:"status"`
	Producers int           `json:"producers"`
	Failures  int           `json:"consecutive_failures"`
	LastError string        `json:"last_error,omitempty"`
}

type ModelReport struct {
	Name    string `json:"name"`
	Addr    string `json:"addr,omitempty"`
	Healthy bool   `json:"healthy"`
}

type Report struct {
	Time        time.Time            `json:"time"`
	Uptime      string               `json:"uptime"`
	Channels    []ChannelReport      `json:"channels"`
	Sessions    int                  `json:"sessions"`
	SessionList []hub.SessionInfo    `json:"session_list"`
	Sink        sink.Status          `json:"sink"`
	Models      []ModelReport        `json:"models,omitempty"`
	Process     *health.ProcessStats `json:"process,omitempty"`
}

type Model struct {
	Name   string
	Client *inference.Client
}

// Reporter assembles a Report from the live components. Nil Sampler and
// empty Models are allowed.
type Reporter struct {
	Store      *store.Store
	Health     *health.Tracker
	Hub        *hub.Hub
	Sink       sink.Sink
	Sampler    *health.Sampler
	Models     []Model
	Transforms map[frame.Channel]string
	Logger     log.FieldLogger

	started time.Time
}

func NewReporter(r Reporter) *Reporter {
	r.started = time.Now()
	if r.Sink == nil {
		r.Sink = sink.Nop{}
	}
	if r.Logger == nil {
		r.Logger = log.StandardLogger()
	}
	return &r
}

func (r *Reporter) Report(ctx context.Context) Report {
	now := time.Now()
	rep := Report{
		Time:        now,
		Uptime:      now.Sub(r.started).Truncate(time.Second).String(),
		Sessions:    r.Hub.SessionCount(),
		SessionList: r.Hub.Sessions(),
		Sink:        r.Sink.Status(),
	}

	byChannel := make(map[frame.Channel]health.ChannelHealth)
	for _, h := range r.Health.Snapshot() {
		byChannel[h.Channel] = h
	}
	for _, st := range r.Store.Snapshot() {
		h := byChannel[st.Channel]
		transform := r.Transforms[st.Channel]
		if transform == "" {
			transform = "none"
		}
		rep.Channels = append(rep.Channels, ChannelReport{
			ChannelState: st,
			Transform:    transform,
			Status:       h.Status,
			Producers:    h.Producers,
			Failures:     h.Failures,
			LastError:    h.LastError,
		})
	}

	for _, m := range r.Models {
		mctx, cancel := context.WithTimeout(ctx, modelCheckTimeout)
		rep.Models = append(rep.Models, ModelReport{Name: m.Name, Addr: m.Client.Addr(), Healthy: m.Client.Healthy(mctx)})
		cancel()
	}

	if r.Sampler != nil {
		stats, err := r.Sampler.Sample(ctx)
		if err != nil {
			r.Logger.WithError(err).Debug("process sample failed")
		} else {
			rep.Process = &stats
		}
	}
	return rep
}

func (r *Reporter) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(r.Report(req.Context()))
}
