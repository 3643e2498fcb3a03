package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"pms-to-mqtt/application"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	PortalDefaultListen          = ":80"
	PortalDefaultShutdownTimeout = 3 * time.Second
)

type PortalParams struct {
	Listen      string
	Node        application.NodeController
	Gatherer    prometheus.Gatherer
	ShowSecrets bool

	Log zerolog.Logger
}

func (p *PortalParams) EnsureDefaults() {
	if p.Listen == "" {
		p.Listen = PortalDefaultListen
	}
}

// Portal is the configuration surface reached over the setup access point.
// It renders JSON only; every request is forwarded to the control loop.
type Portal struct {
	params PortalParams

	log zerolog.Logger
}

func NewPortal(params PortalParams) (*Portal, error) {
	if params.Node == nil {
		return nil, errors.New("node controller is nil")
	}
	params.EnsureDefaults()
	return &Portal{params: params, log: params.Log}, nil
}

func (p *Portal) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handleHome)
	mux.HandleFunc("/save", p.handleSave)
	mux.HandleFunc("/register", p.handleRegister)
	mux.HandleFunc("/clear", p.handleClear)
	mux.HandleFunc("/reboot", p.handleReboot)
	mux.HandleFunc("/status", p.handleStatus)
	mux.HandleFunc("/generate_204", captiveProbe("text/html", `<html><body>Open portal: <a href="/">Home</a></body></html>`))
	mux.HandleFunc("/hotspot-detect.html", captiveProbe("text/html", `<html><body><b>Success</b> <a href="/">Open portal</a></body></html>`))
	mux.HandleFunc("/ncsi.txt", captiveProbe("text/plain", "Microsoft NCSI"))
	if p.params.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(p.params.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Serve listens until ctx is done.
func (p *Portal) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              p.params.Listen,
		Handler:           p.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		p.log.Info().Msgf("portal listening on %s", p.params.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), PortalDefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type configView struct {
	WifiSSID       string `json:"wifi_ssid"`
	WifiPassword   string `json:"wifi_pass"`
	OwnerEmail     string `json:"user_email"`
	DeviceName     string `json:"device_name"`
	OneTimeKey     string `json:"one_time_key"`
	RegistrationOK bool   `json:"registration_ok"`
	NodeID         string `json:"node_id,omitempty"`
	BrokerHost     string `json:"mqtt_host,omitempty"`
	BrokerPort     uint16 `json:"mqtt_port,omitempty"`
	BrokerUsername string `json:"mqtt_username,omitempty"`
	SensorID       string `json:"first_sensor_id,omitempty"`
	SensorSerial   string `json:"first_sensor_sn,omitempty"`
}

func (p *Portal) viewConfig(rec application.ConfigurationRecord) configView {
	secret := func(s string) string {
		if p.params.ShowSecrets {
			return s
		}
		return application.Mask(s, 2)
	}
	return configView{
		WifiSSID:       rec.WifiSSID,
		WifiPassword:   secret(rec.WifiPassword),
		OwnerEmail:     rec.OwnerEmail,
		DeviceName:     rec.DeviceName,
		OneTimeKey:     secret(rec.OneTimeKey),
		RegistrationOK: rec.RegistrationOK,
		NodeID:         rec.NodeID,
		BrokerHost:     rec.BrokerHost,
		BrokerPort:     rec.BrokerPort,
		BrokerUsername: rec.BrokerUsername,
		SensorID:       rec.SensorID,
		SensorSerial:   rec.SensorSerial,
	}
}

type sampleView struct {
	Valid      bool      `json:"valid"`
	CF1        []uint16  `json:"cf1,omitempty"`
	ATM        []uint16  `json:"atm,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

func viewSample(s application.TelemetrySample) sampleView {
	if !s.Valid {
		return sampleView{}
	}
	return sampleView{
		Valid:      true,
		CF1:        []uint16{s.PM1CF1, s.PM25CF1, s.PM10CF1},
		ATM:        []uint16{s.PM1ATM, s.PM25ATM, s.PM10ATM},
		CapturedAt: s.CapturedAt,
	}
}

type homeView struct {
	Config configView `json:"config"`
	Sample sampleView `json:"pms"`
}

type statusView struct {
	Network application.ConnectionState `json:"wifi"`
	Broker  application.ConnectionState `json:"mqtt"`
	MQTT    application.MQTTStatus      `json:"mqtt_stats"`
	Config  configView                  `json:"registration"`
}

type submitView struct {
	Saved      bool       `json:"saved"`
	Registered bool       `json:"registered"`
	Message    string     `json:"message"`
	Config     configView `json:"config"`
}

// captiveProbe answers OS connectivity checks made right after a phone joins
// the setup access point. A 200 with a body makes the phone offer the portal.
func captiveProbe(contentType, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, body)
	}
}

func (p *Portal) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		p.log.Warn().Err(err).Msg("portal response write failed")
	}
}

func (p *Portal) nodeError(w http.ResponseWriter, err error) {
	p.log.Error().Err(err).Msg("portal request failed")
	http.Error(w, err.Error(), http.StatusServiceUnavailable)
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (p *Portal) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := p.params.Node.Snapshot(r.Context())
	if err != nil {
		p.nodeError(w, err)
		return
	}
	p.writeJSON(w, http.StatusOK, homeView{Config: p.viewConfig(snap.Config), Sample: viewSample(snap.Sample)})
}

func formField(r *http.Request, name string) *string {
	if _, ok := r.PostForm[name]; !ok {
		return nil
	}
	v := r.PostForm.Get(name)
	return &v
}

func (p *Portal) handleSave(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sub := application.Submission{
		WifiSSID:     formField(r, "wifi_ssid"),
		WifiPassword: formField(r, "wifi_pass"),
		OwnerEmail:   formField(r, "user_email"),
		DeviceName:   formField(r, "device_name"),
		OneTimeKey:   formField(r, "one_time_key"),
	}
	res, err := p.params.Node.Submit(r.Context(), sub)
	if err != nil {
		p.nodeError(w, err)
		return
	}
	p.writeJSON(w, http.StatusOK, p.submitView(res))
}

func (p *Portal) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	res, err := p.params.Node.RetryRegistration(r.Context())
	if err != nil {
		p.nodeError(w, err)
		return
	}
	p.writeJSON(w, http.StatusOK, p.submitView(res))
}

func (p *Portal) submitView(res application.SubmitResult) submitView {
	msg := "OK"
	if res.Err != nil {
		msg = res.Err.Error()
	}
	return submitView{
		Saved:      true,
		Registered: res.Registered,
		Message:    msg,
		Config:     p.viewConfig(res.Config),
	}
}

func (p *Portal) handleClear(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := p.params.Node.Reset(r.Context())
	if err != nil {
		p.nodeError(w, err)
		return
	}
	p.writeJSON(w, http.StatusOK, homeView{Config: p.viewConfig(snap.Config), Sample: viewSample(snap.Sample)})
}

func (p *Portal) handleReboot(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	if err := p.params.Node.Reboot(r.Context()); err != nil {
		p.nodeError(w, err)
		return
	}
	p.writeJSON(w, http.StatusAccepted, map[string]string{"message": "rebooting"})
}

func (p *Portal) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap, err := p.params.Node.Snapshot(r.Context())
	if err != nil {
		p.nodeError(w, err)
		return
	}
	p.writeJSON(w, http.StatusOK, statusView{
		Network: snap.Network,
		Broker:  snap.Broker,
		MQTT:    snap.MQTT,
		Config:  p.viewConfig(snap.Config),
	})
}
