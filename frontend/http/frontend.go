// Package http implements a BitTorrent frontend via the HTTP protocol as
// described in BEP 3 and BEP 23.
package http

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/kestrel-tracker/kestrel/bittorrent"
	"github.com/kestrel-tracker/kestrel/frontend"
	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// Config represents all of the configurable options for an HTTP BitTorrent
// frontend.
type Config struct {
	Addr            string        `yaml:"addr"`
	TLSCertPath     string        `yaml:"tls_cert_path"`
	TLSKeyPath      string        `yaml:"tls_key_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	AllowIPSpoofing bool          `yaml:"allow_ip_spoofing"`
	RealIPHeader    string        `yaml:"real_ip_header"`
}

// LogFields renders the current config as a set of Logrus fields.
func (cfg Config) LogFields() log.Fields {
	return log.Fields{
		"addr":            cfg.Addr,
		"tlsCertPath":     cfg.TLSCertPath,
		"tlsKeyPath":      cfg.TLSKeyPath,
		"readTimeout":     cfg.ReadTimeout,
		"writeTimeout":    cfg.WriteTimeout,
		"requestTimeout":  cfg.RequestTimeout,
		"allowIPSpoofing": cfg.AllowIPSpoofing,
		"realIPHeader":    cfg.RealIPHeader,
	}
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything invalid, warning to the logger
// when a value is changed.
func (cfg Config) Validate() Config {
	valid := cfg

	if cfg.Addr == "" {
		log.Fatal("http.Addr must be set", log.Fields{})
	}

	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		log.Fatal("http.TLSCertPath and http.TLSKeyPath must be set together", log.Fields{})
	}

	if cfg.ReadTimeout <= 0 {
		valid.ReadTimeout = 5 * time.Second
		log.Warn("falling back to default configuration", log.Fields{
			"name": "http.ReadTimeout", "provided": cfg.ReadTimeout, "default": valid.ReadTimeout,
		})
	}

	if cfg.WriteTimeout <= 0 {
		valid.WriteTimeout = 5 * time.Second
		log.Warn("falling back to default configuration", log.Fields{
			"name": "http.WriteTimeout", "provided": cfg.WriteTimeout, "default": valid.WriteTimeout,
		})
	}

	return valid
}

// Frontend holds the state of an HTTP BitTorrent frontend.
type Frontend struct {
	srv *http.Server

	logic     frontend.TrackerLogic
	sanitizer *bittorrent.RequestSanitizer
	Config
}

// NewFrontend allocates a new instance of a Frontend that asynchronously
// serves requests. sanitizer is shared with every other frontend so that
// NumWant and scrape-batch limits are enforced consistently regardless of
// which wire protocol a client used.
func NewFrontend(logic frontend.TrackerLogic, sanitizer *bittorrent.RequestSanitizer, provided Config) *Frontend {
	cfg := provided.Validate()

	f := &Frontend{
		logic:     logic,
		sanitizer: sanitizer,
		Config:    cfg,
	}

	f.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      f.handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		var err error
		if cfg.TLSCertPath != "" {
			f.srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = f.srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = f.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatal("failed while serving http", log.Err(err))
		}
	}()

	return f
}

// Stop provides a thread-safe way to shut down a currently running Frontend.
func (f *Frontend) Stop() <-chan error {
	c := make(chan error)
	go func() {
		ctx := context.Background()
		if f.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, f.RequestTimeout)
			defer cancel()
		}
		if err := f.srv.Shutdown(ctx); err != nil {
			c <- err
			return
		}
		close(c)
	}()
	return c
}

func (f *Frontend) handler() http.Handler {
	router := httprouter.New()
	router.GET("/announce", f.announceRoute)
	router.GET("/scrape", f.scrapeRoute)
	return router
}

// announceRoute parses and responds to an Announce using f.logic.
func (f *Frontend) announceRoute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var af *bittorrent.AddressFamily
	start := time.Now()
	var err error
	defer func() { recordResponseDuration("announce", af, err, time.Since(start)) }()

	req, err := ParseAnnounce(r, f.RealIPHeader, f.AllowIPSpoofing)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err = f.sanitizer.SanitizeAnnounce(req); err != nil {
		WriteError(w, err)
		return
	}
	af = &req.Peer.IP.AddressFamily

	resp, err := f.logic.HandleAnnounce(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err = WriteAnnounceResponse(w, resp); err != nil {
		WriteError(w, err)
		return
	}

	go f.logic.AfterAnnounce(context.Background(), req, resp)
}

// scrapeRoute parses and responds to a Scrape using f.logic.
func (f *Frontend) scrapeRoute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	start := time.Now()
	var err error
	defer func() { recordResponseDuration("scrape", nil, err, time.Since(start)) }()

	req, err := ParseScrape(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err = f.sanitizer.SanitizeScrape(req); err != nil {
		WriteError(w, err)
		return
	}

	resp, err := f.logic.HandleScrape(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}

	if err = WriteScrapeResponse(w, resp); err != nil {
		WriteError(w, err)
		return
	}

	go f.logic.AfterScrape(context.Background(), req, resp)
}
