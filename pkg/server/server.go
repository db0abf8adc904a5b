/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

// Package server assembles the control plane: durable store, config store,
// credentials, admission, scheduler dispatch, backend event listeners and
// the background enforcement loops.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	v1 "github.com/NVIDIA/OSMO-sub000/pkg/apis/osmo/v1"
	"github.com/NVIDIA/OSMO-sub000/pkg/admission"
	"github.com/NVIDIA/OSMO-sub000/pkg/backend"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/config"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/crypto"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	commonklog "github.com/NVIDIA/OSMO-sub000/pkg/common/klog"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/notification"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/s3"
	"github.com/NVIDIA/OSMO-sub000/pkg/common/trace"
	"github.com/NVIDIA/OSMO-sub000/pkg/configstore"
	"github.com/NVIDIA/OSMO-sub000/pkg/credentials"
	_ "github.com/NVIDIA/OSMO-sub000/pkg/scheduler/kai"
	"github.com/NVIDIA/OSMO-sub000/pkg/state"
)

const serviceName = "osmo-server"

type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	db          *dbclient.Client
	store       *configstore.Store
	objects     s3.Interface
	credentials *credentials.Manager
	backends    *backend.Manager
	actions     *backend.ActionChannel
	admitter    *admission.Admitter
	machine     *state.Machine
	dispatcher  *Dispatcher

	cron          *cron.Cron
	metricsServer *http.Server
	isInited      bool
}

func NewServer() (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{ctx: ctx, cancel: cancel}
	if err := s.init(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Server) init() error {
	if err := commonklog.Init(serviceName, 100); err != nil {
		return err
	}
	if err := config.LoadConfigFromEnv(); err != nil {
		klog.ErrorS(err, "failed to load config")
		return err
	}
	if config.IsTraceEnable() {
		if err := trace.InitTracer(serviceName); err != nil {
			klog.ErrorS(err, "failed to init tracer")
			return err
		}
	}

	s.db = dbclient.NewClient()
	s.store = configstore.NewStore(s.db)
	s.objects = s3.NewClient(s.ctx)

	envelope, err := loadEnvelope()
	if err != nil {
		klog.ErrorS(err, "failed to load crypto key set")
		return err
	}
	s.credentials = credentials.NewManager(s.db, envelope)

	s.backends = backend.NewManager(&storePoolSource{store: s.store})
	s.actions = backend.NewActionChannel(redis.NewClient(&redis.Options{
		Addr:     config.GetRedisAddress(),
		Password: config.GetRedisPassword(),
		DB:       config.GetRedisDatabase(),
	}))

	s.machine = state.NewMachine(s.db)
	s.dispatcher = NewDispatcher(s.db, s.backends, s.store, s.machine)
	s.admitter = admission.NewAdmitter(s.db, s.store, s.objects, s.credentials, s.backends)

	if err = notification.InitNotificationManager(s.ctx); err != nil {
		klog.ErrorS(err, "failed to init notification manager")
		return err
	}
	s.isInited = true
	return nil
}

// loadEnvelope reads the JWK master-key set and selects the active MEK.
// With crypto disabled the credential store refuses writes.
func loadEnvelope() (*crypto.Envelope, error) {
	if !config.IsCryptoEnable() {
		return nil, nil
	}
	data, err := os.ReadFile(config.GetCryptoSecretPath())
	if err != nil {
		return nil, err
	}
	keys, err := crypto.ParseKeySet(data)
	if err != nil {
		return nil, err
	}
	return crypto.NewEnvelope(keys, config.GetCryptoMekId())
}

func (s *Server) Start() error {
	if !s.isInited {
		return fmt.Errorf("server is not initialized")
	}
	klog.Infof("starting %s", serviceName)

	if manager := notification.GetNotificationManager(); manager != nil {
		manager.Start(s.ctx)
	}
	if err := s.startBackends(); err != nil {
		return err
	}
	s.startLoops()
	s.startMetrics()
	return nil
}

// startBackends builds one Kubernetes backend per backend config and starts
// its event listener.
func (s *Server) startBackends() error {
	names, err := s.store.List(s.ctx, v1.ConfigBackend)
	if err != nil {
		return err
	}
	pools := &storePoolSource{store: s.store}
	for _, name := range names {
		var settings v1.Backend
		if err = s.store.GetTyped(s.ctx, v1.ConfigBackend, name, &settings); err != nil {
			return err
		}
		settings.Name = name
		restConfig, err := backendRestConfig(name)
		if err != nil {
			klog.ErrorS(err, "failed to build rest config, skipping backend", "backend", name)
			continue
		}
		cluster, err := backend.NewKubernetes(&settings, restConfig, pools)
		if err != nil {
			return err
		}
		s.backends.Register(cluster)
		go s.listenBackend(s.ctx, cluster)
	}
	return nil
}

// backendRestConfig loads <kubeconfig_dir>/<backend>.yaml, falling back to
// in-cluster credentials.
func backendRestConfig(name string) (*rest.Config, error) {
	if dir := config.GetBackendKubeconfigDir(); dir != "" {
		return clientcmd.BuildConfigFromFlags("", filepath.Join(dir, name+".yaml"))
	}
	return rest.InClusterConfig()
}

func (s *Server) startLoops() {
	s.cron = cron.New()
	// timeout enforcer
	_, _ = s.cron.AddFunc("@every 1m", func() {
		if err := s.machine.EnforceTimeouts(s.ctx, time.Now()); err != nil {
			klog.ErrorS(err, "timeout enforcement sweep failed")
		}
	})
	// state aggregator: converges rows the event path missed
	_, _ = s.cron.AddFunc("@every 30s", func() {
		s.resyncAliveWorkflows()
	})
	// quota snapshot
	_, _ = s.cron.AddFunc("@every 1m", func() {
		if _, err := s.QuotaReport(s.ctx); err != nil {
			klog.ErrorS(err, "quota snapshot failed")
		}
	})
	// heartbeat reaper: surfaces backends that stopped reporting
	_, _ = s.cron.AddFunc("@every 1m", func() {
		for _, name := range s.backends.OfflineBackends(time.Now()) {
			klog.Warningf("backend %s has missed its heartbeat window", name)
		}
	})
	// log flusher
	_, _ = s.cron.AddFunc("@every 30s", func() {
		klog.Flush()
	})
	s.cron.Start()
}

func (s *Server) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.metricsServer = &http.Server{Addr: config.GetMetricsAddress(), Handler: mux}
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "metrics server stopped")
		}
	}()
}

func (s *Server) Stop() {
	klog.Infof("stopping %s", serviceName)
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}
	s.cancel()
	if config.IsTraceEnable() {
		_ = trace.CloseTracer()
	}
	s.db.Close()
	klog.Flush()
}

// storePoolSource reads the pool table from the config store.
type storePoolSource struct {
	store *configstore.Store
}

func (p *storePoolSource) Pools(ctx context.Context) (map[string]*v1.Pool, error) {
	names, err := p.store.List(ctx, v1.ConfigPool)
	if err != nil {
		return nil, err
	}
	pools := make(map[string]*v1.Pool, len(names))
	for _, name := range names {
		pool := &v1.Pool{}
		if err = p.store.GetTyped(ctx, v1.ConfigPool, name, pool); err != nil {
			return nil, err
		}
		pools[name] = pool
	}
	return pools, nil
}
