package pool

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	C "github.com/sagernet/sing-shadowpool/cipher"
	"github.com/sagernet/sing-shadowpool/config"
	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
	N "github.com/sagernet/sing/common/network"

	"lukechampine.com/blake3"
)

const DefaultInterval = 60 * time.Second

type ReconcilerOptions struct {
	Registry *Registry
	Source   config.Source
	Factory  ListenerFactory
	Interval time.Duration
	Logger   logger.ContextLogger
	Metrics  *Metrics
}

// Reconciler periodically reads configuration and starts listeners for
// users the registry does not know yet. It is the registry's only writer.
type Reconciler struct {
	registry *Registry
	source   config.Source
	factory  ListenerFactory
	interval time.Duration
	logger   logger.ContextLogger
	metrics  *Metrics
}

func NewReconciler(options ReconcilerOptions) *Reconciler {
	r := &Reconciler{
		registry: options.Registry,
		source:   options.Source,
		factory:  options.Factory,
		interval: options.Interval,
		logger:   options.Logger,
		metrics:  options.Metrics,
	}
	if r.registry == nil {
		r.registry = NewRegistry()
	}
	if r.interval <= 0 {
		r.interval = DefaultInterval
	}
	if r.logger == nil {
		r.logger = logger.NOP()
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	return r
}

func (r *Reconciler) Registry() *Registry {
	return r.registry
}

// Close stops every listener and zeroes the gauges counting them. Users stay
// registered; it is meant for process shutdown once Run has returned.
func (r *Reconciler) Close() error {
	err := r.registry.Close()
	r.metrics.UsersActive.Set(0)
	r.metrics.Listeners.WithLabelValues(N.NetworkTCP).Set(0)
	r.metrics.Listeners.WithLabelValues(N.NetworkUDP).Set(0)
	return err
}

// Run reconciles once, then again one interval after each cycle finishes,
// until ctx is done. Failed cycles are logged and do not stop the loop.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		_ = r.Reconcile(ctx)
		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reconcile runs one cycle. It only returns an error when the configuration
// could not be loaded; per-user failures are logged and counted.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	start := time.Now()
	r.metrics.ReconcileCycles.Inc()
	defer func() {
		r.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()
	snapshot, err := r.source.Load(ctx)
	if err != nil {
		r.metrics.ReconcileFailures.WithLabelValues("config").Inc()
		r.logger.ErrorContext(ctx, "reconcile: load config: ", err)
		return E.Cause(err, "load config")
	}
	r.logger.DebugContext(ctx, "reconcile: ", len(snapshot.Users), " users configured, ", r.registry.Len(), " active")
	for _, user := range snapshot.Users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.reconcileUser(ctx, snapshot, user)
	}
	return nil
}

func (r *Reconciler) reconcileUser(ctx context.Context, snapshot *config.Config, user config.User) {
	if r.registry.IsUserKnown(user.ID) {
		r.logger.TraceContext(ctx, "reconcile: checked user ", user.ID)
		return
	}
	if err := user.Validate(); err != nil {
		r.metrics.ReconcileFailures.WithLabelValues("invalid_user").Inc()
		r.logger.WarnContext(ctx, "reconcile: skip invalid user: ", err)
		return
	}
	err := r.activate(ctx, snapshot, user)
	if err != nil {
		r.metrics.ReconcileFailures.WithLabelValues(failureReason(err)).Inc()
		r.logger.ErrorContext(ctx, "reconcile: user ", user.ID, ": ", err)
	}
}

func (r *Reconciler) activate(ctx context.Context, snapshot *config.Config, user config.User) error {
	method := snapshot.MethodFor(user)
	address := M.ParseSocksaddrHostPort(snapshot.LocalAddress, uint16(user.Port)).String()
	tcpID := NewServerID(N.NetworkTCP, address)
	udpID := NewServerID(N.NetworkUDP, address)

	tcpHandle, err := r.factory.ListenTCP(ctx, tcpID, address, user, method)
	if err != nil {
		return E.Cause(err, "start tcp listener")
	}
	udpHandle, err := r.factory.ListenUDP(ctx, udpID, address, user, method)
	if err != nil {
		tcpHandle.Close()
		return E.Cause(err, "start udp listener")
	}

	err = r.registry.RegisterUser(user)
	if err != nil {
		common.Close(tcpHandle, udpHandle)
		return err
	}
	common.Must(
		r.registry.AttachTCPHandler(tcpID, user, tcpHandle),
		r.registry.AttachUDPHandler(udpID, user, udpHandle),
	)

	r.metrics.UsersActive.Inc()
	r.metrics.Listeners.WithLabelValues(N.NetworkTCP).Inc()
	r.metrics.Listeners.WithLabelValues(N.NetworkUDP).Inc()
	r.logger.InfoContext(ctx, "user ", user.ID, " started on ", address, " with ", method, ", password ", Fingerprint(user.Password))
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, C.ErrUnsupportedMethod):
		return "unsupported_method"
	case errors.Is(err, ErrDuplicateRegistration):
		return "duplicate_registration"
	default:
		return "listen"
	}
}

// Fingerprint identifies a secret in logs without revealing it.
func Fingerprint(secret string) string {
	sum := blake3.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:6])
}
