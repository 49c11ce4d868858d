package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/krill-network/krill/internal/api"
	"github.com/krill-network/krill/internal/app/compute"
	"github.com/krill-network/krill/internal/app/lifecycle"
	"github.com/krill-network/krill/internal/app/negotiation"
	"github.com/krill-network/krill/internal/app/payment"
	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/infra/environ"
	"github.com/krill-network/krill/internal/health"
	"github.com/krill-network/krill/internal/infra/headers"
	"github.com/krill-network/krill/internal/infra/p2p"
	"github.com/krill-network/krill/internal/infra/peers"
	"github.com/krill-network/krill/internal/infra/resource"
	"github.com/krill-network/krill/internal/infra/sqlite"
	"github.com/krill-network/krill/internal/security"
)

// headerPruneInterval is how often expired advertised headers are
// dropped.
const headerPruneInterval = time.Minute

// Daemon owns every long-lived component of a running node.
type Daemon struct {
	cfg    Config
	logger *zap.Logger

	keypair     *security.Keypair
	db          *sqlite.DB
	manager     *lifecycle.Manager
	keeper      *headers.Keeper
	payments    *payment.Service
	tracker     *compute.Tracker
	negotiation *negotiation.Service
	checker     *health.Checker
	reconnector *peers.Reconnector
	apiServer   *http.Server

	dialTimeout time.Duration
}

// New wires a daemon from configuration. Nothing listens yet; Run
// starts the loops.
func New(cfg Config, logger *zap.Logger) (*Daemon, error) {
	keypair, err := security.LoadOrCreateKeypair(KrillHome())
	if err != nil {
		return nil, fmt.Errorf("node identity: %w", err)
	}

	db, err := sqlite.Open(cfg.Node.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.SetNodeInfo("pub_key", keypair.PublicKeyHex()); err != nil {
		db.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		keypair:  keypair,
		db:       db,
		manager:  lifecycle.NewManager(db, logger.Named("lifecycle")),
		keeper:   headers.NewKeeper(),
		payments: payment.NewService(db, logger.Named("payment")),
		tracker:  compute.NewTracker(logger.Named("compute")),
	}

	resources := resource.NewClient(
		&resource.DirFetcher{Root: cfg.Resources.Dir},
		cfg.Resources.MaxConcurrent,
		logger.Named("resource"),
	)
	d.manager.SetResourceClient(resources)

	d.dialTimeout, err = time.ParseDuration(cfg.P2P.DialTimeout)
	if err != nil || d.dialTimeout <= 0 {
		d.dialTimeout = 10 * time.Second
	}
	dialTimeout := d.dialTimeout

	ethAccount := cfg.Node.EthAccount
	if ethAccount == "" {
		ethAccount = keypair.PublicKeyHex()
	}
	d.negotiation = negotiation.NewService(
		negotiation.Config{
			LocalKey:   keypair.PublicKeyHex(),
			EthAccount: ethAccount,
			OutputRoot: cfg.Resources.OutputDir,
		},
		d.manager, d.keeper, d.payments, resources, d.tracker, d.tracker,
		&p2p.TCPDialer{Key: keypair, Timeout: dialTimeout},
		logger.Named("negotiation"),
	)

	d.checker = health.NewChecker(db, cfg.Resources.Dir, cfg.Resources.OutputDir)
	d.reconnector = peers.New(cfg.P2P.KnownPeers, peers.DefaultConfig(), d.dialSeed, logger.Named("peers"))

	srv := api.NewServer(d.manager, d.keeper, d.payments, d.tracker, d.submitTask,
		api.NodeInfo{Name: cfg.Node.Name, PubKey: keypair.PublicKeyHex()})
	srv.EnableMetrics()
	srv.SetHealthSource(d.checker.Statuses)
	d.apiServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler: srv.Handler(),
	}

	return d, nil
}

// PubKey returns this node's identity.
func (d *Daemon) PubKey() string { return d.keypair.PublicKeyHex() }

// dialSeed connects to one configured seed peer and serves its session.
// The reconnector is re-armed when the session ends.
func (d *Daemon) dialSeed(ctx context.Context, addr string) error {
	conn, err := net.DialTimeout("tcp", addr, d.dialTimeout)
	if err != nil {
		return err
	}
	sess, err := p2p.NewSession(conn, d.keypair)
	if err != nil {
		conn.Close()
		return err
	}
	d.logger.Info("seed peer session up",
		zap.String("peer", sess.PeerKey()),
		zap.String("addr", addr))
	go func() {
		d.negotiation.ServeSession(ctx, sess)
		d.reconnector.MarkDown(addr)
	}()
	return nil
}

// submitTask registers a locally submitted task and advertises its
// header.
func (d *Daemon) submitTask(req api.SubmitTaskRequest) (domain.TaskSummary, error) {
	taskID := uuid.NewString()
	env := environ.ForTask(req.SrcCode)

	header, err := domain.NewTaskHeader(taskID, d.keypair.PublicKeyHex(), env.ID(), req.Definition, time.Now())
	if err != nil {
		return domain.TaskSummary{}, err
	}
	ctrl, err := lifecycle.NewController(header, req.Definition, env, d.logger.Named("task"))
	if err != nil {
		return domain.TaskSummary{}, err
	}
	if err := d.manager.Add(ctrl); err != nil {
		return domain.TaskSummary{}, err
	}
	d.keeper.Add(header)

	d.logger.Info("task submitted",
		zap.String("task_id", taskID),
		zap.String("name", req.Definition.Name),
		zap.Int("subtasks", req.Definition.SubtasksCount))
	return ctrl.Summary(), nil
}

// Run starts the node and blocks until the context is cancelled or a
// component fails.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.db.Close()

	p2pAddr := fmt.Sprintf("%s:%d", d.cfg.P2P.Host, d.cfg.P2P.Port)
	listener, err := net.Listen("tcp", p2pAddr)
	if err != nil {
		return fmt.Errorf("p2p listen: %w", err)
	}

	d.logger.Info("krill node up",
		zap.String("pub_key", d.keypair.PublicKeyHex()),
		zap.String("p2p", p2pAddr),
		zap.String("api", d.apiServer.Addr))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := d.apiServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return d.acceptLoop(ctx, listener)
	})

	g.Go(func() error {
		d.manager.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return d.checker.Run(ctx)
	})

	g.Go(func() error {
		return d.reconnector.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(headerPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				if n := d.keeper.Prune(now); n > 0 {
					d.logger.Debug("expired headers pruned", zap.Int("count", n))
				}
			}
		}
	})

	// Shutdown sequencing.
	g.Go(func() error {
		<-ctx.Done()
		listener.Close()
		d.negotiation.Sessions().CloseAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return d.apiServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (d *Daemon) acceptLoop(ctx context.Context, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("p2p accept: %w", err)
		}
		go func() {
			sess, err := p2p.NewSession(conn, d.keypair)
			if err != nil {
				d.logger.Debug("inbound handshake failed",
					zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
				return
			}
			d.logger.Debug("peer connected",
				zap.String("peer", sess.PeerKey()),
				zap.String("remote", sess.RemoteAddr()))
			d.negotiation.ServeSession(ctx, sess)
		}()
	}
}
