// Copyright (c) 2024-2025 The CrowdLift developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/crowdlift/crowdlift/campaigns"
	v1 "github.com/crowdlift/crowdlift/crowdliftd/api/v1"
	"github.com/crowdlift/crowdlift/escrow"
	"github.com/crowdlift/crowdlift/identity"
	"github.com/crowdlift/crowdlift/ledger"
	"github.com/crowdlift/crowdlift/milestones"
	"github.com/crowdlift/crowdlift/tokens"
	"github.com/crowdlift/crowdlift/trading"
	"github.com/crowdlift/crowdlift/watchtower"
	"github.com/gorilla/mux"
)

// version is the daemon version.
const version = "1.0.0"

// crowdliftd is the daemon context.
type crowdliftd struct {
	cfg        *config
	router     *mux.Router
	gateway    *ledger.Gateway
	store      *campaigns.Store
	launcher   *campaigns.Orchestrator
	scheduler  *escrow.Scheduler
	verifier   *milestones.Verifier
	engine     *trading.Engine
	tower      *watchtower.WatchTower
	stable     tokens.Stablecoin
	treasury   ledger.Signer
	safetyFund ledger.Signer

	// proofs holds the most recent anchored proof record per milestone,
	// pending an auditor judgement.
	mtx    sync.Mutex
	proofs map[string]*milestones.ProofRecord
}

// logNotifier reports watch tower events to the log. Stakeholder delivery
// channels hang off this interface.
type logNotifier struct{}

func (logNotifier) Notify(campaignID, event, message string) {
	log.Infof("Notification for campaign %v: %v: %v", campaignID, event,
		message)
}

// addRoute registers a route with the router.
func (d *crowdliftd) addRoute(method string, route string, handler http.HandlerFunc) {
	d.router.HandleFunc(v1.APIRoute+route, handler).Methods(method)
}

func (d *crowdliftd) setupRoutes() {
	d.addRoute(http.MethodPost, v1.RouteCampaignNew, d.handleCampaignNew)
	d.addRoute(http.MethodGet, v1.RouteCampaigns, d.handleCampaigns)
	d.addRoute(http.MethodGet, v1.RouteCampaignDetails, d.handleCampaignDetails)
	d.addRoute(http.MethodPost, v1.RouteProofSubmit, d.handleProofSubmit)
	d.addRoute(http.MethodPost, v1.RouteProofJudge, d.handleProofJudge)
	d.addRoute(http.MethodGet, v1.RouteQuote, d.handleQuote)
	d.addRoute(http.MethodGet, v1.RoutePoolStats, d.handlePoolStats)
}

func _main() error {
	// Load configuration and parse command line.
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not load configuration file: %v", err)
	}
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	log.Infof("Version : %v", cfg.Version)
	log.Infof("Network : %v", networkName(cfg.TestNet))
	log.Infof("Home dir: %v", cfg.HomeDir)
	log.Infof("Ledger  : %v", cfg.LedgerURL)

	roles, err := loadSignerRoles(cfg.SignersFile)
	if err != nil {
		return err
	}

	gateway := ledger.New(cfg.LedgerURL, &ledger.Opts{
		LedgerOffset: cfg.LedgerOffset,
	})
	if err := gateway.Connect(); err != nil {
		// Not fatal; the gateway reconnects lazily on first use.
		log.Warnf("Ledger node unreachable at startup: %v", err)
	}

	store, err := campaigns.NewStore(filepath.Join(cfg.DataDir, "campaigns"))
	if err != nil {
		return err
	}
	defer store.Close()

	proofStore, err := milestones.NewStore(filepath.Join(cfg.DataDir,
		"proofs"))
	if err != nil {
		return err
	}

	stable := tokens.Stablecoin{
		Symbol: cfg.StablecoinSymbol,
		Issuer: cfg.StablecoinIssuer,
	}
	treasury := newRemoteSigner(cfg.SignerHost, roles[roleTreasury])
	safetyFund := newRemoteSigner(cfg.SignerHost, roles[roleSafetyFund])

	scheduler := escrow.NewScheduler(gateway)
	identityIssuer := identity.NewIssuer(gateway)
	tokenIssuer := tokens.NewIssuer(gateway, stable)
	verifier := milestones.NewVerifier(gateway, proofStore, scheduler)
	tower := watchtower.New(watchtower.Config{
		Store:            store,
		Gateway:          gateway,
		Scheduler:        scheduler,
		Notifier:         logNotifier{},
		Stable:           stable,
		TreasurySigner:   treasury,
		SafetyFundSigner: safetyFund,
		RefundAccount:    cfg.RefundAccount,
	})
	engine := trading.NewEngine(gateway, stable, tower.CollectTradingFees)

	d := &crowdliftd{
		cfg:        cfg,
		router:     mux.NewRouter(),
		gateway:    gateway,
		store:      store,
		scheduler:  scheduler,
		verifier:   verifier,
		engine:     engine,
		tower:      tower,
		stable:     stable,
		treasury:   treasury,
		safetyFund: safetyFund,
		proofs:     make(map[string]*milestones.ProofRecord),
		launcher: campaigns.NewOrchestrator(store, identityIssuer,
			tokenIssuer, scheduler, nil),
	}
	d.setupRoutes()

	tower.Start()
	defer tower.Stop()

	srv := &http.Server{
		Handler:      d.router,
		Addr:         cfg.Listen,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	go func() {
		log.Infof("Listen  : %v", cfg.Listen)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Errorf("ListenAndServe: %v", err)
		}
	}()

	// Tell the user the daemon is ready and wait for the shutdown signal.
	log.Infof("Start of day")
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Infof("Terminating with %v", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	gateway.Shutdown()
	log.Infof("Exiting")
	return nil
}

func networkName(testnet bool) string {
	if testnet {
		return "testnet"
	}
	return "mainnet"
}

func main() {
	err := _main()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
