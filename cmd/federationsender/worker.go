// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/federationsender/federationsender/internal/backoff"
	"github.com/federationsender/federationsender/internal/config"
	"github.com/federationsender/federationsender/internal/federation"
	"github.com/federationsender/federationsender/internal/metrics"
	"github.com/federationsender/federationsender/internal/pdu"
	"github.com/federationsender/federationsender/internal/pump"
	"github.com/federationsender/federationsender/internal/replication"
	"github.com/federationsender/federationsender/internal/sender"
	"github.com/federationsender/federationsender/internal/storage"
	"github.com/federationsender/federationsender/internal/txqueue"
)

const (
	eventsStream   = "events"
	presenceStream = "presence"
)

// runWorker wires together the replication client, the event/presence/
// device pumps, and the transaction sender, and blocks until ctx is
// cancelled (orderly shutdown, exit 0) or the replication client reports a
// fatal protocol error (exit 2). A config or storage startup failure
// returns a *configError (exit 1).
func runWorker(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return &configError{err}
	}

	store, err := storage.OpenPostgres(cfg.ConnectionString)
	if err != nil {
		return &configError{fmt.Errorf("open storage: %w", err)}
	}
	defer store.Close()

	signer, err := loadSigningKey(cfg.ServerName, cfg.SigningKeyPath)
	if err != nil {
		return &configError{err}
	}

	fedClient := federation.NewClient(federation.TransportConfig{
		AllowSelfSigned: cfg.Client.AllowSelfSigned,
	}, signer)

	reg := backoff.NewRegistry()
	defer reg.Stop()

	rec := metrics.SlogRecorder{}
	queue := txqueue.New(cfg.ServerName)

	devicePump := &pump.DevicePump{
		Store:  store,
		Queue:  queue,
		Origin: cfg.ServerName,
	}

	onSuccess := func(ctx context.Context, tx *pdu.Transaction) {
		if err := devicePump.OnTransactionSuccess(ctx, tx); err != nil {
			slog.Error("device pump cleanup failed", "destination", tx.Destination, "err", err)
		}
	}

	manager := sender.NewManager(sender.Config{
		MaxConcurrency: cfg.Client.MaxConcurrency,
	}, queue, fedClient, resolveDestination, reg, onSuccess, rec)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	manager.Start(workCtx)

	kick := func(dest string) {
		manager.Kick(dest)
		if err := devicePump.PrimeIfFirstSeen(workCtx, dest); err != nil {
			slog.Error("device pump prime failed", "destination", dest, "err", err)
		}
	}
	devicePump.Kick = kick

	eventPump := &pump.EventPump{Store: store, Queue: queue, Kick: kick, Origin: cfg.ServerName}
	presencePump := &pump.PresencePump{Store: store, Queue: queue, Kick: kick, Origin: cfg.ServerName}

	replAddr := fmt.Sprintf("%s:%d", cfg.ReplicationHost, cfg.ReplicationPort)
	replClient := replication.NewClient(replAddr, cfg.ClientName)

	eventsCh := replClient.Subscribe(eventsStream, "-1")
	presenceCh := replClient.Subscribe(presenceStream, "-1")

	fatalCh := make(chan error, 1)
	replClient.OnError(func(err error) {
		select {
		case fatalCh <- err:
		default:
		}
	})

	go runEventsLoop(workCtx, eventsCh, eventPump)
	go runPresenceLoop(workCtx, presenceCh, presencePump)

	runErr := make(chan error, 1)
	go func() { runErr <- replClient.Run(workCtx) }()

	select {
	case <-ctx.Done():
		manager.Shutdown()
		<-runErr
		return nil
	case ferr := <-fatalCh:
		cancel()
		manager.Shutdown()
		<-runErr
		return fmt.Errorf("worker: %w", ferr)
	}
}

func runEventsLoop(ctx context.Context, ch <-chan replication.StreamUpdate, p *pump.EventPump) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-ch:
			if !ok {
				return
			}
			top, err := strconv.ParseInt(upd.Position, 10, 64)
			if err != nil {
				slog.Error("events stream: malformed position", "position", upd.Position, "err", err)
				continue
			}
			if err := p.Advance(ctx, top); err != nil {
				slog.Error("event pump advance failed", "top", top, "err", err)
			}
		}
	}
}

func runPresenceLoop(ctx context.Context, ch <-chan replication.StreamUpdate, p *pump.PresencePump) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-ch:
			if !ok {
				return
			}
			batch := make([]pump.PresenceState, 0, len(upd.Rows))
			for _, row := range upd.Rows {
				state, err := pump.DecodePresenceRow(row)
				if err != nil {
					slog.Error("presence stream: malformed row", "err", err)
					continue
				}
				batch = append(batch, state)
			}
			if err := p.Flush(ctx, batch); err != nil {
				slog.Error("presence pump flush failed", "err", err)
			}
		}
	}
}

// resolveDestination is the minimal destination resolver: server discovery
// (.well-known delegation, SRV lookup) is delegated to infrastructure in
// front of this worker (e.g. a resolving HTTP proxy or a DNS-level
// SRV-aware dialer), not reimplemented here. This worker only needs a base
// URL to PUT to.
func resolveDestination(destination string) (string, error) {
	return "https://" + destination, nil
}
