package main

import (
	"StakePool/internal/backend"
	"StakePool/internal/core"
	"StakePool/internal/event"
	"StakePool/internal/ingestion"
	"StakePool/internal/observability"
	"StakePool/internal/persistence"
	"StakePool/internal/projection"
	"StakePool/internal/query"
	"StakePool/internal/server"
	"context"
	"database/sql"
	stdjson "encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: StakePool starting...")

	cfg := LoadConfig()

	if cfg.Manager == "" {
		log.Fatal("FATAL: no pool manager configured, set POOL_MANAGER or manager in config.yaml")
	}
	manager, err := uuid.Parse(cfg.Manager)
	if err != nil {
		log.Fatalf("FATAL: parse manager %q: %v", cfg.Manager, err)
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	// --- Run SQL migrations ---
	migrator := persistence.NewMigrator(db, cfg.MigrationsDir)
	if err := migrator.Up(ctx); err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Println("INFO: migrations applied")

	// The pool_state projection learns the manager from ManagerAccepted
	// events; the configured principal seeds the very first boot.
	if _, err := db.ExecContext(ctx,
		`UPDATE projections.pool_state SET manager = $1 WHERE id = 1 AND manager IS NULL`,
		manager,
	); err != nil {
		log.Fatalf("FATAL: seed pool manager: %v", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: load snapshot + replay ---
	startSequence := int64(0)

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Printf("WARN: failed to load snapshot: %v", err)
	}
	if snap != nil {
		startSequence = snap.Sequence + 1
		log.Printf("INFO: loaded snapshot at sequence %d", snap.Sequence)
	} else {
		log.Println("INFO: no snapshot found, cold start from sequence 0")
	}

	// --- NATS ---
	// Connected before the core: the staking backend client rides on the
	// same connection and the core needs it at construction.
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	stakingClient := backend.NewNATSClient(nc, cfg.BackendTimeout)

	// --- Channels ---
	// The persist channel blocks (backpressure), the projection channel
	// drops; bridge channels keep persistence/projection decoupled from
	// the core package.
	persistCoreChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCoreChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	persistWorkerChan := make(chan persistence.CoreOutput, cfg.PersistChanSize)
	projectionWorkerChan := make(chan projection.ProjectionOutput, cfg.ProjectionChanSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Deterministic Core ---
	deterministicCore := core.NewDeterministicCore(
		startSequence,
		manager,
		stakingClient,
		persistCoreChan,
		projectionCoreChan,
		dbChecker,
		metrics,
	)

	// --- Snapshot Restore ---
	if snap != nil {
		coreSnap := &core.SnapshotState{}
		if err := json.Unmarshal(snap.State, coreSnap); err != nil {
			log.Fatalf("FATAL: decode snapshot state at seq %d: %v", snap.Sequence, err)
		}
		deterministicCore.RestoreFromSnapshot(coreSnap)
		log.Printf("INFO: restored in-memory state from snapshot at sequence %d (%d idempotency keys warmed)",
			snap.Sequence, len(coreSnap.IdempotencyKeys))
	} else {
		// Cold start: warm the dedup tiers from the accepted log before
		// replay re-marks its own keys, so the fast tiers are populated
		// even when the log is empty but older runs left keys behind.
		keys, err := dbChecker.LoadRecentKeys(ctx, 100_000)
		if err != nil {
			log.Printf("WARN: load recent idempotency keys: %v", err)
		} else if len(keys) > 0 {
			deterministicCore.WarmIdempotency(keys)
			log.Printf("INFO: warmed idempotency tiers with %d keys from the event log", len(keys))
		}
	}

	// --- Event Replay ---
	// The log tail past the snapshot is fed back through the core in
	// replay mode: recorded backend responses are reused, no instruction
	// is re-sent, and nothing is re-emitted downstream.
	replayStart := time.Now()
	deterministicCore.SetReplaying(true)
	replayCount, lastStoredHash, err := replayEventsFromLog(ctx, snapMgr, deterministicCore, startSequence, metrics)
	deterministicCore.SetReplaying(false)
	if err != nil {
		log.Fatalf("FATAL: event replay failed: %v", err)
	}
	if replayCount > 0 {
		metrics.ReplayDuration.Set(time.Since(replayStart).Seconds())
		log.Printf("INFO: replayed %d events in %s (sequence now at %d)",
			replayCount, time.Since(replayStart).Round(time.Millisecond), deterministicCore.GetSequence())
	}

	// --- State Hash Verification ---
	// The rebuilt in-memory state must land on the same hash the log (or
	// snapshot) recorded; a mismatch means divergence and the node must
	// not serve.
	actualHash := deterministicCore.GetStateHash()
	switch {
	case replayCount > 0:
		var expected [32]byte
		copy(expected[:], lastStoredHash)
		if expected != actualHash {
			log.Fatalf("FATAL: state hash mismatch after replay: log head has %x, rebuilt state has %x",
				lastStoredHash, actualHash[:])
		}
		log.Println("INFO: state hash verified against replayed log head")
	case snap != nil:
		var expected [32]byte
		copy(expected[:], snap.StateHash)
		if expected != actualHash {
			log.Fatalf("FATAL: state hash mismatch after restore: snapshot has %x, restored state has %x",
				snap.StateHash, actualHash[:])
		}
		log.Println("INFO: state hash verified after snapshot restore")
	}

	// --- NATS streams + consumers ---
	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure NATS streams: %v", err)
	}
	if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure outbound stream: %v", err)
	}

	rawEventChan := make(chan ingestion.RawEvent, 4096)
	natsSubscriber := ingestion.NewNATSSubscriber(js, rawEventChan)
	if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatalf("FATAL: nats subscribe: %v", err)
	}

	publishChan := make(chan ingestion.PublishableEvent, 4096)
	outboundPublisher := ingestion.NewOutboundPublisher(js, publishChan)

	// --- Projections ---
	payouts := projection.NewPayoutHistory(cfg.PayoutHistorySize)
	projWorker := projection.NewProjectionWorker(db, projectionWorkerChan, payouts, metrics)

	// Bring projections to the log head before queries are served; the
	// worker then follows the live channel.
	if err := projWorker.CatchUp(ctx); err != nil {
		log.Fatalf("FATAL: projection catch-up: %v", err)
	}

	// --- Services ---
	queryService := query.NewQueryService(db, payouts)
	eventChan := make(chan event.Event, 4096)
	injectService := ingestion.NewInjectService(eventChan)
	hub := server.NewHub()

	apiServer, err := server.NewAPIServer(cfg.HTTPAddr, &server.ServerDeps{
		QueryService:  queryService,
		InjectService: injectService,
		SnapshotMgr:   snapMgr,
		Rebuilder:     projWorker,
		Hub:           hub,
		HealthChecker: healthChecker,
		Metrics:       metrics,
	})
	if err != nil {
		log.Fatalf("FATAL: build API server: %v", err)
	}
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr)

	// --- Start goroutines ---
	errChan := make(chan error, 10)

	// 1. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistWorkerChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	// 2. Projection worker
	go func() {
		errChan <- projWorker.Run(ctx)
	}()

	// 3. Outbound publisher
	go func() {
		errChan <- outboundPublisher.Run(ctx)
	}()

	// 4. Core output bridge. Runs until both core channels are closed so
	// every applied event reaches the log writer even during shutdown.
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridgeCoreOutputs(persistCoreChan, projectionCoreChan, persistWorkerChan, projectionWorkerChan, publishChan, hub, metrics)
	}()

	// 5. Parse loop: raw NATS messages to typed events, acked after parse.
	typedEventChan := make(chan event.Event, 4096)
	go func() {
		runParseLoop(ctx, rawEventChan, typedEventChan)
	}()

	// 6. Processing loop. The core is single-threaded, so every event
	// source funnels into this one consumer, which also takes the
	// periodic snapshots between events.
	proc := &processor{
		core:             deterministicCore,
		snapMgr:          snapMgr,
		publishChan:      publishChan,
		hub:              hub,
		metrics:          metrics,
		snapshotInterval: cfg.SnapshotInterval,
	}
	processorDone := make(chan struct{})
	go func() {
		defer close(processorDone)
		proc.run(ctx, typedEventChan, eventChan)
	}()

	// 7. HTTP API
	go func() {
		errChan <- apiServer.Start(ctx)
	}()

	// 8. gRPC health/reflection endpoint
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	// 9. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// 10. Channel depth gauges
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist_core", len(persistCoreChan), cap(persistCoreChan))
				metrics.SetChannelMetrics("projection_core", len(projectionCoreChan), cap(projectionCoreChan))
				metrics.SetChannelMetrics("persist_worker", len(persistWorkerChan), cap(persistWorkerChan))
				metrics.SetChannelMetrics("projection_worker", len(projectionWorkerChan), cap(projectionWorkerChan))
				metrics.SetChannelMetrics("raw_events", len(rawEventChan), cap(rawEventChan))
				metrics.SetChannelMetrics("typed_events", len(typedEventChan), cap(typedEventChan))
				metrics.SetChannelMetrics("inject", len(eventChan), cap(eventChan))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
			}
		}
	}()

	// Mark ready after all goroutines started
	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	log.Printf("INFO: StakePool ready (sequence=%d, grpc=%s, http=%s, metrics=%s)",
		deterministicCore.GetSequence(), cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	// Stop intake, let the processing loop finish its current event,
	// close the pipeline stage by stage so every applied event is
	// flushed, then take a final snapshot.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	cancel()
	natsSubscriber.Stop()

	<-processorDone
	close(persistCoreChan)
	close(projectionCoreChan)

	<-bridgeDone
	close(persistWorkerChan)
	close(projectionWorkerChan)
	close(publishChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if deterministicCore.GetSequence() > 0 {
		if err := proc.takeSnapshot(shutdownCtx); err != nil {
			log.Printf("ERROR: final snapshot failed: %v", err)
		} else {
			log.Println("INFO: final snapshot saved")
		}
	}

	log.Println("INFO: StakePool shutdown complete")
}

// processor is the single consumer in front of the deterministic core.
// It owns all ProcessEvent calls and takes snapshots between events, so
// core state is never touched from two goroutines.
type processor struct {
	core             *core.DeterministicCore
	snapMgr          *persistence.SnapshotManager
	publishChan      chan<- ingestion.PublishableEvent
	hub              *server.Hub
	metrics          *observability.Metrics
	snapshotInterval int64

	eventsSinceSnapshot int64
}

func (p *processor) run(ctx context.Context, typedEvents, injected <-chan event.Event) {
	for {
		select {
		case <-ctx.Done():
			// Events already buffered were acked upstream; work them off
			// before exiting so they reach the log.
			p.drainBuffered(typedEvents, injected)
			return

		case evt, ok := <-typedEvents:
			if !ok {
				typedEvents = nil
				continue
			}
			p.processOne(ctx, evt)

		case evt, ok := <-injected:
			if !ok {
				injected = nil
				continue
			}
			p.processOne(ctx, evt)
		}
	}
}

func (p *processor) drainBuffered(typedEvents, injected <-chan event.Event) {
	for {
		select {
		case evt, ok := <-typedEvents:
			if !ok {
				typedEvents = nil
				continue
			}
			p.processOne(context.Background(), evt)
		case evt, ok := <-injected:
			if !ok {
				injected = nil
				continue
			}
			p.processOne(context.Background(), evt)
		default:
			return
		}
	}
}

func (p *processor) processOne(ctx context.Context, evt event.Event) {
	if err := p.core.ProcessEvent(evt); err != nil {
		log.Printf("ERROR: process event (type=%s, key=%s): %v",
			evt.EventType(), evt.IdempotencyKey(), err)
		p.publishRejection(evt, err)
		return
	}

	p.eventsSinceSnapshot++
	if p.snapshotInterval > 0 && p.eventsSinceSnapshot >= p.snapshotInterval {
		if err := p.takeSnapshot(ctx); err != nil {
			log.Printf("WARN: periodic snapshot failed: %v", err)
		} else {
			p.eventsSinceSnapshot = 0
			log.Printf("INFO: periodic snapshot at sequence %d", p.core.GetSequence()-1)
		}
	}
}

// publishRejection reports a rejected event on the outbound stream and
// the live feed. Best-effort: a full channel drops the notice; the
// authoritative record is the reject metric and the log line.
func (p *processor) publishRejection(evt event.Event, procErr error) {
	pub := ingestion.PublishableEvent{
		EventType:      evt.EventType().String(),
		IdempotencyKey: evt.IdempotencyKey(),
		Partition:      evt.Partition(),
		Rejected:       true,
		Reason:         procErr.Error(),
		Timestamp:      time.Now(),
	}

	select {
	case p.publishChan <- pub:
	default:
		if p.metrics != nil {
			p.metrics.PublishDrops.Inc()
		}
	}

	p.hub.Broadcast(pub)
}

// takeSnapshot captures the core's in-memory state and persists it. Runs
// on the processing loop (or after it has exited), never concurrently
// with event application.
func (p *processor) takeSnapshot(ctx context.Context) error {
	start := time.Now()

	coreSnap := p.core.CreateSnapshotState()
	stateBytes, err := json.Marshal(coreSnap)
	if err != nil {
		return fmt.Errorf("marshal snapshot state: %w", err)
	}

	snapData := &persistence.SnapshotData{
		Sequence:  coreSnap.Sequence,
		StateHash: coreSnap.StateHash[:],
		State:     stateBytes,
		CreatedAt: time.Now(),
	}

	if err := p.snapMgr.SaveSnapshot(ctx, snapData); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// Mark as verified immediately: it was captured from live state
	// between events, so it cannot be torn.
	if err := p.snapMgr.MarkVerified(ctx, snapData.Sequence); err != nil {
		log.Printf("WARN: mark snapshot verified failed: %v", err)
	}

	if p.metrics != nil {
		p.metrics.SnapshotTaken.Inc()
		p.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		p.metrics.SnapshotLastSeq.Set(float64(snapData.Sequence))
		p.metrics.SnapshotSizeBytes.Set(float64(len(stateBytes)))
	}

	return nil
}

// runParseLoop converts raw NATS messages into typed events. Messages
// are acked after the parsed event is handed to the typed channel, NOT
// after core processing: AckWait cannot expire while the core works
// through a backlog, and backpressure propagates through the blocking
// channel send instead.
func runParseLoop(ctx context.Context, rawChan <-chan ingestion.RawEvent, typedChan chan<- event.Event) {
	subjects := ingestion.DefaultSubjects()

	for {
		select {
		case <-ctx.Done():
			return

		case raw, ok := <-rawChan:
			if !ok {
				close(typedChan)
				return
			}

			eventType, err := ingestion.ResolveEventType(raw.Subject, subjects)
			if err != nil {
				log.Printf("WARN: %v", err)
				raw.AckFunc() // Acked so a bad subject cannot redeliver forever
				continue
			}

			evt, err := ingestion.ParseRawEvent(raw, eventType)
			if err != nil {
				log.Printf("WARN: parse event failed (subject=%s): %v", raw.Subject, err)
				raw.AckFunc() // Unparseable events are acked but not forwarded
				continue
			}

			select {
			case typedChan <- evt:
				raw.AckFunc() // Ack AFTER the event is safely queued
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// bridgeCoreOutputs converts core.CoreOutput to the persistence and
// projection formats, publishes applied events outbound and feeds the
// websocket live feed. It exits when both core channels are closed,
// after forwarding everything they still buffer.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	hub *server.Hub,
	metrics *observability.Metrics,
) {
	for persistIn != nil || projectionIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}

			pOutput := persistence.CoreOutput{
				EventRow: persistence.EventRow{
					Sequence:       output.Envelope.Sequence,
					EventType:      output.Envelope.EventType.String(),
					IdempotencyKey: output.Envelope.IdempotencyKey,
					Partition:      output.Envelope.Partition,
					Payload:        output.Envelope.Payload,
					StateHash:      output.Envelope.StateHash[:],
					PrevHash:       output.Envelope.PrevHash[:],
					Timestamp:      output.Envelope.Timestamp,
					SourceSequence: output.Envelope.SourceSequence,
				},
			}
			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalRows = append(pOutput.JournalRows, persistence.JournalRow{
						JournalID:     j.JournalID.String(),
						BatchID:       j.BatchID.String(),
						EventRef:      j.EventRef,
						Sequence:      j.Sequence,
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						AssetID:       uint16(j.AssetID),
						Amount:        j.Amount,
						JournalType:   int32(j.JournalType),
						Timestamp:     j.Timestamp,
					})
				}
			}

			// Blocking send: stalling here stalls the core, which is the
			// backpressure contract for the event log.
			select {
			case persistOut <- pOutput:
			default:
				if metrics != nil {
					metrics.PersistBackpressure.Inc()
				}
				persistOut <- pOutput
			}

			// Outbound publish and the live feed are best-effort.
			pub := ingestion.PublishableEvent{
				Sequence:       output.Envelope.Sequence,
				EventType:      output.Envelope.EventType.String(),
				IdempotencyKey: output.Envelope.IdempotencyKey,
				Partition:      output.Envelope.Partition,
				Payload:        stdjson.RawMessage(output.Envelope.Payload),
				StateHash:      output.Envelope.StateHash[:],
				Timestamp:      output.Envelope.Timestamp,
			}
			select {
			case publishOut <- pub:
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}
			hub.Broadcast(pub)

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}

			pOutput := projection.ProjectionOutput{
				Sequence:  output.Envelope.Sequence,
				EventType: output.Envelope.EventType.String(),
				Payload:   output.Envelope.Payload,
				Timestamp: output.Envelope.Timestamp.UnixMicro(),
			}
			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalEntries = append(pOutput.JournalEntries, projection.JournalEntry{
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						AssetID:       uint16(j.AssetID),
						Amount:        j.Amount,
						JournalType:   int32(j.JournalType),
					})
				}
			}

			select {
			case projectionOut <- pOutput:
			default:
				// Dropped: the worker catches up from the event log.
				if metrics != nil {
					metrics.ProjectionDrops.WithLabelValues("main").Inc()
				}
			}
		}
	}
}

// --- Snapshot Restore & Replay ---

// replayEventsFromLog feeds the accepted-event log back through the core
// starting at fromSequence. The core must be in replay mode. Returns the
// number of events replayed and the stored state hash of the last one.
// Replay errors are fatal to the caller: the log only holds events that
// were accepted once, so a failure here means divergence, not bad input.
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	deterministicCore *core.DeterministicCore,
	fromSequence int64,
	metrics *observability.Metrics,
) (int64, []byte, error) {
	const batchSize = 1000
	var totalReplayed int64
	var lastStoredHash []byte

	for {
		events, err := snapMgr.LoadEventsFrom(ctx, fromSequence, batchSize)
		if err != nil {
			return totalReplayed, lastStoredHash, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(events) == 0 {
			break
		}

		for _, evtRow := range events {
			typedEvt, err := decodeLoggedEvent(evtRow.EventType, evtRow.Payload)
			if err != nil {
				return totalReplayed, lastStoredHash, fmt.Errorf("seq %d: %w", evtRow.Sequence, err)
			}

			if err := deterministicCore.ProcessEvent(typedEvt); err != nil {
				return totalReplayed, lastStoredHash, fmt.Errorf("replay seq %d (%s): %w",
					evtRow.Sequence, evtRow.EventType, err)
			}

			lastStoredHash = evtRow.StateHash
			totalReplayed++
			if metrics != nil {
				metrics.ReplayEventsTotal.Inc()
			}
		}

		fromSequence = events[len(events)-1].Sequence + 1
	}

	return totalReplayed, lastStoredHash, nil
}

// decodeLoggedEvent unmarshals a stored envelope payload back into its
// typed event. Stored payloads are the core's own marshaling of the
// typed structs, complete with recorded backend responses, so this
// bypasses the inbound wire parser.
func decodeLoggedEvent(eventType string, payload []byte) (event.Event, error) {
	var evt event.Event
	switch eventType {
	case "DepositRequested":
		evt = &event.DepositRequested{}
	case "RedemptionRequested":
		evt = &event.RedemptionRequested{}
	case "ClaimRequested":
		evt = &event.ClaimRequested{}
	case "DelegationTriggered":
		evt = &event.DelegationTriggered{}
	case "RedelegationTriggered":
		evt = &event.RedelegationTriggered{}
	case "CompoundTriggered":
		evt = &event.CompoundTriggered{}
	case "BatchCloseTriggered":
		evt = &event.BatchCloseTriggered{}
	case "ConfirmationTriggered":
		evt = &event.ConfirmationTriggered{}
	case "RecoveryTriggered":
		evt = &event.RecoveryTriggered{}
	case "ParamsUpdated":
		evt = &event.ParamsUpdated{}
	case "RoleGranted":
		evt = &event.RoleGranted{}
	case "RoleRevoked":
		evt = &event.RoleRevoked{}
	case "ManagerProposed":
		evt = &event.ManagerProposed{}
	case "ManagerAccepted":
		evt = &event.ManagerAccepted{}
	case "PauseSet":
		evt = &event.PauseSet{}
	default:
		return nil, fmt.Errorf("unknown event type in log: %s", eventType)
	}

	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", eventType, err)
	}
	return evt, nil
}
