package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpEngine.
type Metrics struct {
	// --- Core processing ---
	InstructionsApplied  *prometheus.CounterVec
	InstructionsRejected *prometheus.CounterVec
	InstructionDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreStateHashDur     prometheus.Histogram
	CoreSequence         prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & oracle ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	OracleTicks           *prometheus.CounterVec
	OracleSequenceGaps    *prometheus.CounterVec

	// --- Trading ---
	PositionsOpened *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec
	FeesCollected   *prometheus.CounterVec
	LMRewardsMinted prometheus.Counter
	CustodyOwned    *prometheus.GaugeVec
	CustodyLocked   *prometheus.GaugeVec

	// --- Staking ---
	StakingRoundsResolved *prometheus.CounterVec
	StakingRewardsClaimed *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter

	// --- Projections ---
	ProjectionErrors       *prometheus.CounterVec
	ProjectionLastSequence prometheus.Gauge

	// --- Query API ---
	QueryRequests    *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	QueryCacheResult *prometheus.CounterVec
	StreamClients    prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core processing
		InstructionsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_core_instructions_applied_total",
			Help: "Instructions committed by core",
		}, []string{"event_type"}),

		InstructionsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_core_instructions_rejected_total",
			Help: "Instructions aborted, by error code",
		}, []string{"event_type", "code"}),

		InstructionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_core_instruction_duration_seconds",
			Help:    "Time to execute one instruction in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_core_sequence",
			Help: "Current global sequence number",
		}),

		// Channels
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_size",
			Help: "Buffered items per channel",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_projection_drops_total",
			Help: "Outputs dropped because a projection consumer was full",
		}, []string{"consumer"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Envelopes the publisher failed to deliver",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_backpressure_total",
			Help: "Times core blocked on a full persist channel",
		}),

		// Idempotency & oracle
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_idempotency_duplicates_total",
			Help: "Duplicate instructions by tier",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_dedup_lru_size",
			Help: "Entries in the idempotency LRU",
		}),

		OracleTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_oracle_ticks_total",
			Help: "Price ticks received, by outcome",
		}, []string{"oracle", "outcome"}),

		OracleSequenceGaps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_oracle_sequence_gaps_total",
			Help: "Price ticks that skipped sequence numbers",
		}, []string{"oracle"}),

		// Trading
		PositionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_positions_opened_total",
			Help: "Positions opened",
		}, []string{"custody", "side"}),

		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_positions_closed_total",
			Help: "Positions closed, by reason",
		}, []string{"custody", "side", "reason"}),

		FeesCollected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_fees_collected_usd_total",
			Help: "Trading fees collected in USD",
		}, []string{"custody", "kind"}),

		LMRewardsMinted: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_lm_rewards_minted_total",
			Help: "LM tokens minted from the ecosystem bucket",
		}),

		CustodyOwned: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_custody_owned",
			Help: "Custody owned liquidity in token units",
		}, []string{"custody"}),

		CustodyLocked: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_custody_locked",
			Help: "Custody liquidity reserved by positions",
		}, []string{"custody"}),

		// Staking
		StakingRoundsResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_staking_rounds_resolved_total",
			Help: "Staking rounds resolved",
		}, []string{"staking_type"}),

		StakingRewardsClaimed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_staking_rewards_claimed_total",
			Help: "Staking rewards paid out in token units",
		}, []string{"staking_type", "token"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_events_written_total",
			Help: "Envelopes written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_journals_written_total",
			Help: "Journal rows written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_size",
			Help:    "Envelopes per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"stage"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_snapshot_duration_seconds",
			Help:    "Time to serialize and write a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_replay_events_total",
			Help: "Instructions replayed during recovery",
		}),

		// Projections
		ProjectionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_projection_errors_total",
			Help: "Failed projection updates by table",
		}, []string{"table"}),

		ProjectionLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_projection_last_sequence",
			Help: "Last sequence applied to the read models",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_requests_total",
			Help: "Query API requests",
		}, []string{"route", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		QueryCacheResult: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_cache_total",
			Help: "Read-through cache lookups by result",
		}, []string{"result"}),

		StreamClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_stream_clients",
			Help: "Connected websocket clients",
		}),
	}
}
