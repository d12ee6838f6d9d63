package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_frames_sent_total",
			Help: "Total number of frames written to the server connection",
		},
	)

	FramesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_frames_received_total",
			Help: "Total number of frames decoded from the server connection",
		},
	)

	ReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_reconnects_total",
			Help: "Total number of reconnect attempts made by the connection supervisor",
		},
	)

	ConnectionUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_connection_up",
			Help: "Whether the server connection is currently established",
		},
	)

	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_transactions_total",
			Help: "Outbox transactions by type and terminal outcome",
		},
		[]string{"type", "outcome"},
	)

	TransactionRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_transaction_retries_total",
			Help: "Total number of outbox transaction retries",
		},
	)

	SyncPagesMergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_sync_pages_merged_total",
			Help: "History pages merged into the local store",
		},
	)

	SyncMessagesMergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_sync_messages_merged_total",
			Help: "Messages upserted by the sync engine",
		},
	)
)
