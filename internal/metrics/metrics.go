package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Prometheus метрики для мониторинга работы системы
var (
	// Счетчик отправленных пакетов данных
	PromTxPackets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raptorcast_tx_packets_total",
		Help: "Total transmitted data packets",
	})
	// Счетчик отправленных байт (с учетом 16-битных слотов)
	PromTxBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raptorcast_tx_bytes_total",
		Help: "Total transmitted bytes",
	})
	// Счетчик принятых пакетов данных
	PromRxPackets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raptorcast_rx_packets_total",
		Help: "Total received data packets",
	})
	// Пакеты, отмеченные каналом как битые, и пакеты короче заголовка
	PromRxBad = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raptorcast_rx_bad_packets_total",
		Help: "Received packets dropped before the block session",
	}, []string{"reason"})
	// Счетчик намеренно отброшенных символов (симуляция потерь)
	PromSimulatedDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raptorcast_simulated_drops_total",
		Help: "Symbols discarded by the loss simulation",
	})
	// Ожидания из-за занятого канала
	PromBackoffWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raptorcast_backoff_waits_total",
		Help: "Carrier-sense backoff sleeps",
	})
	// Результаты декодирования блоков
	PromDecodes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raptorcast_block_decodes_total",
		Help: "Block decode attempts by result",
	}, []string{"result"})
	PromAcksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raptorcast_acks_sent_total",
		Help: "Acknowledgments transmitted",
	})
	PromAcksReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raptorcast_acks_received_total",
		Help: "Acknowledgments received",
	})
	// Номер текущего блока
	PromActiveBlock = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raptorcast_active_block",
		Help: "Source block number currently in progress",
	})
)

// Collectors returns every metric of the package, for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		PromTxPackets, PromTxBytes, PromRxPackets, PromRxBad, PromSimulatedDrops,
		PromBackoffWaits, PromDecodes, PromAcksSent, PromAcksReceived, PromActiveBlock,
	}
}

// StartPrometheus запускает HTTP сервер с Prometheus метриками
// Пустой адрес отключает экспорт
func StartPrometheus(addr string) {
	if addr == "" {
		return
	}
	prometheus.MustRegister(Collectors()...)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		log.Info().Str("addr", addr).Msg("prometheus: listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("prometheus serve error")
		}
	}()
}
