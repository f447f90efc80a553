// Package metrics exposes engine operation counters for Prometheus scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsRaised counts borrow requests created.
	TransactionsRaised = promauto.NewCounter(prometheus.CounterOpts{
		Name: "labstock_transactions_raised_total",
		Help: "Borrow requests raised.",
	})

	// TransactionsByOutcome counts terminal lifecycle transitions by outcome.
	TransactionsByOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labstock_transactions_total",
		Help: "Transaction lifecycle transitions by outcome.",
	}, []string{"outcome"})

	// UnitsIssued counts stock units handed out, by tracking type.
	UnitsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labstock_units_issued_total",
		Help: "Stock units issued, by tracking type.",
	}, []string{"tracking"})

	// UnitsReturned counts stock units coming back, split good/damaged.
	UnitsReturned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labstock_units_returned_total",
		Help: "Stock units returned, by result.",
	}, []string{"result"})

	// DamageActions counts repair-workflow decisions.
	DamageActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labstock_damage_actions_total",
		Help: "Repair workflow actions applied to damaged assets.",
	}, []string{"action"})

	// EngineErrors counts engine calls rejected with a typed error kind.
	EngineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "labstock_engine_errors_total",
		Help: "Engine operations rejected, by error kind.",
	}, []string{"kind"})
)
