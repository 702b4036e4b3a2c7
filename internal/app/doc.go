// Package app composes the loan servicing engine into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, service wiring, lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── finance/        # Money math, shared constants, error kinds
//	│   ├── loan/           # Loan record and status machine
//	│   ├── payment/        # Payment record and status machine
//	│   └── treasury/       # Fund configuration and ledger entries
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # FinanceStore and the per-domain store interfaces
//	│   ├── memory/         # In-memory implementation for testing
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic
//	│   ├── loans/          # Origination and lifecycle transitions
//	│   ├── payments/       # Payment processing and early payoff
//	│   ├── treasury/       # Fund accounting, reservations, rebalancing
//	│   ├── automation/     # Delinquency sweep and scheduler
//	│   └── stats/          # Platform and per-student aggregates
//	├── httpapi/            # HTTP handlers, routing, audit log
//	├── system/             # Lifecycle management
//	└── metrics/            # Prometheus collectors
//
// # Responsibilities
//
// The app package wires services to their stores and to each other, owns the
// storage interfaces, and exposes the HTTP surface. Business rules live in
// the service packages; handlers only translate requests and error kinds.
//
// # Dependency Direction
//
//	cmd/financed/
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces)
//	      │
//	      └──► internal/app/storage/{memory,postgres} (implementations)
//
// Services never import storage implementations; the composition layer picks
// the backend and injects it.
package app
