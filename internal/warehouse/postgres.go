package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/kyleking/ragsql/internal/errors"
)

// OpenPostgres connects to a Postgres warehouse through the pgx stdlib driver
func OpenPostgres(dsn string, maxRows int) (*SQLClient, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.NewConfigError("postgres warehouse requires a dsn", "warehouse.dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open Postgres warehouse")
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrTypeNetwork, "failed to connect to Postgres warehouse").
			WithSuggestion("Check that the warehouse is reachable and the dsn is correct")
	}

	return newSQLClient(db, postgresDialect{}, maxRows), nil
}

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

type planNode struct {
	NodeType     string     `json:"Node Type"`
	RelationName string     `json:"Relation Name"`
	Schema       string     `json:"Schema"`
	PlanRows     float64    `json:"Plan Rows"`
	PlanWidth    float64    `json:"Plan Width"`
	Plans        []planNode `json:"Plans"`
}

type explainOutput []struct {
	Plan planNode `json:"Plan"`
}

// estimate runs EXPLAIN (FORMAT JSON) and sums rows times width over the scan
// nodes of the plan. A plan without relation scans is sized by its top node.
func (postgresDialect) estimate(ctx context.Context, db *sql.DB, sqlText string) (Estimate, error) {
	var raw []byte
	if err := db.QueryRowContext(ctx, "EXPLAIN (FORMAT JSON) "+sqlText).Scan(&raw); err != nil {
		return Estimate{}, err
	}

	return estimateFromPlan(raw)
}

func estimateFromPlan(raw []byte) (Estimate, error) {
	var out explainOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Estimate{}, fmt.Errorf("failed to decode query plan: %w", err)
	}

	if len(out) == 0 {
		return Estimate{}, fmt.Errorf("empty query plan")
	}

	var est Estimate

	seen := make(map[string]bool)

	var walk func(n planNode)
	walk = func(n planNode) {
		if n.RelationName != "" {
			est.BytesProcessed += int64(n.PlanRows * n.PlanWidth)

			id := n.RelationName
			if n.Schema != "" {
				id = n.Schema + "." + id
			}

			if !seen[id] {
				seen[id] = true
				est.Tables = append(est.Tables, id)
			}
		}

		for _, child := range n.Plans {
			walk(child)
		}
	}

	top := out[0].Plan
	walk(top)

	if len(est.Tables) == 0 {
		est.BytesProcessed = int64(top.PlanRows * top.PlanWidth)
	}

	return est, nil
}

// classify maps SQLSTATE classes: connection (08), serialization and deadlock
// (40001, 40P01) and resource (53) failures are transient, 57014 is a
// statement timeout and everything else is a rejection
func (postgresDialect) classify(err error) errors.ExecutionReason {
	var pgErr *pgconn.PgError
	if !stderrors.As(err, &pgErr) {
		if pgconn.Timeout(err) {
			return errors.ReasonTimeout
		}

		return errors.ReasonRejected
	}

	switch {
	case pgErr.Code == "57014":
		return errors.ReasonTimeout
	case pgErr.Code == "40001", pgErr.Code == "40P01":
		return errors.ReasonTransient
	case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"):
		return errors.ReasonTransient
	default:
		return errors.ReasonRejected
	}
}
