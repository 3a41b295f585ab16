// Package journal records completed option trades and weekly performance
// rollups in rqlite.
package journal

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/hdas/crossover/position"
	"github.com/hdas/crossover/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

const (
	// SQL statements.
	createTradeTableSQL    = "CREATE TABLE IF NOT EXISTS trade (id TEXT PRIMARY KEY, optionid TEXT, entryprice REAL, exitprice REAL, quantity INTEGER, pnl REAL, openedon INTEGER, closedon INTEGER)"
	createMetadataTableSQL = "CREATE TABLE IF NOT EXISTS metadata (id TEXT PRIMARY KEY, total INTEGER, wins INTEGER, winpnl REAL, losses INTEGER, losspnl REAL, createdon INTEGER)"
	persistTradeSQL        = "INSERT INTO trade(id, optionid, entryprice, exitprice, quantity, pnl, openedon, closedon) VALUES(?,?,?,?,?,?,?,?)"
	findMetadataSQL        = "SELECT * FROM metadata WHERE id = ?"
	updateMetadataSQL      = "UPDATE metadata SET total = total + 1, wins = wins + ?, winpnl = winpnl + ?, losses = losses + ?, losspnl = losspnl + ? WHERE id = ?"
	persistMetadataSQL     = "INSERT INTO metadata(id, total, wins, winpnl, losses, losspnl, createdon) VALUES(?,?,?,?,?,?,?)"
)

// TradeStorer defines the requirements for storing completed trades.
type TradeStorer interface {
	// PersistClosedTrade stores the provided completed trade.
	PersistClosedTrade(ctx context.Context, trade *position.Trade) error
}

// JournalConfig is the configuration for the trade journal.
type JournalConfig struct {
	// Endpoint represents the journal database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Underlying names the traded underlying for metadata rollups.
	Underlying string
	// Logger is the journal logger.
	Logger *zerolog.Logger
}

// Journal represents the trade journal connection.
type Journal struct {
	cfg    *JournalConfig
	client *rqlitehttp.Client
}

// Ensure the journal implements the TradeStorer interface.
var _ TradeStorer = (*Journal)(nil)

// NewJournal initializes a new trade journal connection.
func NewJournal(ctx context.Context, cfg *JournalConfig) (*Journal, error) {
	httpc := &http.Client{Timeout: time.Second * 5}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating journal client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	j := &Journal{
		cfg:    cfg,
		client: client,
	}

	err = j.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping journal: %w", err)
	}

	return j, nil
}

// bootstrap initializes the journal tables.
func (j *Journal) bootstrap(ctx context.Context) error {
	_, err := j.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createTradeTableSQL},
		{SQL: createMetadataTableSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	return nil
}

// generateMetadataID generates deterministic ids for metadata using the
// current month, week and underlying.
func generateMetadataID(currentTime time.Time, underlying string) string {
	month := currentTime.Month().String()
	week := currentTime.Day() / 7

	id := fmt.Sprintf("%s-Week-%d-%s", month, week, underlying)
	return id
}

// PersistClosedTrade stores the provided completed trade and folds it into the
// weekly win/loss rollup.
func (j *Journal) PersistClosedTrade(ctx context.Context, trade *position.Trade) error {
	_, err := j.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL: persistTradeSQL,
			PositionalParams: []any{trade.ID, trade.OptionID, trade.EntryPrice, trade.ExitPrice,
				trade.Quantity, trade.PNL, trade.OpenedOn, trade.ClosedOn},
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		return err
	}

	var win, loss int
	var winPNL, lossPNL float64

	switch {
	case trade.PNL > 0:
		win++
		winPNL = trade.PNL
	case trade.PNL < 0:
		loss++
		lossPNL = trade.PNL
	default:
		// Breakeven trades count toward the total only.
		j.cfg.Logger.Debug().Msgf("breakeven trade excluded from win/loss rollup: %s",
			spew.Sdump(trade))
	}

	now, _, err := shared.KolkataTime()
	if err != nil {
		return err
	}

	id := generateMetadataID(now, j.cfg.Underlying)
	resp, err := j.client.Query(ctx, rqlitehttp.SQLStatements{
		{
			SQL:              findMetadataSQL,
			PositionalParams: []any{id},
		},
	}, &rqlitehttp.QueryOptions{Associative: true})
	if err != nil {
		return err
	}

	exists := false
	for _, result := range resp.GetQueryResultsAssoc() {
		if len(result.Rows) > 0 {
			exists = true
			break
		}
	}
	switch {
	case exists:
		resp, err := j.client.Execute(ctx, rqlitehttp.SQLStatements{
			{
				SQL:              updateMetadataSQL,
				PositionalParams: []any{win, winPNL, loss, lossPNL, id},
			},
		}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
		if err != nil {
			return err
		}
		has, idx, errStr := resp.HasError()
		if has {
			return fmt.Errorf("updating metadata %s: %d -> %s", id, idx, errStr)
		}
	default:
		resp, err := j.client.Execute(ctx, rqlitehttp.SQLStatements{
			{
				SQL:              persistMetadataSQL,
				PositionalParams: []any{id, 1, win, winPNL, loss, lossPNL, now.Unix()},
			},
		}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
		if err != nil {
			return err
		}
		has, idx, errStr := resp.HasError()
		if has {
			return fmt.Errorf("persisting metadata %s: %d -> %s", id, idx, errStr)
		}
	}

	return nil
}
