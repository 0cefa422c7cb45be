package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Cogwheel-Validator/spectra-stable-router/engine/catalog"
	"github.com/Cogwheel-Validator/spectra-stable-router/engine/transfer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// transferRow is the transfer_records table. Amounts are stored as base-unit decimal strings.
type transferRow struct {
	ID        string `gorm:"primaryKey;size:66"`
	State     string `gorm:"size:40;index"`
	Protocol  string `gorm:"size:40"`
	Sender    string `gorm:"size:42;index"`
	Recipient string `gorm:"size:42"`

	SourceChain uint64
	SourceToken string `gorm:"size:20"`
	DestChain   uint64
	DestToken   string `gorm:"size:20"`

	AmountIn      string `gorm:"size:78"`
	Fee           string `gorm:"size:78"`
	BridgedToken  string `gorm:"size:20"`
	BridgedAmount string `gorm:"size:78"`
	MinOutput     string `gorm:"size:78"`
	AmountOut     string `gorm:"size:78"`

	BridgeDomain uint32
	BridgeNonce  uint64

	RouteKey       string `gorm:"size:66"`
	CatalogVersion uint64
	FailureReason  string

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (transferRow) TableName() string { return "transfer_records" }

// transitionRow is one history entry in transfer_transitions
type transitionRow struct {
	TransferID string `gorm:"primaryKey;size:66"`
	Seq        int    `gorm:"primaryKey;autoIncrement:false"`
	FromState  string `gorm:"size:40"`
	ToState    string `gorm:"size:40"`
	Reason     string
	At         time.Time
}

func (transitionRow) TableName() string { return "transfer_transitions" }

// Gorm stores records in Postgres
type Gorm struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenPostgres connects with the settings the service runs with
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// NewGorm wraps an open connection
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db, now: time.Now}
}

// Migrate creates the record, history and processed message tables
func (g *Gorm) Migrate(ctx context.Context) error {
	return g.db.WithContext(ctx).AutoMigrate(&transferRow{}, &transitionRow{}, &processedMessageRow{})
}

func (g *Gorm) Create(ctx context.Context, rec *transfer.Record) error {
	row := toRow(rec)
	result := g.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("create transfer record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordExists
	}
	return nil
}

func (g *Gorm) Get(ctx context.Context, id transfer.ID) (*transfer.Record, error) {
	db := g.db.WithContext(ctx)
	var row transferRow
	if err := db.Where("id = ?", id.String()).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	var history []transitionRow
	if err := db.Where("transfer_id = ?", row.ID).Order("seq").Find(&history).Error; err != nil {
		return nil, err
	}
	return fromRow(row, history)
}

func (g *Gorm) Transition(ctx context.Context, id transfer.ID, to transfer.State, u transfer.Update) (*transfer.Record, error) {
	var out *transfer.Record
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row transferRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id.String()).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		var history []transitionRow
		if err := tx.Where("transfer_id = ?", row.ID).Order("seq").Find(&history).Error; err != nil {
			return err
		}
		rec, err := fromRow(row, history)
		if err != nil {
			return err
		}
		if err := rec.Apply(to, u, g.now()); err != nil {
			return err
		}

		next := toRow(rec)
		err = tx.Model(&transferRow{}).Where("id = ?", next.ID).Updates(map[string]any{
			"state":          next.State,
			"bridged_amount": next.BridgedAmount,
			"amount_out":     next.AmountOut,
			"bridge_domain":  next.BridgeDomain,
			"bridge_nonce":   next.BridgeNonce,
			"failure_reason": next.FailureReason,
			"updated_at":     next.UpdatedAt,
		}).Error
		if err != nil {
			return err
		}
		last := rec.History[len(rec.History)-1]
		entry := transitionRow{
			TransferID: next.ID,
			Seq:        len(rec.History),
			FromState:  string(last.From),
			ToState:    string(last.To),
			Reason:     last.Reason,
			At:         last.At,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	storeLog.Debug().Str("id", id.String()).Str("state", string(to)).Msg("Record transitioned")
	return out, nil
}

func (g *Gorm) ListByState(ctx context.Context, states ...transfer.State) ([]*transfer.Record, error) {
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, string(s))
	}

	db := g.db.WithContext(ctx)
	var rows []transferRow
	if err := db.Where("state IN ?", names).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []*transfer.Record{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var history []transitionRow
	if err := db.Where("transfer_id IN ?", ids).Order("transfer_id, seq").Find(&history).Error; err != nil {
		return nil, err
	}
	byID := make(map[string][]transitionRow, len(rows))
	for _, h := range history {
		byID[h.TransferID] = append(byID[h.TransferID], h)
	}

	out := make([]*transfer.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row, byID[row.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRow(rec *transfer.Record) transferRow {
	return transferRow{
		ID:             rec.ID.String(),
		State:          string(rec.State),
		Protocol:       rec.Protocol.String(),
		Sender:         rec.Sender.Hex(),
		Recipient:      rec.Recipient.Hex(),
		SourceChain:    rec.SourceChain,
		SourceToken:    rec.SourceToken,
		DestChain:      rec.DestChain,
		DestToken:      rec.DestToken,
		AmountIn:       amountString(rec.AmountIn),
		Fee:            amountString(rec.Fee),
		BridgedToken:   rec.BridgedToken,
		BridgedAmount:  amountString(rec.BridgedAmount),
		MinOutput:      amountString(rec.MinOutput),
		AmountOut:      amountString(rec.AmountOut),
		BridgeDomain:   rec.BridgeDomain,
		BridgeNonce:    rec.BridgeNonce,
		RouteKey:       rec.RouteKey.Hex(),
		CatalogVersion: rec.CatalogVersion,
		FailureReason:  rec.FailureReason,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func fromRow(row transferRow, history []transitionRow) (*transfer.Record, error) {
	id, err := transfer.ParseID(row.ID)
	if err != nil {
		return nil, err
	}
	protocol, err := catalog.ParseProtocol(row.Protocol)
	if err != nil {
		return nil, err
	}
	rec := &transfer.Record{
		ID:             id,
		State:          transfer.State(row.State),
		Protocol:       protocol,
		Sender:         common.HexToAddress(row.Sender),
		Recipient:      common.HexToAddress(row.Recipient),
		SourceChain:    row.SourceChain,
		SourceToken:    row.SourceToken,
		DestChain:      row.DestChain,
		DestToken:      row.DestToken,
		BridgedToken:   row.BridgedToken,
		BridgeDomain:   row.BridgeDomain,
		BridgeNonce:    row.BridgeNonce,
		RouteKey:       common.HexToHash(row.RouteKey),
		CatalogVersion: row.CatalogVersion,
		FailureReason:  row.FailureReason,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	amounts := []struct {
		dst **uint256.Int
		src string
	}{
		{&rec.AmountIn, row.AmountIn},
		{&rec.Fee, row.Fee},
		{&rec.BridgedAmount, row.BridgedAmount},
		{&rec.MinOutput, row.MinOutput},
		{&rec.AmountOut, row.AmountOut},
	}
	for _, a := range amounts {
		if a.src == "" {
			continue
		}
		v, err := uint256.FromDecimal(a.src)
		if err != nil {
			return nil, fmt.Errorf("record %s: bad amount %q: %w", row.ID, a.src, err)
		}
		*a.dst = v
	}
	for _, h := range history {
		rec.History = append(rec.History, transfer.Transition{
			From:   transfer.State(h.FromState),
			To:     transfer.State(h.ToState),
			Reason: h.Reason,
			At:     h.At,
		})
	}
	return rec, nil
}

// amountString keeps unset amounts empty so they read back as nil
func amountString(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}
