package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const platformRowID = 1

type platformRow struct {
	ID            int       `gorm:"primaryKey;autoIncrement:false"`
	Admin         string    `gorm:"size:42;not null"`
	InitializedAt time.Time `gorm:"not null"`
}

func (platformRow) TableName() string { return "platform_state" }

type counterRow struct {
	ID    int             `gorm:"primaryKey;autoIncrement:false"`
	Value decimal.Decimal `gorm:"type:numeric(20,0);not null"`
}

func (counterRow) TableName() string { return "id_counters" }

type vaultRow struct {
	Owner     string          `gorm:"primaryKey;size:42"`
	Deposited decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	Reserved  decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (vaultRow) TableName() string { return "user_vaults" }

type tradeCallRow struct {
	ID                int64           `gorm:"primaryKey;autoIncrement:false"`
	Token             string          `gorm:"size:42;not null"`
	Staked            decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	Caller            string          `gorm:"size:42;not null;index"`
	FollowFee         decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	CreatedAt         time.Time
	Followers         []string        `gorm:"serializer:json;type:jsonb;not null"`
	Status            string          `gorm:"size:16;not null;index"`
	IsDistributed     bool            `gorm:"not null"`
	PayoutPerFollower decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	ClaimedFollowers  []string        `gorm:"serializer:json;type:jsonb;not null"`
	CallerPayout      decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	ResolvedAt        *time.Time
	ResolvedBy        *string `gorm:"size:42"`
}

func (tradeCallRow) TableName() string { return "trade_calls" }

type accountRow struct {
	Name      string          `gorm:"primaryKey;size:80"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	UpdatedAt time.Time
}

func (accountRow) TableName() string { return "ledger_accounts" }

type entryRow struct {
	Seq         int64           `gorm:"primaryKey;autoIncrement"`
	ID          string          `gorm:"size:36;uniqueIndex;not null"`
	FromAccount string          `gorm:"size:80;index"`
	ToAccount   string          `gorm:"size:80;not null;index"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,0);not null"`
	Memo        string          `gorm:"size:255"`
	CreatedAt   time.Time
}

func (entryRow) TableName() string { return "ledger_entries" }

// PostgresStore implements Store on Postgres through gorm. Each unit runs in a
// serializable transaction with row locks, and is retried on serialization
// failures.
type PostgresStore struct {
	db         *gorm.DB
	maxRetries int
}

func NewPostgresStore(db *gorm.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, maxRetries: 3}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&platformRow{}, &counterRow{}, &vaultRow{}, &tradeCallRow{}, &accountRow{}, &entryRow{},
	)
}

func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
			return fn(&pgTx{db: gtx})
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if !isRetryable(err) {
			return err
		}
		logger.FromContext(ctx).Warn("retrying settlement transaction", "attempt", attempt, "error", err)
	}
	return err
}

func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return fn(&pgTx{db: s.db.WithContext(ctx), readOnly: true})
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func toDec(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func fromDec(d decimal.Decimal) (uint64, error) {
	bi := d.BigInt()
	if bi.Sign() < 0 || !bi.IsUint64() {
		return 0, fmt.Errorf("stored amount %s out of range", d.String())
	}
	return bi.Uint64(), nil
}

func addrs(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		out = append(out, common.HexToAddress(s))
	}
	return out
}

func hexes(in []common.Address) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, a.Hex())
	}
	return out
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

type pgTx struct {
	db       *gorm.DB
	readOnly bool
}

// locked returns a query builder that takes row locks inside write units.
func (t *pgTx) locked() *gorm.DB {
	if t.readOnly {
		return t.db
	}
	return t.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (t *pgTx) Platform() (*model.PlatformState, error) {
	var row platformRow
	if err := t.locked().Where("id = ?", platformRowID).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return &model.PlatformState{
		Admin:         common.HexToAddress(row.Admin),
		InitializedAt: row.InitializedAt,
	}, nil
}

func (t *pgTx) CreatePlatform(p *model.PlatformState) error {
	if t.readOnly {
		return ErrReadOnly
	}
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&platformRow{
		ID:            platformRowID,
		Admin:         p.Admin.Hex(),
		InitializedAt: p.InitializedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (t *pgTx) Counter() (*model.IDCounter, error) {
	var row counterRow
	if err := t.locked().Where("id = ?", 1).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	v, err := fromDec(row.Value)
	if err != nil {
		return nil, err
	}
	return &model.IDCounter{Value: v}, nil
}

func (t *pgTx) SaveCounter(c *model.IDCounter) error {
	if t.readOnly {
		return ErrReadOnly
	}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&counterRow{ID: 1, Value: toDec(c.Value)}).Error
}

func (t *pgTx) Vault(owner common.Address) (*model.UserVault, error) {
	var row vaultRow
	if err := t.locked().Where("owner = ?", owner.Hex()).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	deposited, err := fromDec(row.Deposited)
	if err != nil {
		return nil, err
	}
	reserved, err := fromDec(row.Reserved)
	if err != nil {
		return nil, err
	}
	return &model.UserVault{
		Owner:            owner,
		DepositedBalance: deposited,
		ReservedFee:      reserved,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}, nil
}

func (t *pgTx) SaveVault(v *model.UserVault) error {
	if t.readOnly {
		return ErrReadOnly
	}
	return t.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&vaultRow{
		Owner:     v.Owner.Hex(),
		Deposited: toDec(v.DepositedBalance),
		Reserved:  toDec(v.ReservedFee),
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}).Error
}

func callToRow(c *model.TradeCall) (*tradeCallRow, error) {
	if c.ID > math.MaxInt64 {
		return nil, fmt.Errorf("trade call id %d exceeds storage range", c.ID)
	}
	row := &tradeCallRow{
		ID:                int64(c.ID),
		Token:             c.Token.Hex(),
		Staked:            toDec(c.StakedAmount),
		Caller:            c.Caller.Hex(),
		FollowFee:         toDec(c.FollowFee),
		CreatedAt:         c.CreatedAt,
		Followers:         hexes(c.Followers),
		Status:            string(c.Status),
		IsDistributed:     c.IsDistributed,
		PayoutPerFollower: toDec(c.PayoutPerFollower),
		ClaimedFollowers:  hexes(c.ClaimedFollowers),
		CallerPayout:      toDec(c.CallerPayout),
		ResolvedAt:        c.ResolvedAt,
	}
	if c.ResolvedBy != nil {
		by := c.ResolvedBy.Hex()
		row.ResolvedBy = &by
	}
	return row, nil
}

func rowToCall(row *tradeCallRow) (*model.TradeCall, error) {
	staked, err := fromDec(row.Staked)
	if err != nil {
		return nil, err
	}
	fee, err := fromDec(row.FollowFee)
	if err != nil {
		return nil, err
	}
	payout, err := fromDec(row.PayoutPerFollower)
	if err != nil {
		return nil, err
	}
	callerPayout, err := fromDec(row.CallerPayout)
	if err != nil {
		return nil, err
	}
	c := &model.TradeCall{
		ID:                uint64(row.ID),
		Token:             common.HexToAddress(row.Token),
		StakedAmount:      staked,
		Caller:            common.HexToAddress(row.Caller),
		FollowFee:         fee,
		CreatedAt:         row.CreatedAt,
		Followers:         addrs(row.Followers),
		Status:            model.CallStatus(row.Status),
		IsDistributed:     row.IsDistributed,
		PayoutPerFollower: payout,
		ClaimedFollowers:  addrs(row.ClaimedFollowers),
		CallerPayout:      callerPayout,
		ResolvedAt:        row.ResolvedAt,
	}
	if row.ResolvedBy != nil {
		by := common.HexToAddress(*row.ResolvedBy)
		c.ResolvedBy = &by
	}
	return c, nil
}

func (t *pgTx) TradeCall(id uint64) (*model.TradeCall, error) {
	if id > math.MaxInt64 {
		return nil, ErrNotFound
	}
	var row tradeCallRow
	if err := t.locked().Where("id = ?", int64(id)).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return rowToCall(&row)
}

func (t *pgTx) CreateTradeCall(c *model.TradeCall) error {
	if t.readOnly {
		return ErrReadOnly
	}
	row, err := callToRow(c)
	if err != nil {
		return err
	}
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (t *pgTx) SaveTradeCall(c *model.TradeCall) error {
	if t.readOnly {
		return ErrReadOnly
	}
	row, err := callToRow(c)
	if err != nil {
		return err
	}
	res := t.db.Model(&tradeCallRow{}).Where("id = ?", row.ID).Select("*").Updates(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListTradeCalls(f model.CallFilter) ([]*model.TradeCall, error) {
	f = f.Normalize()
	q := t.db.Model(&tradeCallRow{})
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Caller != nil {
		q = q.Where("caller = ?", f.Caller.Hex())
	}
	if f.Follower != nil {
		q = q.Where("followers @> ?", fmt.Sprintf(`[%q]`, f.Follower.Hex()))
	}
	var rows []tradeCallRow
	if err := q.Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.TradeCall, 0, len(rows))
	for i := range rows {
		c, err := rowToCall(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (t *pgTx) MaxTradeCallID() (uint64, error) {
	var highest int64
	if err := t.db.Model(&tradeCallRow{}).Select("COALESCE(MAX(id), 0)").Scan(&highest).Error; err != nil {
		return 0, err
	}
	return uint64(highest), nil
}

func (t *pgTx) BalanceOf(account model.Account) (uint64, error) {
	var row accountRow
	err := t.locked().Where("name = ?", string(account)).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fromDec(row.Balance)
}

// lockAccounts loads the named accounts in name order so concurrent units
// always acquire row locks in the same sequence.
func (t *pgTx) lockAccounts(names ...model.Account) (map[model.Account]uint64, error) {
	keys := make([]string, 0, len(names))
	for _, n := range names {
		keys = append(keys, string(n))
	}
	sort.Strings(keys)

	var rows []accountRow
	if err := t.locked().Where("name IN ?", keys).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[model.Account]uint64, len(names))
	for _, r := range rows {
		bal, err := fromDec(r.Balance)
		if err != nil {
			return nil, err
		}
		out[model.Account(r.Name)] = bal
	}
	return out, nil
}

func (t *pgTx) putBalance(account model.Account, balance uint64) error {
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"balance", "updated_at"}),
	}).Create(&accountRow{
		Name:      string(account),
		Balance:   toDec(balance),
		UpdatedAt: time.Now().UTC(),
	}).Error
}

func (t *pgTx) record(from, to model.Account, amount uint64, memo string) error {
	return t.db.Create(&entryRow{
		ID:          uuid.New().String(),
		FromAccount: string(from),
		ToAccount:   string(to),
		Amount:      toDec(amount),
		Memo:        memo,
		CreatedAt:   time.Now().UTC(),
	}).Error
}

func (t *pgTx) Transfer(from, to model.Account, amount uint64, memo string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if amount == 0 || from == to {
		return nil
	}
	balances, err := t.lockAccounts(from, to)
	if err != nil {
		return err
	}
	nextFrom, nextTo, err := applyTransfer(from, balances[from], balances[to], amount)
	if err != nil {
		return err
	}
	if err := t.putBalance(from, nextFrom); err != nil {
		return err
	}
	if err := t.putBalance(to, nextTo); err != nil {
		return err
	}
	return t.record(from, to, amount, memo)
}

func (t *pgTx) Mint(to model.Account, amount uint64, memo string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if amount == 0 {
		return nil
	}
	balances, err := t.lockAccounts(to)
	if err != nil {
		return err
	}
	next, err := model.AddUint64(balances[to], amount)
	if err != nil {
		return err
	}
	if err := t.putBalance(to, next); err != nil {
		return err
	}
	return t.record("", to, amount, memo)
}

func (t *pgTx) Entries(account model.Account, limit int) ([]model.LedgerEntry, error) {
	var rows []entryRow
	err := t.db.Where("from_account = ? OR to_account = ?", string(account), string(account)).
		Order("seq DESC").Limit(clampLimit(limit)).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.LedgerEntry, 0, len(rows))
	for _, r := range rows {
		amount, err := fromDec(r.Amount)
		if err != nil {
			return nil, err
		}
		out = append(out, model.LedgerEntry{
			ID:        r.ID,
			From:      model.Account(r.FromAccount),
			To:        model.Account(r.ToAccount),
			Amount:    amount,
			Memo:      r.Memo,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}
