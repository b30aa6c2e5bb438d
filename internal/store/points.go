package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	BalancePrefix = "ai-generator-points-balance"
	LedgerPrefix  = "ai-generator-points-ledger"
	NewbiePrefix  = "ai-generator-points-newbie-claimed"

	InitialBalance  = 20
	MaxLedger       = 100
	NewbiePackBonus = 5
	NewbiePackTitle = "newbie pack"
)

var ErrInsufficientPoints = errors.New("insufficient points")

type LedgerType string

const (
	LedgerEarn  LedgerType = "earn"
	LedgerSpend LedgerType = "spend"
)

type LedgerItem struct {
	ID        string     `json:"id"`
	Type      LedgerType `json:"type"`
	Amount    int        `json:"amount"`
	Title     string     `json:"title"`
	Timestamp int64      `json:"timestamp"`
}

// Points is the per-account balance and its ledger. Balances are
// non-negative integers; an account starts with InitialBalance.
type Points struct {
	kv  KV
	now func() time.Time
}

func NewPoints(kv KV, now func() time.Time) *Points {
	if now == nil {
		now = time.Now
	}
	return &Points{kv: kv, now: now}
}

func (p *Points) Balance(account string) (int, error) {
	key := accountKey(BalancePrefix, account)
	raw, present, err := p.kv.Get(key)
	if err != nil {
		return 0, err
	}
	if !present {
		if err := save(p.kv, key, InitialBalance); err != nil {
			return 0, err
		}
		return InitialBalance, nil
	}
	var n float64
	if json.Unmarshal(raw, &n) != nil || n < 0 {
		return 0, nil
	}
	return int(n), nil
}

func (p *Points) setBalance(account string, n int) error {
	if n < 0 {
		n = 0
	}
	return save(p.kv, accountKey(BalancePrefix, account), n)
}

// Ledger returns at most limit entries, newest first.
func (p *Points) Ledger(account string, limit int) ([]LedgerItem, error) {
	items, err := p.ledger(account)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (p *Points) ledger(account string) ([]LedgerItem, error) {
	var items []LedgerItem
	if _, err := load(p.kv, accountKey(LedgerPrefix, account), &items); err != nil {
		return nil, err
	}
	kept := items[:0:0]
	for _, it := range items {
		if it.ID != "" {
			kept = append(kept, it)
		}
	}
	if len(kept) > MaxLedger {
		kept = kept[:MaxLedger]
	}
	return kept, nil
}

func (p *Points) record(account string, typ LedgerType, amount int, title string) error {
	items, err := p.ledger(account)
	if err != nil {
		return err
	}
	item := LedgerItem{
		ID:        "pts-" + uuid.NewString(),
		Type:      typ,
		Amount:    amount,
		Title:     title,
		Timestamp: p.now().UnixMilli(),
	}
	items = append([]LedgerItem{item}, items...)
	if len(items) > MaxLedger {
		items = items[:MaxLedger]
	}
	return save(p.kv, accountKey(LedgerPrefix, account), items)
}

// Earn credits amount. Non-positive amounts are ignored.
func (p *Points) Earn(account string, amount int, title string) (int, error) {
	balance, err := p.Balance(account)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return balance, nil
	}
	balance += amount
	if err := p.setBalance(account, balance); err != nil {
		return 0, err
	}
	return balance, p.record(account, LedgerEarn, amount, title)
}

func (p *Points) CanSpend(account string, amount int) (bool, error) {
	if amount < 0 {
		amount = 0
	}
	balance, err := p.Balance(account)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// Spend debits amount, or returns ErrInsufficientPoints with the balance
// unchanged.
func (p *Points) Spend(account string, amount int, title string) (int, error) {
	balance, err := p.Balance(account)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return balance, nil
	}
	if balance < amount {
		return balance, ErrInsufficientPoints
	}
	balance -= amount
	if err := p.setBalance(account, balance); err != nil {
		return 0, err
	}
	return balance, p.record(account, LedgerSpend, amount, title)
}

func (p *Points) NewbieClaimed(account string) (bool, error) {
	var claimed bool
	_, err := load(p.kv, accountKey(NewbiePrefix, account), &claimed)
	return claimed, err
}

// ClaimNewbiePack credits NewbiePackBonus once per account and reports
// whether this call did it.
func (p *Points) ClaimNewbiePack(account string) (bool, error) {
	claimed, err := p.NewbieClaimed(account)
	if err != nil || claimed {
		return false, err
	}
	if err := save(p.kv, accountKey(NewbiePrefix, account), true); err != nil {
		return false, err
	}
	if _, err := p.Earn(account, NewbiePackBonus, NewbiePackTitle); err != nil {
		return false, err
	}
	return true, nil
}

// ResetAll forgets balances, ledgers and newbie flags of every account.
func (p *Points) ResetAll() error {
	var keys []string
	for _, prefix := range []string{BalancePrefix, LedgerPrefix, NewbiePrefix} {
		ks, err := p.kv.Keys(prefix + ":")
		if err != nil {
			return err
		}
		keys = append(keys, ks...)
	}
	if len(keys) == 0 {
		return nil
	}
	return p.kv.Delete(keys...)
}
