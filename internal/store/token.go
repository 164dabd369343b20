package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
)

// Token is reference metadata consumed read-only by the engine: decimals for
// scaling and IsWrapped for entry-point selection. Market fields are display
// snapshots maintained outside the execution path.
type Token struct {
	Address         string
	Symbol          string
	Name            string
	Decimals        int32
	IsWrapped       bool
	WrappedName     string
	WrappedSymbol   string
	OriginalAddress string
	Price           decimal.NullDecimal
	FDV             decimal.NullDecimal
	MarketCap       decimal.NullDecimal
	Volume24h       decimal.NullDecimal
}

func (s *Store) TokenByAddress(ctx context.Context, address string) (Token, error) {
	var (
		t                                        Token
		wrappedName, wrappedSymbol, originalAddr sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT address, symbol, name, decimals, is_wrapped,
		       wrapped_name, wrapped_symbol, original_address,
		       price, fdv, marketcap, volume_24h
		FROM tokens WHERE address = ?`, normalizeAddress(address)).
		Scan(&t.Address, &t.Symbol, &t.Name, &t.Decimals, &t.IsWrapped,
			&wrappedName, &wrappedSymbol, &originalAddr,
			&t.Price, &t.FDV, &t.MarketCap, &t.Volume24h)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Token{}, apperr.New(apperr.KindStorageIntegrityError, "token not found: "+address)
		}
		return Token{}, apperr.Wrap(apperr.KindStorageUnavailable, "read token", err)
	}
	t.WrappedName = wrappedName.String
	t.WrappedSymbol = wrappedSymbol.String
	t.OriginalAddress = originalAddr.String
	return t, nil
}

func (s *Store) UpsertToken(ctx context.Context, t Token) error {
	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tokens (address, symbol, name, decimals, is_wrapped,
			wrapped_name, wrapped_symbol, original_address,
			price, fdv, marketcap, volume_24h)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			symbol=excluded.symbol,
			name=excluded.name,
			decimals=excluded.decimals,
			is_wrapped=excluded.is_wrapped,
			wrapped_name=excluded.wrapped_name,
			wrapped_symbol=excluded.wrapped_symbol,
			original_address=excluded.original_address,
			price=excluded.price,
			fdv=excluded.fdv,
			marketcap=excluded.marketcap,
			volume_24h=excluded.volume_24h
	`, normalizeAddress(t.Address), t.Symbol, t.Name, t.Decimals, t.IsWrapped,
		nullString(t.WrappedName), nullString(t.WrappedSymbol), nullString(t.OriginalAddress),
		t.Price, t.FDV, t.MarketCap, t.Volume24h)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, "upsert token", err)
	}
	return nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
