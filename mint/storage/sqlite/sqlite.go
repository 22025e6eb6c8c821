package sqlite

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"

	"github.com/opencash/mintd/cashu"
	"github.com/opencash/mintd/cashu/nuts/nut04"
	"github.com/opencash/mintd/cashu/nuts/nut05"
	"github.com/opencash/mintd/crypto"
	"github.com/opencash/mintd/mint/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteDB struct {
	db *sql.DB
}

func InitSQLite(path string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func (sqlite *SQLiteDB) SaveSeed(seed []byte) error {
	hexSeed := hex.EncodeToString(seed)

	_, err := sqlite.db.Exec(`
	INSERT INTO seed (id, seed) VALUES (?, ?)
	`, "id", hexSeed)

	return err
}

func (sqlite *SQLiteDB) GetSeed() ([]byte, error) {
	var hexSeed string
	row := sqlite.db.QueryRow("SELECT seed FROM seed WHERE id = ?", "id")
	err := row.Scan(&hexSeed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	return hex.DecodeString(hexSeed)
}

func (sqlite *SQLiteDB) SaveKeyset(keyset storage.DBKeyset) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO keysets (id, unit, active, derivation_path_idx, input_fee_ppk) VALUES (?, ?, ?, ?, ?)
	`, keyset.Id, keyset.Unit, keyset.Active, keyset.DerivationPathIdx, keyset.InputFeePpk)

	return err
}

func (sqlite *SQLiteDB) GetKeysets() ([]storage.DBKeyset, error) {
	keysets := []storage.DBKeyset{}

	rows, err := sqlite.db.Query("SELECT id, unit, active, derivation_path_idx, input_fee_ppk FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var keyset storage.DBKeyset
		err := rows.Scan(
			&keyset.Id,
			&keyset.Unit,
			&keyset.Active,
			&keyset.DerivationPathIdx,
			&keyset.InputFeePpk,
		)
		if err != nil {
			return nil, err
		}
		keysets = append(keysets, keyset)
	}

	return keysets, rows.Err()
}

func (sqlite *SQLiteDB) UpdateKeysetActive(id string, active bool) error {
	result, err := sqlite.db.Exec("UPDATE keysets SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveProofs inserts all proofs in a single transaction. The primary
// key on y makes the insert of an already used proof fail, which
// rolls back the whole transaction and surfaces ErrProofAlreadyUsed.
func (sqlite *SQLiteDB) SaveProofs(proofs cashu.Proofs) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO proofs (y, amount, keyset_id, secret, c) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return err
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())

		if _, err := stmt.Exec(Yhex, proof.Amount, proof.Id, proof.Secret, proof.C); err != nil {
			if isConstraintErr(err) {
				return storage.ErrProofAlreadyUsed
			}
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetProofsUsed(Ys []string) ([]storage.DBProof, error) {
	return sqlite.queryProofs("SELECT y, amount, keyset_id, secret, c FROM proofs", "", Ys)
}

func (sqlite *SQLiteDB) AddPendingProofs(proofs cashu.Proofs, quoteId string) error {
	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO pending_proofs (y, amount, keyset_id, secret, c, melt_quote_id) 
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, proof := range proofs {
		Y, err := crypto.HashToCurve([]byte(proof.Secret))
		if err != nil {
			return err
		}
		Yhex := hex.EncodeToString(Y.SerializeCompressed())

		if _, err := stmt.Exec(Yhex, proof.Amount, proof.Id, proof.Secret, proof.C, quoteId); err != nil {
			if isConstraintErr(err) {
				return storage.ErrProofAlreadyUsed
			}
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetPendingProofs(Ys []string) ([]storage.DBProof, error) {
	return sqlite.queryProofs("SELECT y, amount, keyset_id, secret, c, melt_quote_id FROM pending_proofs", "", Ys)
}

func (sqlite *SQLiteDB) GetPendingProofsByQuote(quoteId string) ([]storage.DBProof, error) {
	return sqlite.queryProofs("SELECT y, amount, keyset_id, secret, c, melt_quote_id FROM pending_proofs", quoteId, nil)
}

func (sqlite *SQLiteDB) RemovePendingProofs(Ys []string) error {
	if len(Ys) == 0 {
		return nil
	}

	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("DELETE FROM pending_proofs WHERE y = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, y := range Ys {
		if _, err := stmt.Exec(y); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) queryProofs(query, quoteId string, Ys []string) ([]storage.DBProof, error) {
	var args []any
	if len(quoteId) > 0 {
		query += " WHERE melt_quote_id = ?"
		args = []any{quoteId}
	} else {
		if len(Ys) == 0 {
			return []storage.DBProof{}, nil
		}
		query += ` WHERE y in (?` + strings.Repeat(",?", len(Ys)-1) + `)`
		args = make([]any, len(Ys))
		for i, y := range Ys {
			args[i] = y
		}
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := strings.Contains(query, "pending_proofs")
	proofs := []storage.DBProof{}
	for rows.Next() {
		var proof storage.DBProof
		var dest []any
		if pending {
			dest = []any{&proof.Y, &proof.Amount, &proof.Id, &proof.Secret, &proof.C, &proof.MeltQuoteId}
		} else {
			dest = []any{&proof.Y, &proof.Amount, &proof.Id, &proof.Secret, &proof.C}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}

	return proofs, rows.Err()
}

func (sqlite *SQLiteDB) SaveMintQuote(mintQuote storage.MintQuote) error {
	_, err := sqlite.db.Exec(
		`INSERT INTO mint_quotes (id, payment_request, payment_hash, amount, state, expiry) 
		VALUES (?, ?, ?, ?, ?, ?)`,
		mintQuote.Id,
		mintQuote.PaymentRequest,
		mintQuote.PaymentHash,
		mintQuote.Amount,
		mintQuote.State.String(),
		mintQuote.Expiry,
	)

	return err
}

func (sqlite *SQLiteDB) GetMintQuote(quoteId string) (storage.MintQuote, error) {
	row := sqlite.db.QueryRow(
		"SELECT id, payment_request, payment_hash, amount, state, expiry FROM mint_quotes WHERE id = ?",
		quoteId,
	)

	var mintQuote storage.MintQuote
	var state string

	err := row.Scan(
		&mintQuote.Id,
		&mintQuote.PaymentRequest,
		&mintQuote.PaymentHash,
		&mintQuote.Amount,
		&state,
		&mintQuote.Expiry,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MintQuote{}, storage.ErrNotFound
		}
		return storage.MintQuote{}, err
	}
	mintQuote.State = nut04.StringToState(state)

	return mintQuote, nil
}

func (sqlite *SQLiteDB) UpdateMintQuoteState(quoteId string, state nut04.State) error {
	result, err := sqlite.db.Exec("UPDATE mint_quotes SET state = ? WHERE id = ?", state.String(), quoteId)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return storage.ErrNotFound
	}
	return nil
}

// SetMintQuoteIssued does the PAID -> ISSUED transition as a
// compare-and-swap. Of two concurrent redemptions of the same quote
// only one update matches the WHERE clause, the other gets
// ErrQuoteConflict.
func (sqlite *SQLiteDB) SetMintQuoteIssued(quoteId string) error {
	result, err := sqlite.db.Exec(
		"UPDATE mint_quotes SET state = ? WHERE id = ? AND state = ?",
		nut04.Issued.String(), quoteId, nut04.Paid.String(),
	)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return storage.ErrQuoteConflict
	}
	return nil
}

func (sqlite *SQLiteDB) SaveMeltQuote(meltQuote storage.MeltQuote) error {
	_, err := sqlite.db.Exec(`
		INSERT INTO melt_quotes 
		(id, request, payment_hash, amount, fee_reserve, state, expiry, preimage) 
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		meltQuote.Id,
		meltQuote.InvoiceRequest,
		meltQuote.PaymentHash,
		meltQuote.Amount,
		meltQuote.FeeReserve,
		meltQuote.State.String(),
		meltQuote.Expiry,
		meltQuote.Preimage,
	)

	return err
}

func (sqlite *SQLiteDB) GetMeltQuote(quoteId string) (storage.MeltQuote, error) {
	row := sqlite.db.QueryRow(
		`SELECT id, request, payment_hash, amount, fee_reserve, state, expiry, preimage 
		FROM melt_quotes WHERE id = ?`,
		quoteId,
	)

	var meltQuote storage.MeltQuote
	var state string

	err := row.Scan(
		&meltQuote.Id,
		&meltQuote.InvoiceRequest,
		&meltQuote.PaymentHash,
		&meltQuote.Amount,
		&meltQuote.FeeReserve,
		&state,
		&meltQuote.Expiry,
		&meltQuote.Preimage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MeltQuote{}, storage.ErrNotFound
		}
		return storage.MeltQuote{}, err
	}
	meltQuote.State = nut05.StringToState(state)

	return meltQuote, nil
}

func (sqlite *SQLiteDB) UpdateMeltQuote(quoteId, preimage string, state nut05.State) error {
	result, err := sqlite.db.Exec(
		"UPDATE melt_quotes SET state = ?, preimage = ? WHERE id = ?",
		state.String(), preimage, quoteId,
	)
	if err != nil {
		return err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return storage.ErrNotFound
	}
	return nil
}

// SaveBlindSignatures inserts all signatures in a single transaction.
// An already signed blinded message hits the primary key on b_, which
// rolls back the whole batch and surfaces ErrBlindSignatureExists.
func (sqlite *SQLiteDB) SaveBlindSignatures(B_s []string, blindSignatures cashu.BlindedSignatures) error {
	if len(B_s) != len(blindSignatures) {
		return errors.New("number of blinded messages does not match number of signatures")
	}

	tx, err := sqlite.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO blind_signatures (b_, c_, keyset_id, amount) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, B_ := range B_s {
		signature := blindSignatures[i]
		if _, err := stmt.Exec(B_, signature.C_, signature.Id, signature.Amount); err != nil {
			if isConstraintErr(err) {
				return storage.ErrBlindSignatureExists
			}
			return err
		}
	}

	return tx.Commit()
}

func (sqlite *SQLiteDB) GetBlindSignatures(B_s []string) (cashu.BlindedSignatures, error) {
	signatures := cashu.BlindedSignatures{}
	if len(B_s) == 0 {
		return signatures, nil
	}

	query := `SELECT amount, c_, keyset_id FROM blind_signatures WHERE b_ in (?` +
		strings.Repeat(",?", len(B_s)-1) + `)`

	args := make([]any, len(B_s))
	for i, B_ := range B_s {
		args[i] = B_
	}

	rows, err := sqlite.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var signature cashu.BlindedSignature
		err := rows.Scan(
			&signature.Amount,
			&signature.C_,
			&signature.Id,
		)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, signature)
	}

	return signatures, rows.Err()
}

func (sqlite *SQLiteDB) GetIssuedEcash() (map[string]uint64, error) {
	return sqlite.sumByKeyset("SELECT keyset_id, SUM(amount) FROM blind_signatures GROUP BY keyset_id")
}

func (sqlite *SQLiteDB) GetRedeemedEcash() (map[string]uint64, error) {
	return sqlite.sumByKeyset("SELECT keyset_id, SUM(amount) FROM proofs GROUP BY keyset_id")
}

func (sqlite *SQLiteDB) sumByKeyset(query string) (map[string]uint64, error) {
	rows, err := sqlite.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	amounts := make(map[string]uint64)
	for rows.Next() {
		var keysetId string
		var amount uint64
		if err := rows.Scan(&keysetId, &amount); err != nil {
			return nil, err
		}
		amounts[keysetId] = amount
	}

	return amounts, rows.Err()
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}
