/*
reader.go - Transaction CSV input

FORMAT:
  type,client,tx,amount
  deposit,1,1,1.0
  dispute,1,1,

  - A header row (first field "type") is optional and skipped.
  - Whitespace around every field is trimmed.
  - The amount column is required for deposits and withdrawals and
    ignored for the other kinds; dispute rows may omit it entirely.
  - client must fit 16 bits, tx 32 bits.

MALFORMED ROWS:
  Rows that cannot become a valid Transaction (unknown type, bad ids,
  missing or negative amount, CSV syntax errors) are counted, reported
  through OnError and skipped. They never reach the engine. Only I/O
  errors end the read.
*/
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/warp/payments-engine/payment"
)

// RowError describes one skipped input row.
type RowError struct {
	Line int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

type Reader struct {
	c      *csv.Reader
	closer io.Closer

	sawFirst  bool
	malformed int

	// OnError is called for every skipped row. May be nil.
	OnError func(err *RowError)
}

func NewReader(r io.Reader) *Reader {
	c := csv.NewReader(r)
	c.FieldsPerRecord = -1
	c.TrimLeadingSpace = true
	return &Reader{c: c}
}

// Open reads transactions from the file at path. Close releases it.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// Malformed returns how many rows have been skipped so far.
func (r *Reader) Malformed() int {
	return r.malformed
}

// Next returns the next valid transaction. ok is false at end of input.
func (r *Reader) Next() (payment.Transaction, bool, error) {
	for {
		row, err := r.c.Read()
		if err == io.EOF {
			return payment.Transaction{}, false, nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				r.skip(&RowError{Line: parseErr.StartLine, Err: parseErr.Err})
				continue
			}
			return payment.Transaction{}, false, err
		}
		line, _ := r.c.FieldPos(0)

		if isBlank(row) {
			continue
		}
		if !r.sawFirst {
			r.sawFirst = true
			if strings.EqualFold(strings.TrimSpace(row[0]), "type") {
				continue
			}
		}

		tx, err := ParseRow(row)
		if err != nil {
			r.skip(&RowError{Line: line, Err: err})
			continue
		}
		return tx, true, nil
	}
}

// ReadAll drains the reader. Malformed rows are skipped as in Next.
func (r *Reader) ReadAll() ([]payment.Transaction, error) {
	var out []payment.Transaction
	for {
		tx, ok, err := r.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, tx)
	}
}

func (r *Reader) skip(err *RowError) {
	r.malformed++
	if r.OnError != nil {
		r.OnError(err)
	}
}

// ParseRow converts one record (type, client, tx[, amount]) into a
// validated Transaction.
func ParseRow(row []string) (payment.Transaction, error) {
	if len(row) < 3 || len(row) > 4 {
		return payment.Transaction{}, fmt.Errorf("expected 3 or 4 fields, got %d", len(row))
	}

	kind, err := payment.ParseKind(row[0])
	if err != nil {
		return payment.Transaction{}, err
	}
	client, err := strconv.ParseUint(strings.TrimSpace(row[1]), 10, 16)
	if err != nil {
		return payment.Transaction{}, fmt.Errorf("client: %w", err)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(row[2]), 10, 32)
	if err != nil {
		return payment.Transaction{}, fmt.Errorf("tx: %w", err)
	}

	tx := payment.Transaction{
		Client: payment.ClientID(client),
		ID:     payment.TransactionID(id),
		Kind:   kind,
	}
	if kind.CarriesAmount() {
		raw := ""
		if len(row) == 4 {
			raw = strings.TrimSpace(row[3])
		}
		if raw == "" {
			return payment.Transaction{}, &payment.ValidationError{Field: "amount", Reason: kind.String() + " requires an amount"}
		}
		amount, err := payment.ParseAmount(raw)
		if err != nil {
			return payment.Transaction{}, fmt.Errorf("amount: %w", err)
		}
		tx.Amount = amount
	}

	if err := tx.Validate(); err != nil {
		return payment.Transaction{}, err
	}
	return tx, nil
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
