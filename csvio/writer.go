package csvio

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/warp/payments-engine/payment"
)

// Header is the first row written by WriteHeader.
var Header = []string{"client", "available", "held", "total", "locked"}

// Writer renders account balances as CSV, one row per client.
type Writer struct {
	c *csv.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{c: csv.NewWriter(w)}
}

func (w *Writer) WriteHeader() error {
	return w.c.Write(Header)
}

func (w *Writer) Write(b payment.AccountBalance) error {
	return w.c.Write([]string{
		strconv.FormatUint(uint64(b.Client), 10),
		b.Available.String(),
		b.Held.String(),
		b.Total().String(),
		strconv.FormatBool(b.Locked),
	})
}

// Flush writes any buffered rows and reports the first write error.
func (w *Writer) Flush() error {
	w.c.Flush()
	return w.c.Error()
}

// WriteBalances writes a header followed by every balance, in the order given.
func WriteBalances(out io.Writer, balances []payment.AccountBalance) error {
	w := NewWriter(out)
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for _, b := range balances {
		if err := w.Write(b); err != nil {
			return err
		}
	}
	return w.Flush()
}
