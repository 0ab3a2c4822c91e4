package service

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/repo"
)

var ErrInvalidContact = errors.New("invalid contact")

// MinImportDigits is the shortest phone number accepted from a CSV import.
const MinImportDigits = 10

type ImportReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

type Contacts struct {
	repo repo.ContactRepository
	log  *zap.Logger
}

func NewContacts(r repo.ContactRepository, log *zap.Logger) *Contacts {
	return &Contacts{repo: r, log: log.Named("contacts")}
}

func (c *Contacts) Register(ctx context.Context, name, phone string) (*model.Contact, error) {
	ct := &model.Contact{
		Name:  strings.TrimSpace(name),
		Phone: model.NormalizePhone(phone),
	}
	if ct.Name == "" {
		return nil, errors.Wrap(ErrInvalidContact, "name is required")
	}
	if ct.Phone == "" {
		return nil, errors.Wrap(ErrInvalidContact, "phone has no digits")
	}
	if _, err := c.repo.Create(ctx, ct); err != nil {
		return nil, err
	}
	c.log.Info("contact registered", zap.Int64("contact_id", ct.ID))
	return ct, nil
}

// Import reads name,phone rows. The first row is a header. Rows with a
// missing column, a phone shorter than MinImportDigits, or an already
// registered phone are skipped.
func (c *Contacts) Import(ctx context.Context, r io.Reader) (ImportReport, error) {
	var rep ImportReport

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return rep, nil
		}
		return rep, errors.Wrap(err, "read csv header")
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rep, errors.Wrap(err, "read csv")
		}

		if len(row) < 2 {
			rep.Skipped++
			continue
		}
		ct := &model.Contact{Name: strings.TrimSpace(row[0]), Phone: model.NormalizePhone(row[1])}
		if ct.Name == "" || len(ct.Phone) < MinImportDigits {
			rep.Skipped++
			continue
		}

		_, err = c.repo.Create(ctx, ct)
		switch {
		case errors.Is(err, repo.ErrDuplicate):
			rep.Skipped++
		case err != nil:
			return rep, err
		default:
			rep.Imported++
		}
	}

	c.log.Info("contacts imported", zap.Int("imported", rep.Imported), zap.Int("skipped", rep.Skipped))
	return rep, nil
}

func (c *Contacts) List(ctx context.Context) ([]model.Contact, error) {
	return c.repo.List(ctx)
}
