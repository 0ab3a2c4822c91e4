// Package recipients builds the destination list of a submission from the
// selected contacts and the free-text recipient field.
package recipients

import (
	"context"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/Jorge-Gabriel97/Timesend/internal/model"
	"github.com/Jorge-Gabriel97/Timesend/internal/repo"
)

var ErrNoDestinations = errors.New("no destinations")

var separators = regexp.MustCompile(`[;,]`)

type ContactSource interface {
	Get(ctx context.Context, id int64) (*model.Contact, error)
}

type Resolver struct {
	contacts ContactSource
}

func NewResolver(contacts ContactSource) *Resolver {
	return &Resolver{contacts: contacts}
}

// Resolve returns the phone numbers of the selected contacts, in selection
// order, followed by the free-text entries in input order. Unknown contact
// ids are skipped. Entries are not deduplicated.
func (r *Resolver) Resolve(ctx context.Context, contactIDs []int64, freeText string) ([]string, error) {
	var out []string

	for _, id := range contactIDs {
		c, err := r.contacts.Get(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "lookup contact %d", id)
		}
		out = append(out, c.Phone)
	}

	out = append(out, SplitFreeText(freeText)...)

	if len(out) == 0 {
		return nil, ErrNoDestinations
	}
	return out, nil
}

// SplitFreeText splits on commas and semicolons, trimming blanks and
// dropping empty entries.
func SplitFreeText(raw string) []string {
	var out []string
	for _, part := range separators.Split(raw, -1) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
