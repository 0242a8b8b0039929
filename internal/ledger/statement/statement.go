// Package statement renders a guardian's token history as a PDF.
package statement

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/pawtrack/internal/ledger/domain"
	"github.com/smallbiznis/pawtrack/pkg/db/pagination"
)

// MaxEntries caps one statement; older entries are summarised by the
// truncation notice.
const MaxEntries = 1000

type Statement struct {
	UserID      snowflake.ID
	GeneratedAt time.Time
	Tokens      int64
	TokensUsed  int64
	// Entries are newest first.
	Entries   []domain.LedgerEntry
	Truncated bool
}

// Collect pages through the user's ledger, newest first, up to limit entries.
func Collect(ctx context.Context, svc domain.Service, userID snowflake.ID, limit int) ([]domain.LedgerEntry, bool, error) {
	if limit <= 0 || limit > MaxEntries {
		limit = MaxEntries
	}

	var (
		out   []domain.LedgerEntry
		token string
	)
	for len(out) < limit {
		resp, err := svc.List(ctx, domain.ListRequest{
			UserID:    userID,
			PageToken: token,
			PageSize:  min(pagination.MaxPageSize, limit-len(out)),
		})
		if err != nil {
			return nil, false, err
		}
		out = append(out, resp.Entries...)
		if !resp.HasMore || resp.NextPageToken == "" {
			return out, false, nil
		}
		token = resp.NextPageToken
	}
	return out[:limit], true, nil
}

// Render lays out the statement on A4 pages.
func Render(s Statement) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Token statement", props.Text{Size: 18, Style: fontstyle.Bold}),
		text.NewCol(4, s.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"), props.Text{Size: 9, Align: align.Right, Top: 3}),
	)
	m.AddRow(18,
		col.New(6).Add(
			text.New("Account "+s.UserID.String(), props.Text{Size: 9}),
			text.New(fmt.Sprintf("%d entries", len(s.Entries)), props.Text{Size: 9, Top: 5}),
		),
		col.New(6).Add(
			text.New("Balance: "+strconv.FormatInt(s.Tokens, 10)+" tokens", props.Text{Size: 10, Style: fontstyle.Bold, Align: align.Right}),
			text.New("Used to date: "+strconv.FormatInt(s.TokensUsed, 10), props.Text{Size: 9, Align: align.Right, Top: 5}),
		),
	)

	header := props.Text{Size: 9, Style: fontstyle.Bold}
	m.AddRow(8,
		text.NewCol(3, "Date", header),
		text.NewCol(3, "Category", header),
		text.NewCol(4, "Description", header),
		text.NewCol(2, "Amount", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
	cell := props.Text{Size: 8}
	for _, e := range s.Entries {
		m.AddRow(7,
			text.NewCol(3, e.CreatedAt.UTC().Format("2006-01-02 15:04"), cell),
			text.NewCol(3, e.Category, cell),
			text.NewCol(4, e.Description, cell),
			text.NewCol(2, formatAmount(e.Amount), props.Text{Size: 8, Align: align.Right}),
		)
	}
	if s.Truncated {
		m.AddRow(10,
			text.NewCol(12, fmt.Sprintf("Only the newest %d entries are shown.", len(s.Entries)), props.Text{Size: 8, Style: fontstyle.Italic, Top: 3}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("render statement: %w", err)
	}
	return doc.GetBytes(), nil
}

func formatAmount(amount int64) string {
	if amount > 0 {
		return "+" + strconv.FormatInt(amount, 10)
	}
	return strconv.FormatInt(amount, 10)
}
