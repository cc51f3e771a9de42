package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/finance-scheduler/internal/domain"
)

// PageCreator creates pages in a Notion database.
type PageCreator interface {
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)
}

// NotionClient is the PageCreator backed by the Notion API.
type NotionClient struct {
	client *notionapi.Client
}

// NewNotionClient creates a new NotionClient with the provided API token.
func NewNotionClient(token string) *NotionClient {
	return &NotionClient{
		client: notionapi.NewClient(notionapi.Token(token)),
	}
}

// CreatePage creates a new page in a Notion database with the given properties.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	page, err := n.client.Page.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("CreatePage: %w", err)
	}

	return page, nil
}

// NotionSink adds one page per report to a Notion database.
type NotionSink struct {
	pages      PageCreator
	databaseID string
}

var _ Sink = (*NotionSink)(nil)

// NewNotionSink creates a sink writing to databaseID.
func NewNotionSink(pages PageCreator, databaseID string) *NotionSink {
	return &NotionSink{pages: pages, databaseID: databaseID}
}

func (s *NotionSink) Put(ctx context.Context, report *domain.MonthlyReport, _ string) error {
	if _, err := s.pages.CreatePage(ctx, s.databaseID, ReportToNotionProperties(report)); err != nil {
		return fmt.Errorf("NotionSink.Put: %w", err)
	}
	return nil
}

// ReportToNotionProperties converts a report to the properties of the reports database.
func ReportToNotionProperties(report *domain.MonthlyReport) notionapi.Properties {
	p := report.Stats.Period
	period := notionapi.Date(time.Date(p.Year, p.Month, p.Day, 0, 0, 0, 0, time.UTC))

	props := notionapi.Properties{
		"Report": notionapi.TitleProperty{
			Title: richText(fmt.Sprintf("%s %04d-%02d", report.User.Email, p.Year, int(p.Month))),
		},
		"User ID": notionapi.RichTextProperty{
			RichText: richText(report.User.ID),
		},
		"Period": notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &period},
		},
		"Income": notionapi.NumberProperty{
			Number: report.Stats.TotalIncome.InexactFloat64(),
		},
		"Expenses": notionapi.NumberProperty{
			Number: report.Stats.TotalExpenses.InexactFloat64(),
		},
		"Net": notionapi.NumberProperty{
			Number: report.Stats.Net().InexactFloat64(),
		},
		"Transactions": notionapi.NumberProperty{
			Number: float64(report.Stats.TransactionCount),
		},
	}

	if len(report.Insights) > 0 {
		props["Insights"] = notionapi.RichTextProperty{
			RichText: richText(strings.Join(report.Insights, "\n")),
		}
	}

	return props
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: s},
		},
	}
}
