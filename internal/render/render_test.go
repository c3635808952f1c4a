package render

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc() Document {
	return Document{
		TicketID:     uuid.New(),
		TicketNumber: "TCK-ORD-20250101-0001-001-1735689600000",
		SeatNumber:   "A1",
		OrderID:      uuid.New(),
		OrderNumber:  "ORD-20250101-0001",
		EventID:      uuid.New(),
		EventTitle:   "Jazz Night",
		Location:     "Hall A",
		StartsAt:     time.Date(2025, 2, 1, 19, 0, 0, 0, time.UTC),
		BuyerID:      "buyer-1",
	}
}

func TestRender_WritesFilesAndURLs(t *testing.T) {
	dir := t.TempDir()
	r, err := New(Config{Dir: dir, PublicURL: "http://localhost:8080/artifacts/"})
	require.NoError(t, err)

	doc := testDoc()
	a, err := r.Render(context.Background(), doc)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/artifacts/qrcodes/qr-"+doc.TicketID.String()+".png", a.QRCodeURL)
	assert.Equal(t, "http://localhost:8080/artifacts/tickets/ticket-"+doc.TicketID.String()+".pdf", a.PDFURL)

	png, err := os.ReadFile(filepath.Join(dir, "qrcodes", "qr-"+doc.TicketID.String()+".png"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	pdf, err := os.ReadFile(filepath.Join(dir, "tickets", "ticket-"+doc.TicketID.String()+".pdf"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	r.Remove(doc.TicketID)
	_, err = os.Stat(filepath.Join(dir, "tickets", "ticket-"+doc.TicketID.String()+".pdf"))
	assert.True(t, os.IsNotExist(err))
}

func TestRender_CancelledContext(t *testing.T) {
	r, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Render(ctx, testDoc())
	require.ErrorIs(t, err, context.Canceled)
}

func TestPDF_MissingFontFails(t *testing.T) {
	r, err := New(Config{Dir: t.TempDir(), FontPath: "/nonexistent/font.ttf"})
	require.NoError(t, err)

	_, err = r.Render(context.Background(), testDoc())
	require.Error(t, err)
}
