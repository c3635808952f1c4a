// Package render produces the QR image and PDF document of a ticket and
// stores them under an artifact directory served over HTTP.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/signintech/gopdf"
	"github.com/skip2/go-qrcode"
)

type Config struct {
	// Dir is the local directory artifacts are written to.
	Dir string
	// PublicURL prefixes the returned URLs, e.g. http://localhost:8080/artifacts.
	PublicURL string
	// FontPath is an optional TTF font. Without it the PDF carries only the QR code.
	FontPath string
	QRSize   int
}

// Document is everything printed on a ticket.
type Document struct {
	TicketID     uuid.UUID
	TicketNumber string
	SeatNumber   string
	OrderID      uuid.UUID
	OrderNumber  string
	EventID      uuid.UUID
	EventTitle   string
	Location     string
	StartsAt     time.Time
	BuyerID      string
}

// Artifacts are the public URLs of a rendered ticket.
type Artifacts struct {
	QRCodeURL string
	PDFURL    string
}

type Renderer struct {
	cfg Config
}

func New(cfg Config) (*Renderer, error) {
	const op = "render.New"

	if cfg.Dir == "" {
		cfg.Dir = "./artifacts"
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 300
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	for _, sub := range []string{"qrcodes", "tickets"} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
	}

	return &Renderer{cfg: cfg}, nil
}

type qrPayload struct {
	TicketID     uuid.UUID `json:"ticket_id"`
	TicketNumber string    `json:"ticket_number"`
	SeatNumber   string    `json:"seat_number"`
	OrderID      uuid.UUID `json:"order_id"`
	EventID      uuid.UUID `json:"event_id"`
	IssuedAt     time.Time `json:"issued_at"`
}

// QR encodes the ticket payload as a PNG.
func (r *Renderer) QR(doc Document) ([]byte, error) {
	data, err := json.Marshal(qrPayload{
		TicketID:     doc.TicketID,
		TicketNumber: doc.TicketNumber,
		SeatNumber:   doc.SeatNumber,
		OrderID:      doc.OrderID,
		EventID:      doc.EventID,
		IssuedAt:     time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	return qrcode.Encode(string(data), qrcode.High, r.cfg.QRSize)
}

// PDF lays out an A4 ticket with the given QR image.
func (r *Renderer) PDF(doc Document, qr []byte) ([]byte, error) {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	pdf.SetLineWidth(1)
	pdf.RectFromUpperLeft(30, 30, gopdf.PageSizeA4.W-60, 360)

	if r.cfg.FontPath != "" {
		if err := pdf.AddTTFFont("ticket", r.cfg.FontPath); err != nil {
			return nil, fmt.Errorf("load font: %w", err)
		}
		if err := writeText(pdf, doc); err != nil {
			return nil, err
		}
	}

	img, err := png.Decode(bytes.NewReader(qr))
	if err != nil {
		return nil, fmt.Errorf("decode qr: %w", err)
	}
	if err := pdf.ImageFrom(img, gopdf.PageSizeA4.W-230, 60, &gopdf.Rect{W: 180, H: 180}); err != nil {
		return nil, fmt.Errorf("draw qr: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Write(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}

	return buf.Bytes(), nil
}

func writeText(pdf *gopdf.GoPdf, doc Document) error {
	if err := pdf.SetFont("ticket", "", 22); err != nil {
		return err
	}
	pdf.SetXY(50, 60)
	if err := pdf.Cell(nil, "EVENT TICKET"); err != nil {
		return err
	}

	if err := pdf.SetFont("ticket", "", 12); err != nil {
		return err
	}
	pdf.SetXY(50, 100)

	lines := []struct{ label, value string }{
		{"Event", doc.EventTitle},
		{"Location", doc.Location},
		{"Starts", doc.StartsAt.Format("2006-01-02 15:04 MST")},
		{"Ticket", doc.TicketNumber},
		{"Seat", doc.SeatNumber},
		{"Order", doc.OrderNumber},
	}
	for _, l := range lines {
		pdf.SetX(50)
		if err := pdf.Cell(nil, l.label+": "+l.value); err != nil {
			return err
		}
		pdf.Br(20)
	}

	return nil
}

// Render writes the QR and PDF of doc and returns their public URLs.
//
// Parameters:
//   - ctx: checked before each write.
//   - doc: ticket to render.
//
// Returns:
//   - Artifacts: public URLs of both files.
//   - error: on encoding or filesystem failure; partial files are removed.
func (r *Renderer) Render(ctx context.Context, doc Document) (Artifacts, error) {
	const op = "render.Renderer.Render"

	qr, err := r.QR(doc)
	if err != nil {
		return Artifacts{}, fmt.Errorf("%s:%w", op, err)
	}

	pdfBytes, err := r.PDF(doc, qr)
	if err != nil {
		return Artifacts{}, fmt.Errorf("%s:%w", op, err)
	}

	qrName := filepath.Join("qrcodes", fmt.Sprintf("qr-%s.png", doc.TicketID))
	pdfName := filepath.Join("tickets", fmt.Sprintf("ticket-%s.pdf", doc.TicketID))

	if err := r.write(ctx, qrName, qr); err != nil {
		return Artifacts{}, fmt.Errorf("%s:%w", op, err)
	}
	if err := r.write(ctx, pdfName, pdfBytes); err != nil {
		_ = os.Remove(filepath.Join(r.cfg.Dir, qrName))
		return Artifacts{}, fmt.Errorf("%s:%w", op, err)
	}

	return Artifacts{
		QRCodeURL: r.url(qrName),
		PDFURL:    r.url(pdfName),
	}, nil
}

// Remove deletes the artifacts of a ticket, ignoring missing files.
func (r *Renderer) Remove(ticketID uuid.UUID) {
	_ = os.Remove(filepath.Join(r.cfg.Dir, "qrcodes", fmt.Sprintf("qr-%s.png", ticketID)))
	_ = os.Remove(filepath.Join(r.cfg.Dir, "tickets", fmt.Sprintf("ticket-%s.pdf", ticketID)))
}

func (r *Renderer) write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(r.cfg.Dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func (r *Renderer) url(name string) string {
	return r.cfg.PublicURL + "/" + filepath.ToSlash(name)
}

// Dir is the directory to serve at the artifact URL prefix.
func (r *Renderer) Dir() string {
	return r.cfg.Dir
}
