package submission

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/shiori/internal/asset"
	"github.com/zombor/shiori/internal/expense"
	"github.com/zombor/shiori/internal/media"
	"github.com/zombor/shiori/internal/trip"
)

const (
	// DocumentPart is the multipart field carrying the JSON document
	DocumentPart = "detailJson"
	// DocumentFilename is the filename given to the JSON document part
	DocumentFilename = "detail.json"
	// ImagePart is the multipart field carrying each photo
	ImagePart = "images"
)

// timeLayout is ISO 8601 in UTC with millisecond precision
const timeLayout = "2006-01-02T15:04:05.000Z"

// IDGenerator mints client identifiers
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator mints random UUIDs
type UUIDGenerator struct{}

// NewID returns a new random UUID
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Image describes one photo part inside the document
type Image struct {
	ClientID  string  `json:"clientId"`
	FileName  string  `json:"fileName"`
	PlaceName string  `json:"placeName"`
	DateTime  *string `json:"dateTime"`
}

// Trip is the trip section of the document
type Trip struct {
	Purpose   string          `json:"purpose"`
	Members   []trip.Member   `json:"members"`
	Hotels    []string        `json:"hotels"`
	StartDate *string         `json:"startDate"`
	EndDate   *string         `json:"endDate"`
	DayTrip   bool            `json:"dayTrip"`
	Allowance []expense.Entry `json:"allowance"`
}

// Document is the JSON part of a submission
type Document struct {
	Trip   Trip    `json:"trip"`
	Images []Image `json:"images"`
}

// Part is one binary part of a submission
type Part struct {
	TransportName string
	Blob          media.Blob
}

// Request is a fully assembled submission, ready to be encoded
type Request struct {
	Document Document
	Parts    []Part
}

// Assembler builds submission requests
type Assembler struct {
	ids IDGenerator
}

// NewAssembler creates an Assembler minting random UUIDs
func NewAssembler() *Assembler {
	return NewAssemblerWithDeps(UUIDGenerator{})
}

// NewAssemblerWithDeps creates an Assembler with a custom ID generator
func NewAssemblerWithDeps(ids IDGenerator) *Assembler {
	return &Assembler{ids: ids}
}

// Assemble packages assets, the expense ledger and trip fields into one
// request. Every call mints fresh client identifiers. No I/O is performed.
func (a *Assembler) Assemble(assets []asset.Asset, ledger []expense.Entry, fields trip.Fields) (*Request, error) {
	req := &Request{
		Document: Document{
			Trip: Trip{
				Purpose:   fields.Purpose,
				Members:   nonNil(fields.Members),
				Hotels:    nonNil(fields.Hotels),
				StartDate: formatTime(fields.StartDate),
				EndDate:   formatTime(fields.EndDate),
				DayTrip:   fields.DayTrip,
				Allowance: make([]expense.Entry, 0, len(ledger)),
			},
			Images: make([]Image, 0, len(assets)),
		},
		Parts: make([]Part, 0, len(assets)),
	}

	for _, e := range ledger {
		req.Document.Trip.Allowance = append(req.Document.Trip.Allowance, expense.Entry{
			Title: e.Title,
			Lines: append([]expense.Line(nil), e.Lines...),
		})
	}

	for i, as := range assets {
		if as.Blob == nil {
			return nil, fmt.Errorf("asset %d: %w", i, errNoBinary)
		}

		id := a.ids.NewID()
		name := as.Blob.Name()
		req.Document.Images = append(req.Document.Images, Image{
			ClientID:  id,
			FileName:  name,
			PlaceName: as.PlaceName,
			DateTime:  formatTime(as.CaptureTime),
		})
		req.Parts = append(req.Parts, Part{
			TransportName: id + "__" + name,
			Blob:          as.Blob,
		})
	}

	return req, nil
}

var errNoBinary = errors.New("asset has no binary")

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(timeLayout)
	return &s
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
